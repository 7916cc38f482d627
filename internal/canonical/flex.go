package canonical

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Upstream records are produced by several clients and carry numbers as
// strings, booleans as "yes"/"no", and nulls. The Flex types accept all of
// these and expose a nil pointer for anything absent or blank.

// FlexFloat decodes a JSON number, numeric string or null.
type FlexFloat struct{ v *float64 }

// Float returns a set FlexFloat.
func Float(v float64) FlexFloat { return FlexFloat{v: &v} }

// Ptr returns the decoded value, nil when absent.
func (f FlexFloat) Ptr() *float64 { return f.v }

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s, null, err := scalar(b)
	if err != nil || null {
		f.v = nil
		return err
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		// Unparseable values are treated as absent, not as a decode failure.
		f.v = nil
		return nil
	}
	f.v = &v
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if f.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.v)
}

// FlexInt decodes an integral JSON number, numeric string or null.
type FlexInt struct{ v *int }

// Int returns a set FlexInt.
func Int(v int) FlexInt { return FlexInt{v: &v} }

// Ptr returns the decoded value, nil when absent.
func (f FlexInt) Ptr() *int { return f.v }

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var ff FlexFloat
	if err := ff.UnmarshalJSON(b); err != nil {
		return err
	}
	if ff.v == nil {
		f.v = nil
		return nil
	}
	v := int(math.Round(*ff.v))
	f.v = &v
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if f.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.v)
}

// FlexBool decodes true/false, 0/1, yes/no (en, ru, uz) or null.
type FlexBool struct{ v *bool }

// Bool returns a set FlexBool.
func Bool(v bool) FlexBool { return FlexBool{v: &v} }

// Ptr returns the decoded value, nil when absent.
func (f FlexBool) Ptr() *bool { return f.v }

var (
	truthy = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "да": true, "ha": true}
	falsy  = map[string]bool{"false": true, "no": true, "n": true, "0": true, "нет": true, "yo'q": true, "yoq": true}
)

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	s, null, err := scalar(b)
	if err != nil || null {
		f.v = nil
		return err
	}
	s = strings.ToLower(s)
	switch {
	case truthy[s]:
		v := true
		f.v = &v
	case falsy[s]:
		v := false
		f.v = &v
	default:
		f.v = nil
	}
	return nil
}

func (f FlexBool) MarshalJSON() ([]byte, error) {
	if f.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.v)
}

// scalar returns the trimmed text of a JSON scalar. Objects and arrays are
// rejected.
func scalar(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", true, nil
	}
	switch b[0] {
	case '{', '[':
		return "", false, eris.Errorf("canonical: expected scalar, got %s", string(b[:1]))
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", false, eris.Wrap(err, "canonical: decode string")
		}
		s = strings.TrimSpace(s)
		return s, s == "", nil
	default:
		return string(b), false, nil
	}
}
