package ruletable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visa-checklist/internal/model"
)

// Source loads every rule set it holds, approved or not. The resolver
// filters and indexes the result.
type Source interface {
	LoadAll(ctx context.Context) ([]model.RuleSet, error)
}

// StaticSource serves a fixed list of rule sets.
type StaticSource []model.RuleSet

func (s StaticSource) LoadAll(context.Context) ([]model.RuleSet, error) {
	out := make([]model.RuleSet, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads YAML rule sets from a directory. A file may hold several
// rule sets separated by "---". Unknown keys are rejected.
type FileSource struct {
	Dir string
}

func (f FileSource) LoadAll(ctx context.Context) ([]model.RuleSet, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ruletable: read dir %s", f.Dir)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var sets []model.RuleSet
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ruletable: load files")
		}
		path := filepath.Join(f.Dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ruletable: read %s", path)
		}
		parsed, err := ParseYAML(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "ruletable: parse %s", path)
		}
		sets = append(sets, parsed...)
	}
	return sets, nil
}

// ParseYAML decodes one or more rule sets from a YAML stream.
func ParseYAML(raw []byte) ([]model.RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var sets []model.RuleSet
	for {
		var rs model.RuleSet
		err := dec.Decode(&rs)
		if errors.Is(err, io.EOF) {
			return sets, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "ruletable: decode yaml")
		}
		sets = append(sets, rs)
	}
}
