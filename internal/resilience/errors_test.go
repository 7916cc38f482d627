package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

// opaque wraps without formatting the inner error, which for API errors
// needs a populated request.
type opaque struct{ err error }

func (o opaque) Error() string { return "opaque" }
func (o opaque) Unwrap() error { return o.err }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid request"), false},
		{"explicit", NewTransientError(errors.New("x"), 0), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("x"), 503), "call"), true},
		{"api 529", &sdk.Error{StatusCode: 529}, true},
		{"api 429 wrapped", opaque{&sdk.Error{StatusCode: http.StatusTooManyRequests}}, true},
		{"api 400", &sdk.Error{StatusCode: http.StatusBadRequest}, false},
		{"api 401", &sdk.Error{StatusCode: http.StatusUnauthorized}, false},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"circuit open", ErrCircuitOpen, false},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"overloaded message", errors.New("Overloaded, try again"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []int{408, 409, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(s), "status %d", s)
	}
	for _, s := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(s), "status %d", s)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("base")
	te := NewTransientError(base, 503)
	assert.ErrorIs(t, te, base)
	assert.Equal(t, "base", te.Error())
	assert.Equal(t, 503, te.StatusCode)
}
