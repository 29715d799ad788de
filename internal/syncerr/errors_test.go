package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "protocol", err: Protocolf("bad message"), want: true},
		{name: "transport", err: Transport("read", errors.New("eof")), want: true},
		{name: "non-fatal handler", err: Handler("merge", errors.New("disk"), false), want: false},
		{name: "fatal handler", err: Handler("merge", errors.New("disk"), true), want: true},
		{name: "illegal state", err: IllegalState("send"), want: true},
		{name: "wrapped non-fatal", err: fmt.Errorf("outer: %w", Handler("x", errors.New("y"), false)), want: false},
		{name: "foreign error", err: errors.New("boom"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestError_UnwrapAndKind(t *testing.T) {
	err := IllegalState("send BatchAck")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, KindIllegalState, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "send BatchAck")
}
