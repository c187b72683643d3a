package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIsMatchesByKind verifies that sentinels match through wrapping
func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(New(KindNotReady, "path", "/dev/mapper/x", "layer is closed"), "stack")

	assert.True(t, Is(err, ErrNotReady))
	assert.False(t, Is(err, ErrAlreadyOpen))
	assert.Equal(t, KindNotReady, KindOf(err))
}

// TestAlreadyClosedIsAlreadyOpen verifies double release is reported as an already-open condition
func TestAlreadyClosedIsAlreadyOpen(t *testing.T) {
	err := New(KindAlreadyClosed, "close", "/dev/mapper/x", "not open")

	assert.True(t, Is(err, ErrAlreadyOpen))
	assert.True(t, Is(err, ErrAlreadyClosed))

	open := New(KindAlreadyOpen, "open", "/dev/mapper/x", "opened twice")
	assert.False(t, Is(open, ErrAlreadyClosed))
}

// TestIsFatal verifies only invariant violations are fatal
func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{New(KindInvariant, "overhead", "/dev/sda", "negative"), true},
		{fmt.Errorf("outer: %w", New(KindInvariant, "", "", "x")), true},
		{New(KindWrongSize, "resize", "", "x"), false},
		{fmt.Errorf("plain"), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.fatal, IsFatal(tt.err), "error: %v", tt.err)
	}
}

// TestErrorMessage verifies the rendered message carries op, subject and cause
func TestErrorMessage(t *testing.T) {
	err := E(KindCommandFailed, "check_call", "blockdev --getsize64 /dev/sdz", fmt.Errorf("exit status 1"))

	require.Error(t, err)
	assert.Equal(t, "check_call: blockdev --getsize64 /dev/sdz: command failed: exit status 1", err.Error())
	assert.Nil(t, E(KindCommandFailed, "x", "y", nil))
	assert.Nil(t, Wrap(nil, "context"))
}
