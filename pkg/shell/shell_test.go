package shell

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/layerstack/pkg/errors"
)

// TestFakeAddCommand verifies literal commands are answered and recorded
func TestFakeAddCommand(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.AddCommand([]string{"blockdev", "--getsize64", "/dev/sda"}, "1024\n")

	out, err := f.CheckOutput(ctx, "blockdev", "--getsize64", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "1024\n", out)

	_, err = f.CheckOutput(ctx, "blockdev", "--getsize64", "/dev/sdb")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFake)
	assert.ErrorIs(t, err, errors.ErrCommandFailed)

	want := [][]string{{"blockdev", "--getsize64", "/dev/sda"}}
	if diff := cmp.Diff(want, f.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

// TestFakeFirstMatchWins verifies registration order decides between overlapping fakes
func TestFakeFirstMatchWins(t *testing.T) {
	f := NewFake()
	f.AddBinary("file", Output("first"))
	f.AddBinary("file", Output("second"))

	out, err := f.CheckOutput(context.Background(), "file", "--special", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "first", out)
}

// TestFakeResponderError verifies responder failures surface as command failures
func TestFakeResponderError(t *testing.T) {
	f := NewFake()
	f.AddBinary("cryptsetup", func([]string) (string, error) {
		return "", fmt.Errorf("exit status 2")
	})

	err := f.CheckCall(context.Background(), "cryptsetup", "luksOpen", "/dev/sda", "sda")
	require.Error(t, err)
	assert.Equal(t, errors.KindCommandFailed, errors.KindOf(err))
	assert.True(t, f.Ran("cryptsetup", "luksOpen", "/dev/sda", "sda"))

	f.Reset()
	assert.Empty(t, f.Commands())
}

// TestMatchesBinary verifies absolute binaries match bare names from standard bin directories
func TestMatchesBinary(t *testing.T) {
	tests := []struct {
		binary string
		argv   []string
		want   bool
	}{
		{"lvs", []string{"lvs"}, true},
		{"/sbin/lvs", []string{"lvs", "--noheadings"}, true},
		{"/usr/sbin/lvs", []string{"/usr/sbin/lvs"}, true},
		{"/opt/bin/lvs", []string{"lvs"}, false},
		{"lvs", []string{"/sbin/lvs"}, false},
		{"/sbin/lvs", []string{"/usr/sbin/lvs"}, false},
		{"lvs", nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesBinary(tt.binary, tt.argv), "binary %q argv %v", tt.binary, tt.argv)
	}
}

// TestSystemRejectsEmptyCommand verifies the host shell validates argv before executing
func TestSystemRejectsEmptyCommand(t *testing.T) {
	_, err := NewSystem().CheckOutput(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
