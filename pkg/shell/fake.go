package shell

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fly-io/layerstack/pkg/errors"
)

// ErrNoFake is returned by Fake when no registered fake matches a command.
var ErrNoFake = fmt.Errorf("no fake for command")

// Matcher decides whether a fake handles argv.
type Matcher func(argv []string) bool

// Responder produces the output of a faked command.
type Responder func(argv []string) (string, error)

// binDirs are searched when an absolute binary is matched against a bare command name.
var binDirs = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/local/bin", "/usr/local/sbin"}

type fake struct {
	match   Matcher
	respond Responder
}

// Fake is a Shell for tests. Fakes are tried in registration order; the first
// match answers.
type Fake struct {
	mu       sync.Mutex
	fakes    []fake
	commands [][]string
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Add registers a fake for every command accepted by match.
func (f *Fake) Add(match Matcher, respond Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fakes = append(f.fakes, fake{match: match, respond: respond})
}

// AddCommand registers a literal command with a fixed output.
func (f *Fake) AddCommand(argv []string, output string) {
	want := slices.Clone(argv)
	f.Add(func(got []string) bool { return slices.Equal(got, want) }, Output(output))
}

// AddBinary registers a fake for every invocation of binary. An absolute binary
// such as /sbin/lvs also matches a bare "lvs" when its directory is a standard
// bin directory.
func (f *Fake) AddBinary(binary string, respond Responder) {
	f.Add(func(argv []string) bool { return MatchesBinary(binary, argv) }, respond)
}

// Output returns a Responder with fixed output.
func Output(out string) Responder {
	return func([]string) (string, error) { return out, nil }
}

// Commands returns every command run so far, in order.
func (f *Fake) Commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// Ran reports whether argv was executed.
func (f *Fake) Ran(argv ...string) bool {
	return slices.ContainsFunc(f.Commands(), func(c []string) bool { return slices.Equal(c, argv) })
}

// Reset forgets the recorded commands but keeps the fakes.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
}

func (f *Fake) CheckCall(ctx context.Context, argv ...string) error {
	_, err := f.CheckOutput(ctx, argv...)
	return err
}

func (f *Fake) CheckOutput(_ context.Context, argv ...string) (string, error) {
	f.mu.Lock()
	var respond Responder
	for _, fk := range f.fakes {
		if fk.match(argv) {
			respond = fk.respond
			break
		}
	}
	if respond != nil {
		f.commands = append(f.commands, slices.Clone(argv))
	}
	f.mu.Unlock()

	line := strings.Join(argv, " ")
	if respond == nil {
		return "", errors.E(errors.KindCommandFailed, "exec", line, ErrNoFake)
	}

	out, err := respond(argv)
	if err != nil {
		return "", errors.E(errors.KindCommandFailed, "exec", line, err)
	}
	return out, nil
}

// MatchesBinary reports whether argv invokes binary.
func MatchesBinary(binary string, argv []string) bool {
	if len(argv) == 0 {
		return false
	}

	cmd := argv[0]
	absBinary := filepath.IsAbs(binary)
	absCommand := filepath.IsAbs(cmd)

	switch {
	case absBinary && absCommand:
		return binary == cmd
	case absBinary:
		dir, name := filepath.Split(binary)
		return slices.Contains(binDirs, filepath.Clean(dir)) && cmd == name
	case absCommand:
		// relative binaries are never resolved against a directory
		return false
	default:
		return binary == cmd
	}
}
