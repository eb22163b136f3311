// Package cli implements the generic CLI composer from spec.md §4.5: a
// value that accumulates a command-prefix string across calls to Arg, then
// dispatches the assembled line through a Backend's ExecCommand. Grounded on
// original_source's pyrc/cliwrapper/cliwrapper.py (CLIWrapper), translated
// from Python's __getattr__ dynamic-attribute trick into an explicit Arg
// method — Go has no attribute-interception hook, so the fluent-chaining
// shape the teacher's configs package uses for flag-set builders is the
// closer idiom here.
package cli

import (
	"context"
	"strings"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/observer"
)

// Composer owns a backend, a working directory, and an accumulated prefix.
// Every Arg call returns a new Composer; the receiver is never mutated, per
// spec.md §4.5's immutability requirement (testable property 7).
type Composer struct {
	backend backend.Backend
	prefix  string
	workdir string
}

// New returns a Composer with the given initial prefix, bound to b and
// running with working directory workdir ("" meaning backend-default).
func New(b backend.Backend, prefix, workdir string) *Composer {
	return &Composer{backend: b, prefix: prefix, workdir: workdir}
}

// Arg returns a new Composer with token appended to the prefix, separated by
// a single space. Calling Composer("foo").Arg("bar") yields prefix "foo bar".
func (c *Composer) Arg(token string) *Composer {
	return &Composer{
		backend: c.backend,
		prefix:  joinPrefix(c.prefix, token),
		workdir: c.workdir,
	}
}

func joinPrefix(prefix, token string) string {
	if prefix == "" {
		return token
	}
	if token == "" {
		return prefix
	}
	return prefix + " " + token
}

// Backend returns the composer's bound backend.
func (c *Composer) Backend() backend.Backend { return c.backend }

// Prefix returns the composer's current accumulated prefix.
func (c *Composer) Prefix() string { return c.prefix }

// Workdir returns the composer's working directory.
func (c *Composer) Workdir() string { return c.workdir }

// Assemble implements spec.md §4.5's assembly rule table: "" + "" is a no-op
// (returns ok=false), P+"" is P, ""+C is C, and P+C is "P C".
func Assemble(prefix, cmd string) (assembled string, ok bool) {
	switch {
	case prefix == "" && cmd == "":
		return "", false
	case cmd == "":
		return prefix, true
	case prefix == "":
		return cmd, true
	default:
		return prefix + " " + cmd, true
	}
}

// Call executes "{prefix} {cmd}" (per Assemble) against the bound backend. A
// nil obs defaults to observer.NewStore(). If both prefix and cmd are empty,
// Call is a no-op and returns zero values.
func (c *Composer) Call(ctx context.Context, cmd string, env map[string]string, obs observer.Observer) (stdout, stderr []string, exitStatus int, err error) {
	assembled, ok := Assemble(c.prefix, cmd)
	if !ok {
		return nil, nil, 0, nil
	}
	if obs == nil {
		obs = observer.NewStore()
	}
	return c.backend.ExecCommand(ctx, assembled, c.workdir, env, obs)
}

// String returns the composer's current prefix, trimmed of surrounding
// whitespace, mostly useful for tests and logging.
func (c *Composer) String() string {
	return strings.TrimSpace(c.prefix)
}
