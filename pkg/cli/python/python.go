// Package python specializes pkg/cli's composer with virtual-env detection,
// per spec.md §4.5's "A python composer specializes...". Grounded on
// original_source's pyrc/cliwrapper/python.py: on construction it probes the
// interpreter's base_prefix/prefix pair; a mismatch indicates a virtualenv,
// whose activation script is sourced ahead of every subsequent invocation.
package python

import (
	"context"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/cli"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/pkg/errors"
)

const basePrefixProbe = `import sys; print(getattr(sys, 'base_prefix', None) or getattr(sys, 'real_prefix', None) or sys.prefix)`
const prefixProbe = `import sys; print(sys.prefix)`

// Composer wraps a Python executable: Call runs "{venvSource &&} exe cmd".
type Composer struct {
	backend backend.Backend
	exe     string
	workdir string
	venv    string // "" means no virtualenv detected
}

// New returns a Composer bound to pyexe, probing it for a virtual
// environment. pyexe must already be an executable path on b (spec.md §4.5).
func New(ctx context.Context, b backend.Backend, pyexe, workdir string) (*Composer, error) {
	isExe, err := b.IsExe(ctx, pyexe)
	if err != nil {
		return nil, errors.Wrapf(err, "checking executable bit on %q", pyexe)
	}
	if !isExe {
		return nil, errors.Errorf("python exe %q is not a valid executable path", pyexe)
	}

	c := &Composer{backend: b, exe: pyexe, workdir: workdir}

	base, err := c.runProbe(ctx, basePrefixProbe)
	if err != nil {
		return nil, errors.Wrap(err, "probing base_prefix")
	}
	real, err := c.runProbe(ctx, prefixProbe)
	if err != nil {
		return nil, errors.Wrap(err, "probing sys.prefix")
	}
	if base != real {
		c.venv = real
	}
	return c, nil
}

func (c *Composer) runProbe(ctx context.Context, pySrc string) (string, error) {
	raw := cli.New(c.backend, c.exe, c.workdir)
	out, _, _, err := raw.Call(ctx, `-c "`+pySrc+`"`, nil, observer.NewErrorRaise())
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", errors.New("interpreter probe produced no output")
	}
	return out[0], nil
}

// IsVenv reports whether construction detected a virtual environment.
func (c *Composer) IsVenv() bool { return c.venv != "" }

// Venv returns the detected virtualenv's prefix path, or "" if none.
func (c *Composer) Venv() string { return c.venv }

func (c *Composer) sourceCmd() string {
	if c.venv == "" {
		return ""
	}
	var activate string
	if c.backend.OSType().IsUnix() {
		activate = fspath.Join(c.backend.OSType(), c.venv, "bin", "activate")
	} else {
		activate = fspath.Join(c.backend.OSType(), c.venv, "Scripts", "activate")
	}
	return "source " + activate + " &&"
}

// Call runs cmd with the python executable: "{venvSource &&} exe cmd".
func (c *Composer) Call(ctx context.Context, cmd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	full := joinNonEmpty(c.sourceCmd(), c.exe+" "+cmd)
	raw := cli.New(c.backend, full, c.workdir)
	return raw.Call(ctx, "", env, obs)
}

// WithVenv runs cmd directly (not through the python executable) with the
// virtual env sourced first, if one was detected. Mirrors python.py's
// with_venv, used to invoke companion tools installed into the venv (e.g.
// pip) without going through the interpreter itself.
func (c *Composer) WithVenv(ctx context.Context, cmd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	full := joinNonEmpty(c.sourceCmd(), cmd)
	raw := cli.New(c.backend, full, c.workdir)
	return raw.Call(ctx, "", env, obs)
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
