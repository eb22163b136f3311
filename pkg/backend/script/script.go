// Package script implements the Script-capture backend variant: every
// ExecCommand appends to an output script file rather than executing
// anything, and filesystem predicates return artificial "truthy" answers
// so that composed client code doesn't short-circuit (spec.md §4.1, §4.6,
// §9 "Script-capture fake-truth"). Grounded on the original_source
// ScriptGenerator (docker/dockerscript.py / docker/dockerfile.py), adapted
// from a Dockerfile-only generator into a general-purpose shell-script
// sink satisfying the full Backend contract.
package script

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/pkg/errors"
)

// Mode selects whether Open truncates or appends to the output script.
type Mode int

const (
	// Write truncates the output file on Open.
	Write Mode = iota
	// Append opens the output file for appending, preserving prior content.
	Append
)

// Config configures a script-capture Backend (spec.md §6 "Script"
// configuration options).
type Config struct {
	OutputPath string
	Mode       Mode
	OSType     fspath.OSType
}

// Backend is the Script-capture variant from spec.md §4.1/§4.6.
type Backend struct {
	cfg    Config
	file   *os.File
	writer *bufio.Writer
	open   bool

	lastExportedEnv map[string]string
}

// New returns a Script backend writing to cfg.OutputPath once Open is called.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// OSType implements backend.Backend.
func (b *Backend) OSType() fspath.OSType { return b.cfg.OSType }

// IsRemote implements backend.Backend: script capture has no notion of
// remoteness; it never talks to any real system.
func (b *Backend) IsRemote() bool { return false }

// IsOpen implements backend.Backend.
func (b *Backend) IsOpen() bool { return b.open }

// Open implements backend.Backend, opening the backing script file for
// write or append per Config.Mode.
func (b *Backend) Open(ctx context.Context) error {
	flags := os.O_CREATE | os.O_WRONLY
	if b.cfg.Mode == Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(b.cfg.OutputPath, flags, 0755)
	if err != nil {
		return errors.Wrapf(err, "failed opening script output %q", b.cfg.OutputPath)
	}
	b.file = f
	b.writer = bufio.NewWriter(f)
	b.open = true
	return nil
}

// Close implements backend.Backend, flushing and closing the output file.
func (b *Backend) Close() error {
	if !b.open {
		return nil
	}
	if err := b.writer.Flush(); err != nil {
		return err
	}
	b.open = false
	return b.file.Close()
}

// Platform implements backend.Backend.
func (b *Backend) Platform() (backend.Platform, error) {
	return backend.Platform{System: b.cfg.OSType.String(), Release: "script"}, nil
}

func (b *Backend) write(line string) error {
	if !b.open {
		return ferrors.ErrNotConnected
	}
	_, err := fmt.Fprintln(b.writer, line)
	if err != nil {
		return err
	}
	return b.writer.Flush()
}

// ExecCommand implements backend.Backend. It never runs cmd: it appends
// "cd CWD" (when cwd is non-empty) then cmd to the script and returns
// (["ok"], [], 0), the fixed successful contract from spec.md §4.1, so
// client code composing `if fs.isdir(x): fs.rmdir(x)` style chains sees
// everything succeed. The observer is bypassed: Begin/End are invoked with
// nil streams, matching spec.md §4.1's "Observer is bypassed" note.
func (b *Backend) ExecCommand(ctx context.Context, cmd, cwd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	if !b.open {
		return nil, nil, 0, ferrors.ErrNotConnected
	}
	if obs != nil {
		obs.Begin(cmd, cwd, nil, nil, nil)
	}

	if err := b.Export(env); err != nil {
		return nil, nil, 0, err
	}
	if cwd != "" {
		if err := b.write(fmt.Sprintf("cd %s", cwd)); err != nil {
			return nil, nil, 0, err
		}
	}
	if cmd != "" {
		if err := b.write(cmd); err != nil {
			return nil, nil, 0, err
		}
	}

	if obs != nil {
		obs.End()
	}
	return []string{"ok"}, nil, 0, nil
}

// Export writes "export KEY=VALUE" lines for env. Re-exporting the same map
// in consecutive calls is elided by tracking the last emitted map, per
// spec.md §4.6.
func (b *Backend) Export(env map[string]string) error {
	if len(env) == 0 {
		return nil
	}
	if reflect.DeepEqual(env, b.lastExportedEnv) {
		return nil
	}
	for _, k := range sortedKeys(env) {
		if err := b.write(fmt.Sprintf("export %s=%s", k, env[k])); err != nil {
			return err
		}
	}
	b.lastExportedEnv = env
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Env implements backend.Backend; the script backend has no real
// environment to read, so it always returns "" (truthy-enough for
// composition, per the fake-truth design note).
func (b *Backend) Env(ctx context.Context, name string) (string, error) {
	return "", nil
}

// LoadAllEnv implements backend.Backend.
func (b *Backend) LoadAllEnv(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

// IsFile implements backend.Backend: always true (fake-truth contract).
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) { return true, nil }

// IsDir implements backend.Backend: always true (fake-truth contract).
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) { return true, nil }

// IsLink implements backend.Backend: always false; links aren't meaningful
// for a script that hasn't run yet.
func (b *Backend) IsLink(ctx context.Context, path string) (bool, error) { return false, nil }

// IsExe implements backend.Backend: always true (fake-truth contract).
func (b *Backend) IsExe(ctx context.Context, path string) (bool, error) { return true, nil }

// GetSize implements backend.Backend: undefined for a script backend.
func (b *Backend) GetSize(ctx context.Context, path string) (int64, error) { return -1, nil }

// Mkdir implements backend.Backend by emitting "mkdir -p path" or
// "mkdir path" depending on parents.
func (b *Backend) Mkdir(ctx context.Context, path string, parents, existOK bool) error {
	if parents {
		return b.write(fmt.Sprintf("mkdir -p %s", path))
	}
	return b.write(fmt.Sprintf("mkdir %s", path))
}

// Rmdir implements backend.Backend by emitting "rm -rf path" or
// "rmdir path".
func (b *Backend) Rmdir(ctx context.Context, path string, recursive bool) error {
	if recursive {
		return b.write(fmt.Sprintf("rm -rf %s", path))
	}
	return b.write(fmt.Sprintf("rmdir %s", path))
}

// Unlink implements backend.Backend by emitting "rm -f path".
func (b *Backend) Unlink(ctx context.Context, path string, missingOK bool) error {
	return b.write(fmt.Sprintf("rm -f %s", path))
}

// Touch implements backend.Backend by emitting "touch path".
func (b *Backend) Touch(ctx context.Context, path string) error {
	return b.write(fmt.Sprintf("touch %s", path))
}

// Ls implements backend.Backend: a script has no real listing to offer.
func (b *Backend) Ls(ctx context.Context, path string) ([]string, error) {
	return nil, nil
}

// Walk0 implements backend.Backend / tree.Walker: nothing to walk.
func (b *Backend) Walk0(path string) ([]string, []string, error) {
	return nil, nil, nil
}

// Lsdir implements backend.Backend.
func (b *Backend) Lsdir(ctx context.Context, path string) (*tree.Tree, error) {
	return tree.Get(backend.AsWalker(ctx, b), path)
}

// Zip implements backend.Backend by emitting "zip -r archive path".
func (b *Backend) Zip(ctx context.Context, path, archivePath string) (string, error) {
	if archivePath == "" {
		archivePath = path + ".zip"
	}
	return archivePath, b.write(fmt.Sprintf("zip -r %s %s", archivePath, path))
}

// Unzip implements backend.Backend by emitting "unzip archive -d toPath".
func (b *Backend) Unzip(ctx context.Context, archivePath, toPath string) (string, error) {
	if fspath.Ext(b.cfg.OSType, archivePath) != ".zip" {
		return "", ferrors.ErrInvalidArchive
	}
	return toPath, b.write(fmt.Sprintf("unzip %s -d %s", archivePath, toPath))
}

// Abspath implements backend.Backend: a script sink has no real cwd to
// resolve against, so it returns path unchanged.
func (b *Backend) Abspath(ctx context.Context, path string) (string, error) {
	if !b.open {
		return "", ferrors.ErrNotConnected
	}
	return path, nil
}

// Realpath implements backend.Backend, identical to Abspath here.
func (b *Backend) Realpath(ctx context.Context, path string) (string, error) {
	return b.Abspath(ctx, path)
}
