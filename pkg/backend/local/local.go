// Package local implements pkg/backend.Backend by talking directly to the
// local operating system: direct syscalls for predicates and mutators, a
// spawned subprocess for ExecCommand. Grounded on the teacher's
// pkg/utils/os.go (RunShellCommandNoSudo/Sudo) and buildcontext's direct
// os.* filesystem calls, generalized to the full Backend contract.
package local

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/flux"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Backend is the Local backend variant from spec.md §4.1.
type Backend struct {
	logger hclog.Logger
	osType fspath.OSType
	env    *backend.EnvCache
	open   bool
}

// New returns a Local backend. The OS type is probed once from the running
// process's runtime.GOOS, per spec.md §3's "derived at construction via a
// platform() probe" invariant.
func New(logger hclog.Logger) *Backend {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backend{
		logger: logger.Named("backend.local"),
		osType: osTypeFromGOOS(runtime.GOOS),
		env:    backend.NewEnvCache(),
	}
}

func osTypeFromGOOS(goos string) fspath.OSType {
	switch goos {
	case "linux":
		return fspath.Linux
	case "darwin":
		return fspath.MacOS
	case "windows":
		return fspath.Windows
	default:
		return fspath.Unknown
	}
}

// OSType implements backend.Backend.
func (b *Backend) OSType() fspath.OSType { return b.osType }

// IsRemote implements backend.Backend: the Local backend is never remote.
func (b *Backend) IsRemote() bool { return false }

// IsOpen implements backend.Backend.
func (b *Backend) IsOpen() bool { return b.open }

// Open implements backend.Backend. The Local backend needs no external
// resource, so Open just flips the ready flag.
func (b *Backend) Open(ctx context.Context) error {
	b.open = true
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.open = false
	return nil
}

// Platform implements backend.Backend.
func (b *Backend) Platform() (backend.Platform, error) {
	return backend.Platform{System: capitalize(runtime.GOOS), Release: runtime.GOARCH}, nil
}

func capitalize(s string) string {
	switch s {
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return s
	}
}

func (b *Backend) requireOpen() error {
	if !b.open {
		return ferrors.ErrNotConnected
	}
	return nil
}

// ExecCommand implements backend.Backend. Shell mode is required whenever
// cmd contains shell metacharacters, so we always route through /bin/sh -c
// (or cmd /C on Windows) the way teacher's pkg/utils.runShellCommand does,
// rather than attempting to split cmd into argv ourselves.
func (b *Backend) ExecCommand(ctx context.Context, cmdline, cwd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	if err := b.requireOpen(); err != nil {
		return nil, nil, 0, err
	}
	if obs == nil {
		obs = observer.NewStore()
	}

	shellBin, shellArg := "/bin/sh", "-c"
	if b.osType == fspath.Windows {
		shellBin, shellArg = "cmd", "/C"
	}

	cmd := exec.CommandContext(ctx, shellBin, shellArg, cmdline)
	if cwd != "" {
		cmd.Dir = cwd
	}

	// Empty overlay inherits the parent environment; a non-empty overlay
	// inherits the backend's cached environment merged with the caller's
	// overlay (spec.md §4.1 Local variant semantics).
	if len(env) > 0 {
		merged := backend.MergeOverlay(b.env.Snapshot(), env)
		cmd.Env = os.Environ()
		for k, v := range merged {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "failed opening stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "failed opening stderr pipe")
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "failed opening stdin pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, 0, errors.Wrapf(err, "failed starting command %q", cmdline)
	}

	stdoutFlux := flux.FromReader(stdoutPipe)
	stderrFlux := flux.FromReader(stderrPipe)

	obs.Begin(cmdline, cwd, stdinPipe, stdoutFlux, stderrFlux)
	stdin := stdinPipe
	_ = stdin.Close() // no interactive stdin support (spec.md Non-goals: no PTY/TTY)

	outLines, errLines, _ := obs.End()

	waitErr := cmd.Wait()
	exitStatus := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitStatus = exitErr.ExitCode()
		} else {
			return outLines, errLines, 1, errors.Wrapf(waitErr, "failed waiting for command %q", cmdline)
		}
	}

	return outLines, errLines, exitStatus, nil
}

// Env implements backend.Backend.
func (b *Backend) Env(ctx context.Context, name string) (string, error) {
	if v, ok := b.env.Get(name); ok {
		return v, nil
	}
	v := os.Getenv(name)
	b.env.Put(name, v)
	return v, nil
}

// LoadAllEnv implements backend.Backend.
func (b *Backend) LoadAllEnv(ctx context.Context) (map[string]string, error) {
	all := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			all[parts[0]] = parts[1]
		}
	}
	b.env.LoadAll(all)
	return b.env.Snapshot(), nil
}

// IsFile implements backend.Backend.
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat failed for %q", path)
	}
	return info.Mode().IsRegular(), nil
}

// IsDir implements backend.Backend.
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat failed for %q", path)
	}
	return info.IsDir(), nil
}

// IsLink implements backend.Backend.
func (b *Backend) IsLink(ctx context.Context, path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "lstat failed for %q", path)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// IsExe implements backend.Backend.
func (b *Backend) IsExe(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "stat failed for %q", path)
	}
	if b.osType == fspath.Windows {
		return !info.IsDir(), nil
	}
	return !info.IsDir() && info.Mode()&0111 != 0, nil
}

// GetSize implements backend.Backend.
func (b *Backend) GetSize(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return -1, nil
	}
	return info.Size(), nil
}

// Mkdir implements backend.Backend.
func (b *Backend) Mkdir(ctx context.Context, path string, parents, existOK bool) error {
	isDir, _ := b.IsDir(ctx, path)
	if isDir {
		if existOK {
			return nil
		}
		return errors.Wrapf(ferrors.ErrAlreadyExists, "mkdir %q", path)
	}
	if parents {
		if err := os.MkdirAll(path, 0755); err != nil {
			return errors.Wrapf(err, "mkdir -p %q", path)
		}
		return nil
	}
	parentDir := filepath.Dir(path)
	if ok, _ := b.IsDir(ctx, parentDir); !ok {
		return errors.Wrapf(ferrors.ErrNotFound, "parent directory %q", parentDir)
	}
	if err := os.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			if existOK {
				return nil
			}
			return errors.Wrapf(ferrors.ErrAlreadyExists, "mkdir %q", path)
		}
		return errors.Wrapf(err, "mkdir %q", path)
	}
	return nil
}

// Rmdir implements backend.Backend.
func (b *Backend) Rmdir(ctx context.Context, path string, recursive bool) error {
	if ok, _ := b.IsDir(ctx, path); !ok {
		return errors.Wrapf(ferrors.ErrNotFound, "rmdir %q", path)
	}
	if recursive {
		return errors.Wrapf(os.RemoveAll(path), "rmdir -r %q", path)
	}
	return errors.Wrapf(os.Remove(path), "rmdir %q", path)
}

// Unlink implements backend.Backend.
func (b *Backend) Unlink(ctx context.Context, path string, missingOK bool) error {
	if ok, _ := b.IsFile(ctx, path); !ok {
		if missingOK {
			return nil
		}
		return errors.Wrapf(ferrors.ErrNotFound, "unlink %q", path)
	}
	return errors.Wrapf(os.Remove(path), "unlink %q", path)
}

// Touch implements backend.Backend.
func (b *Backend) Touch(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "touch %q", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "touch %q", path)
	}
	now := time.Now()
	return errors.Wrapf(os.Chtimes(path, now, now), "touch %q", path)
}

// Ls implements backend.Backend.
func (b *Backend) Ls(ctx context.Context, path string) ([]string, error) {
	entries, err := ioutil.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "ls %q", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Walk0 implements backend.Backend and tree.Walker.
func (b *Backend) Walk0(path string) (dirnames, filenames []string, err error) {
	entries, err := ioutil.ReadDir(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "walk0 %q", path)
	}
	for _, e := range entries {
		if e.IsDir() {
			dirnames = append(dirnames, e.Name())
		} else {
			filenames = append(filenames, e.Name())
		}
	}
	return dirnames, filenames, nil
}

// Lsdir implements backend.Backend.
func (b *Backend) Lsdir(ctx context.Context, path string) (*tree.Tree, error) {
	return tree.Get(backend.AsWalker(ctx, b), path)
}

// Zip implements backend.Backend. A directory's contents (not the directory
// name) become the archive root, per spec.md §6.
func (b *Backend) Zip(ctx context.Context, path, archivePath string) (string, error) {
	isDir, _ := b.IsDir(ctx, path)

	if archivePath == "" {
		if isDir {
			archivePath = path + ".zip"
		} else {
			archivePath = fspath.WithExt(b.osType, path, ".zip")
		}
	}
	if fspath.Ext(b.osType, archivePath) != ".zip" {
		return "", errors.Wrapf(ferrors.ErrInvalidArchive, "archive path %q", archivePath)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return "", errors.Wrapf(err, "create archive %q", archivePath)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	if isDir {
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			return addFileToZip(zw, p, filepath.ToSlash(rel))
		})
		if err != nil {
			return "", errors.Wrapf(err, "zip directory %q", path)
		}
	} else {
		if err := addFileToZip(zw, path, filepath.Base(path)); err != nil {
			return "", errors.Wrapf(err, "zip file %q", path)
		}
	}

	return archivePath, nil
}

func addFileToZip(zw *zip.Writer, sourcePath, archiveName string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.Create(archiveName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Unzip implements backend.Backend.
func (b *Backend) Unzip(ctx context.Context, archivePath, toPath string) (string, error) {
	if fspath.Ext(b.osType, archivePath) != ".zip" {
		return "", errors.Wrapf(ferrors.ErrInvalidArchive, "archive path %q", archivePath)
	}
	if toPath == "" {
		toPath = strings.TrimSuffix(archivePath, ".zip")
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", errors.Wrapf(err, "open archive %q", archivePath)
	}
	defer r.Close()

	if err := os.MkdirAll(toPath, 0755); err != nil {
		return "", errors.Wrapf(err, "mkdir destination %q", toPath)
	}

	for _, f := range r.File {
		destPath := filepath.Join(toPath, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return "", err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return "", err
		}
		if err := extractZipFile(f, destPath); err != nil {
			return "", errors.Wrapf(err, "extract %q", f.Name)
		}
	}

	return toPath, nil
}

func extractZipFile(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// Abspath implements backend.Backend.
func (b *Backend) Abspath(ctx context.Context, path string) (string, error) {
	if err := b.requireOpen(); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "abspath %q", path)
	}
	return abs, nil
}

// Realpath implements backend.Backend.
func (b *Backend) Realpath(ctx context.Context, path string) (string, error) {
	if err := b.requireOpen(); err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.Wrapf(err, "realpath %q", path)
	}
	return real, nil
}

