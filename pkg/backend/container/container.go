// Package container implements the Container backend variant: command
// execution through the Docker Engine exec API, demultiplexed with
// docker/pkg/stdcopy, and file operations through docker cp plus shell
// predicates run via the same exec path (spec.md §4.1). Grounded on the
// teacher's pkg/containers/docker.go exec-creation pattern, adapted from a
// single hijacked TTY stream into the non-TTY AttachStdout/AttachStderr
// shape stdcopy expects, since spec.md §4.2's Scrapper policy needs
// independently drainable stdout/stderr flux adapters.
package container

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/flux"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/docker/docker/api/types"
	docker "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Config configures a Container backend (spec.md §6 "Container"
// configuration options).
type Config struct {
	ContainerID string
	OSType      fspath.OSType
}

// Backend is the Container variant from spec.md §4.1.
type Backend struct {
	cfg    Config
	logger hclog.Logger
	env    *backend.EnvCache

	client *docker.Client
	open   bool
}

// New returns a Container backend bound to cfg.ContainerID, which must
// already exist and be running.
func New(logger hclog.Logger, cfg Config) *Backend {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backend{
		cfg:    cfg,
		logger: logger.Named("backend.container").With("container-id", cfg.ContainerID),
		env:    backend.NewEnvCache(),
	}
}

// OSType implements backend.Backend.
func (b *Backend) OSType() fspath.OSType { return b.cfg.OSType }

// IsRemote implements backend.Backend: a container is always a separate
// filesystem/process namespace from the caller.
func (b *Backend) IsRemote() bool { return true }

// IsOpen implements backend.Backend.
func (b *Backend) IsOpen() bool { return b.open }

// Open implements backend.Backend: dials the local Docker daemon (exactly
// teacher's containers.GetDefaultClient) and confirms the target container
// is running.
func (b *Backend) Open(ctx context.Context) error {
	cli, err := docker.NewEnvClient()
	if err != nil {
		return errors.Wrap(err, "failed constructing Docker client")
	}
	inspect, err := cli.ContainerInspect(ctx, b.cfg.ContainerID)
	if err != nil {
		return errors.Wrapf(ferrors.ErrNotFound, "container %q: %v", b.cfg.ContainerID, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return errors.Errorf("container %q is not running", b.cfg.ContainerID)
	}
	b.client = cli
	b.open = true
	return nil
}

// Close implements backend.Backend: the Docker client has no per-backend
// session to tear down beyond its own HTTP transport.
func (b *Backend) Close() error {
	b.open = false
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *Backend) requireOpen() error {
	if !b.open {
		return ferrors.ErrNotConnected
	}
	return nil
}

// Platform implements backend.Backend.
func (b *Backend) Platform() (backend.Platform, error) {
	if err := b.requireOpen(); err != nil {
		return backend.Platform{}, err
	}
	inspect, err := b.client.ContainerInspect(context.Background(), b.cfg.ContainerID)
	if err != nil {
		return backend.Platform{System: "Unknown"}, nil
	}
	return backend.Platform{System: inspect.Platform, Release: inspect.Image}, nil
}

// demuxTracker mirrors sshfs's exitTracker: the exec's real exit code is
// only safe to query once the demux goroutine has exhausted both pipes.
type demuxTracker struct {
	inspect   func() (int, error)
	remaining int
	status    int
	done      chan struct{}
}

func newDemuxTracker(inspect func() (int, error)) *demuxTracker {
	return &demuxTracker{inspect: inspect, remaining: 2, done: make(chan struct{})}
}

func (t *demuxTracker) streamDone() {
	t.remaining--
	if t.remaining == 0 {
		status, err := t.inspect()
		if err == nil {
			t.status = status
		}
		close(t.done)
	}
}

type trackedFlux struct {
	inner   flux.Flux
	tracker *demuxTracker
	done    bool
}

func (f *trackedFlux) Next() (string, bool) {
	line, ok := f.inner.Next()
	if !ok && !f.done {
		f.done = true
		f.tracker.streamDone()
	}
	return line, ok
}

func (f *trackedFlux) ExitStatus() int {
	<-f.tracker.done
	return f.tracker.status
}

// resolveCwd turns a possibly-relative cwd into an absolute path by
// resolving it inside the container (exec's WorkingDir requires an
// absolute path), per spec.md §4.1's "absolute-cwd requirement".
func (b *Backend) resolveCwd(ctx context.Context, cwd string) (string, error) {
	if cwd == "" || fspath.IsAbs(b.cfg.OSType, cwd) {
		return cwd, nil
	}
	out, _, status, err := b.rawExec(ctx, fmt.Sprintf("cd %s && pwd", shellQuote(cwd)), "", nil)
	if err != nil {
		return "", err
	}
	if status != 0 || len(out) == 0 {
		return "", errors.Wrapf(ferrors.ErrNotFound, "cwd %q", cwd)
	}
	return out[0], nil
}

// ExecCommand implements backend.Backend, wrapping cmd in "bash -c" and
// merging env as -e KEY=VALUE exec options, exactly the env-overlay
// semantics of backend.MergeOverlay.
func (b *Backend) ExecCommand(ctx context.Context, cmdline, cwd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	if err := b.requireOpen(); err != nil {
		return nil, nil, 0, err
	}
	if obs == nil {
		obs = observer.NewStore()
	}

	absCwd, err := b.resolveCwd(ctx, cwd)
	if err != nil {
		return nil, nil, 0, err
	}

	out, errLines, status, err := b.rawExec(ctx, cmdline, absCwd, env)
	if err != nil {
		return nil, nil, 0, err
	}

	// rawExec already drained the live demux through its own internal Store
	// to determine status; the caller-supplied Observer replays the same
	// lines through a fixed-status flux pair so PrettyPrint/ErrorRaise still
	// see every line via Begin/Progress/End, uniformly with Local/SSH.
	stdoutReplay := &replayFlux{Flux: flux.FromChan(toChan(out)), status: status}
	obs.Begin(cmdline, cwd, nil, stdoutReplay, flux.FromChan(toChan(errLines)))
	outLines, errLinesOut, _ := obs.End()
	return outLines, errLinesOut, status, nil
}

// replayFlux re-exposes an already-collected line slice as a Flux while
// also satisfying observer.ExitStatusSource with the exit code rawExec
// already determined live.
type replayFlux struct {
	flux.Flux
	status int
}

func (r *replayFlux) ExitStatus() int { return r.status }

// toChan is a small adapter letting rawExec's fully-collected output be
// replayed through the same flux.Flux surface the Observer expects.
func toChan(lines []string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

// rawExec creates and attaches to a Docker exec, demultiplexes its combined
// stream with stdcopy into independent stdout/stderr flux adapters, and
// drains them itself (container output isn't observed live by a caller-
// supplied Observer the way Local/SSH are, since stdcopy owns the single
// underlying reader) before returning the accumulated lines and exit code.
func (b *Backend) rawExec(ctx context.Context, cmdline, absCwd string, env map[string]string) ([]string, []string, int, error) {
	execCfg := types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Cmd:          []string{"bash", "-c", cmdline},
		Env:          flattenEnv(env),
		WorkingDir:   absCwd,
	}

	created, err := b.client.ContainerExecCreate(ctx, b.cfg.ContainerID, execCfg)
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "exec create")
	}

	attached, err := b.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: false})
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "exec attach")
	}
	defer attached.Close()

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutWriter, stderrWriter, attached.Reader)
		stdoutWriter.CloseWithError(copyErr)
		stderrWriter.CloseWithError(copyErr)
	}()

	tracker := newDemuxTracker(func() (int, error) {
		inspect, err := b.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return 0, err
		}
		return inspect.ExitCode, nil
	})
	stdoutFlux := &trackedFlux{inner: flux.FromReader(stdoutReader), tracker: tracker}
	stderrFlux := &trackedFlux{inner: flux.FromReader(stderrReader), tracker: tracker}

	store := observer.NewStore()
	store.Begin(cmdline, absCwd, nil, stdoutFlux, stderrFlux)
	out, errLines, _ := store.End()
	return out, errLines, stdoutFlux.ExitStatus(), nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range sortedKeys(env) {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
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

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func (b *Backend) runSilent(ctx context.Context, cmd string) ([]string, int, error) {
	out, _, status, err := b.rawExec(ctx, cmd, "", nil)
	return out, status, err
}

// Env implements backend.Backend.
func (b *Backend) Env(ctx context.Context, name string) (string, error) {
	if v, ok := b.env.Get(name); ok {
		return v, nil
	}
	out, status, err := b.runSilent(ctx, fmt.Sprintf("echo $%s", name))
	if err != nil {
		return "", err
	}
	v := ""
	if status == 0 && len(out) > 0 {
		v = out[0]
	}
	b.env.Put(name, v)
	return v, nil
}

// LoadAllEnv implements backend.Backend.
func (b *Backend) LoadAllEnv(ctx context.Context) (map[string]string, error) {
	out, status, err := b.runSilent(ctx, "printenv")
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, errors.New("printenv failed")
	}
	all := map[string]string{}
	for _, line := range out {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			all[parts[0]] = parts[1]
		}
	}
	b.env.LoadAll(all)
	return b.env.Snapshot(), nil
}

func (b *Backend) predicate(ctx context.Context, testFlag, path string) (bool, error) {
	out, status, err := b.runSilent(ctx, fmt.Sprintf("[ %s %s ] && echo ok || true", testFlag, shellQuote(path)))
	if err != nil {
		return false, err
	}
	return status == 0 && len(out) > 0 && out[0] == "ok", nil
}

// IsFile implements backend.Backend.
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) { return b.predicate(ctx, "-f", path) }

// IsDir implements backend.Backend.
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) { return b.predicate(ctx, "-d", path) }

// IsLink implements backend.Backend.
func (b *Backend) IsLink(ctx context.Context, path string) (bool, error) { return b.predicate(ctx, "-L", path) }

// IsExe implements backend.Backend.
func (b *Backend) IsExe(ctx context.Context, path string) (bool, error) { return b.predicate(ctx, "-x", path) }

// GetSize implements backend.Backend via `stat -c %s`.
func (b *Backend) GetSize(ctx context.Context, path string) (int64, error) {
	out, status, err := b.runSilent(ctx, fmt.Sprintf("stat -c %%s %s", shellQuote(path)))
	if err != nil || status != 0 || len(out) == 0 {
		return -1, nil
	}
	var size int64
	if _, scanErr := fmt.Sscanf(out[0], "%d", &size); scanErr != nil {
		return -1, nil
	}
	return size, nil
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
	flag := ""
	if parents {
		flag = "-p "
	}
	_, status, err := b.runSilent(ctx, fmt.Sprintf("mkdir %s%s", flag, shellQuote(path)))
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("mkdir %q exited %d", path, status)
	}
	return nil
}

// Rmdir implements backend.Backend.
func (b *Backend) Rmdir(ctx context.Context, path string, recursive bool) error {
	if ok, _ := b.IsDir(ctx, path); !ok {
		return errors.Wrapf(ferrors.ErrNotFound, "rmdir %q", path)
	}
	cmd := fmt.Sprintf("rmdir %s", shellQuote(path))
	if recursive {
		cmd = fmt.Sprintf("rm -rf %s", shellQuote(path))
	}
	_, status, err := b.runSilent(ctx, cmd)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("rmdir %q exited %d", path, status)
	}
	return nil
}

// Unlink implements backend.Backend.
func (b *Backend) Unlink(ctx context.Context, path string, missingOK bool) error {
	if ok, _ := b.IsFile(ctx, path); !ok {
		if missingOK {
			return nil
		}
		return errors.Wrapf(ferrors.ErrNotFound, "unlink %q", path)
	}
	_, status, err := b.runSilent(ctx, fmt.Sprintf("rm -f %s", shellQuote(path)))
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("unlink %q exited %d", path, status)
	}
	return nil
}

// Touch implements backend.Backend.
func (b *Backend) Touch(ctx context.Context, path string) error {
	_, status, err := b.runSilent(ctx, fmt.Sprintf("touch %s", shellQuote(path)))
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("touch %q exited %d", path, status)
	}
	return nil
}

// Ls implements backend.Backend.
func (b *Backend) Ls(ctx context.Context, path string) ([]string, error) {
	out, status, err := b.runSilent(ctx, fmt.Sprintf("ls -A %s", shellQuote(path)))
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, errors.Wrapf(ferrors.ErrNotFound, "ls %q", path)
	}
	return out, nil
}

// Walk0 implements backend.Backend / tree.Walker with a shell loop over the
// directory's non-hidden entries, tagging each as a directory or a file.
func (b *Backend) Walk0(p string) (dirnames, filenames []string, err error) {
	ctx := context.Background()
	out, status, runErr := b.runSilent(ctx, fmt.Sprintf(
		`for e in "%s"/*; do [ -e "$e" ] || continue; if [ -d "$e" ]; then echo "D $(basename "$e")"; else echo "F $(basename "$e")"; fi; done`, p))
	if runErr != nil {
		return nil, nil, runErr
	}
	if status != 0 {
		return nil, nil, fmt.Errorf("walk0 %q exited %d", p, status)
	}
	for _, line := range out {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "D":
			dirnames = append(dirnames, parts[1])
		case "F":
			filenames = append(filenames, parts[1])
		}
	}
	return dirnames, filenames, nil
}

// Lsdir implements backend.Backend.
func (b *Backend) Lsdir(ctx context.Context, path string) (*tree.Tree, error) {
	return tree.Get(backend.AsWalker(ctx, b), path)
}

// Zip implements backend.Backend via `zip -r`.
func (b *Backend) Zip(ctx context.Context, path, archivePath string) (string, error) {
	isDir, _ := b.IsDir(ctx, path)
	if archivePath == "" {
		if isDir {
			archivePath = path + ".zip"
		} else {
			archivePath = fspath.WithExt(b.cfg.OSType, path, ".zip")
		}
	}
	if fspath.Ext(b.cfg.OSType, archivePath) != ".zip" {
		return "", ferrors.ErrInvalidArchive
	}
	// Entries are stored relative to the directory itself (its contents form
	// the archive root) or, for a single file, relative to its parent.
	srcDir, entry := path, "."
	if !isDir {
		srcDir, entry = fspath.Dirname(b.cfg.OSType, path), fspath.Basename(b.cfg.OSType, path)
	}
	_, status, err := b.runSilent(ctx, fmt.Sprintf("(cd %s && zip -r - %s) > %s", shellQuote(srcDir), shellQuote(entry), shellQuote(archivePath)))
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", fmt.Errorf("zip -r exited %d", status)
	}
	return archivePath, nil
}

// Unzip implements backend.Backend via `unzip`.
func (b *Backend) Unzip(ctx context.Context, archivePath, toPath string) (string, error) {
	if fspath.Ext(b.cfg.OSType, archivePath) != ".zip" {
		return "", ferrors.ErrInvalidArchive
	}
	if toPath == "" {
		toPath = strings.TrimSuffix(archivePath, ".zip")
	}
	_, status, err := b.runSilent(ctx, fmt.Sprintf("unzip -o %s -d %s", shellQuote(archivePath), shellQuote(toPath)))
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", fmt.Errorf("unzip exited %d", status)
	}
	return toPath, nil
}

// Abspath implements backend.Backend.
func (b *Backend) Abspath(ctx context.Context, path string) (string, error) {
	return b.Realpath(ctx, path)
}

// Realpath implements backend.Backend via `realpath`.
func (b *Backend) Realpath(ctx context.Context, path string) (string, error) {
	if err := b.requireOpen(); err != nil {
		return "", err
	}
	out, status, err := b.runSilent(ctx, fmt.Sprintf("realpath %s", shellQuote(path)))
	if err != nil {
		return "", err
	}
	if status != 0 || len(out) == 0 {
		return "", errors.Wrapf(ferrors.ErrNotFound, "realpath %q", path)
	}
	return out[0], nil
}

// DockerClient exposes the underlying *client.Client for the transfer
// engine's docker-cp-based put/get operations (pkg/transfer).
func (b *Backend) DockerClient() *docker.Client { return b.client }

// ContainerID returns the backend's bound container identifier.
func (b *Backend) ContainerID() string { return b.cfg.ContainerID }
