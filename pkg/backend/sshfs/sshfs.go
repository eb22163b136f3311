// Package sshfs implements the Remote-SSH backend variant: command
// execution over a single SSH exec channel (no PTY — spec.md Non-goals
// exclude interactive terminal emulation) and file/directory transfer over
// SFTP. Predicates are implemented as remote shell tests whose success is
// signaled by echoing "ok" (spec.md §4.1). Grounded on the teacher's
// remote/client.go and pkg/remote/client.go (SSH dial + agent forwarding +
// SFTP client construction) and on original_source's
// pyrc/remote/remotecon.py (exec_command prefixing cd/export, shell-test
// predicates, zip/unzip over the shell).
package sshfs

import (
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/flux"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ConnectConfig is the SSH backend's creation configuration (spec.md §6):
// at least one of PrivateKeyPath / Password / AskPassword must yield usable
// credentials.
type ConnectConfig struct {
	Hostname       string
	Port           int
	Username       string
	PrivateKeyPath string
	ProxyCommand   string
	AskPassword    bool
	Password       string
	Passphrase     string
	TimeoutSeconds int
	LookForKeys    bool
	Compress       bool // accepted for interface parity; golang.org/x/crypto/ssh has no compression transport, so this is a no-op
	OSType         fspath.OSType
}

func (c ConnectConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backend is the Remote-SSH variant from spec.md §4.1.
type Backend struct {
	cfg    ConnectConfig
	logger hclog.Logger
	env    *backend.EnvCache

	client *ssh.Client
	sftp   *sftp.Client
	open   bool
}

// New returns an SSH backend that will dial on Open.
func New(logger hclog.Logger, cfg ConnectConfig) *Backend {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Backend{
		cfg:    cfg,
		logger: logger.Named("backend.ssh"),
		env:    backend.NewEnvCache(),
	}
}

func authMethods(cfg ConnectConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.PrivateKeyPath != "" {
		keyBytes, err := ioutil.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed reading private key %q", cfg.PrivateKeyPath)
		}
		var signer ssh.Signer
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed parsing private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.LookForKeys {
		if sock, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK")); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(sock).Signers))
		}
	}

	password := cfg.Password
	if password == "" && cfg.AskPassword {
		fmt.Printf("Password for %s@%s: ", cfg.Username, cfg.Hostname)
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		password = strings.TrimSpace(line)
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}

	if len(methods) == 0 {
		return nil, errors.New("no usable SSH credentials: need a private key, a password, or ask-password")
	}
	return methods, nil
}

// OSType implements backend.Backend.
func (b *Backend) OSType() fspath.OSType { return b.cfg.OSType }

// IsRemote implements backend.Backend: the SSH backend is always remote.
func (b *Backend) IsRemote() bool { return true }

// IsOpen implements backend.Backend.
func (b *Backend) IsOpen() bool { return b.open }

// Open implements backend.Backend: dials SSH directly over TCP and starts an
// SFTP subsystem on the same connection, per teacher's remote.Connect. Proxy
// commands are not supported: Open returns an error when ProxyCommand is set.
func (b *Backend) Open(ctx context.Context) error {
	methods, err := authMethods(b.cfg)
	if err != nil {
		return err
	}

	clientConfig := &ssh.ClientConfig{
		User:            b.cfg.Username,
		Auth:            methods,
		Timeout:         b.cfg.timeout(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host-key pinning is out of scope (spec.md Non-goals)
	}

	hostPort := net.JoinHostPort(b.cfg.Hostname, strconv.Itoa(b.cfg.Port))

	var conn net.Conn
	if b.cfg.ProxyCommand != "" {
		return errors.New("proxy-command dialing requires an external net.Conn provider; not wired in this build")
	}
	dialer := net.Dialer{Timeout: b.cfg.timeout()}
	conn, err = dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return errors.Wrapf(ferrors.ErrHostUnreachable, "dial %q: %v", hostPort, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostPort, clientConfig)
	if err != nil {
		conn.Close()
		return errors.Wrapf(ferrors.ErrAuthFailed, "handshake with %q: %v", hostPort, err)
	}
	b.client = ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(b.client)
	if err != nil {
		b.client.Close()
		return errors.Wrapf(ferrors.ErrChannelError, "sftp subsystem: %v", err)
	}
	b.sftp = sftpClient
	b.open = true
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	if !b.open {
		return nil
	}
	b.open = false
	if b.sftp != nil {
		b.sftp.Close()
	}
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *Backend) requireOpen() error {
	if !b.open {
		return ferrors.ErrNotConnected
	}
	return nil
}

// Platform implements backend.Backend via a remote `uname` probe.
func (b *Backend) Platform() (backend.Platform, error) {
	if err := b.requireOpen(); err != nil {
		return backend.Platform{}, err
	}
	out, _, status, err := b.ExecCommand(context.Background(), "uname -s && uname -r", "", nil, observer.NewStore())
	if err != nil || status != 0 || len(out) < 2 {
		return backend.Platform{System: "Unknown"}, nil
	}
	return backend.Platform{System: out[0], Release: out[1]}, nil
}

// exitTracker coordinates exit-status retrieval across the stdout/stderr
// flux pair of a single exec session: session.Wait() is only safe to call
// once both streams have been fully drained, and the Scrapper policy
// (spec.md §4.2) drains stdout before stderr.
type exitTracker struct {
	wait      func() error
	mu        sync.Mutex
	remaining int
	status    int
}

// newExitTracker takes wait rather than a *ssh.Session directly so the
// drain-then-wait coordination can be unit-tested without a live channel.
func newExitTracker(wait func() error) *exitTracker {
	return &exitTracker{wait: wait, remaining: 2}
}

func (t *exitTracker) streamDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining--
	if t.remaining == 0 {
		if err := t.wait(); err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				t.status = exitErr.ExitStatus()
			}
		}
	}
}

type trackedFlux struct {
	inner   flux.Flux
	tracker *exitTracker
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

func (f *trackedFlux) ExitStatus() int { return f.tracker.status }

// ExecCommand implements backend.Backend. The overlay env is exported as
// "export KEY=VALUE;" statements (Unix targets only), then "cd CWD;", then
// cmd, all sent as a single exec call — exactly teacher's
// remote/client.go convention, minus the PTY request (spec.md Non-goals).
func (b *Backend) ExecCommand(ctx context.Context, cmdline, cwd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	if err := b.requireOpen(); err != nil {
		return nil, nil, 0, err
	}
	if obs == nil {
		obs = observer.NewStore()
	}

	if len(env) > 0 && b.cfg.OSType == fspath.Windows {
		return nil, nil, 0, errors.Wrap(ferrors.ErrNotSupported, "environment export on a Windows SSH backend")
	}

	full := b.assembleCommand(cmdline, cwd, env)

	session, err := b.client.NewSession()
	if err != nil {
		return nil, nil, 0, errors.Wrap(ferrors.ErrChannelError, err.Error())
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "stdout pipe")
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "stderr pipe")
	}

	if err := session.Start(full); err != nil {
		return nil, nil, 0, errors.Wrapf(ferrors.ErrChannelError, "start %q: %v", full, err)
	}

	tracker := newExitTracker(session.Wait)
	stdoutFlux := &trackedFlux{inner: flux.FromReader(stdoutPipe), tracker: tracker}
	stderrFlux := &trackedFlux{inner: flux.FromReader(stderrPipe), tracker: tracker}

	obs.Begin(full, cwd, nil, stdoutFlux, stderrFlux)
	out, errLines, status := obs.End()
	return out, errLines, status, nil
}

func (b *Backend) assembleCommand(cmdline, cwd string, env map[string]string) string {
	var sb strings.Builder
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(&sb, "export %s=%s; ", k, shellQuote(env[k]))
	}
	if cwd != "" {
		fmt.Fprintf(&sb, "cd %s; ", shellQuote(cwd))
	}
	sb.WriteString(cmdline)
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
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

func (b *Backend) runSilent(cmd string) (stdout []string, status int, err error) {
	out, _, status, err := b.ExecCommand(context.Background(), cmd, "", nil, observer.NewStore())
	return out, status, err
}

// Env implements backend.Backend.
func (b *Backend) Env(ctx context.Context, name string) (string, error) {
	if v, ok := b.env.Get(name); ok {
		return v, nil
	}
	out, status, err := b.runSilent(fmt.Sprintf("echo $%s", name))
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

// LoadAllEnv implements backend.Backend using `printenv` (Unix only, per
// spec.md §9's "bulk load_all() when the backend supports it").
func (b *Backend) LoadAllEnv(ctx context.Context) (map[string]string, error) {
	if !b.cfg.OSType.IsUnix() {
		return nil, errors.Wrap(ferrors.ErrNotSupported, "bulk environment load on non-Unix SSH backend")
	}
	out, status, err := b.runSilent("printenv")
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

func (b *Backend) predicate(testFlag, path string) (bool, error) {
	if b.cfg.OSType == fspath.Windows {
		return false, errors.Wrap(ferrors.ErrNotSupported, "filesystem predicates on a Windows SSH backend")
	}
	out, status, err := b.runSilent(fmt.Sprintf("[ %s %s ] && echo ok || true", testFlag, shellQuote(path)))
	if err != nil {
		return false, err
	}
	return status == 0 && len(out) > 0 && out[0] == "ok", nil
}

// IsFile implements backend.Backend via `[ -f path ]`.
func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) { return b.predicate("-f", path) }

// IsDir implements backend.Backend via `[ -d path ]`.
func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) { return b.predicate("-d", path) }

// IsLink implements backend.Backend via `[ -L path ]`.
func (b *Backend) IsLink(ctx context.Context, path string) (bool, error) { return b.predicate("-L", path) }

// IsExe implements backend.Backend via `[ -x path ]`.
func (b *Backend) IsExe(ctx context.Context, path string) (bool, error) { return b.predicate("-x", path) }

// GetSize implements backend.Backend over SFTP's Stat.
func (b *Backend) GetSize(ctx context.Context, p string) (int64, error) {
	if err := b.requireOpen(); err != nil {
		return -1, err
	}
	info, err := b.sftp.Stat(p)
	if err != nil {
		return -1, nil
	}
	return info.Size(), nil
}

// Mkdir implements backend.Backend.
func (b *Backend) Mkdir(ctx context.Context, p string, parents, existOK bool) error {
	isDir, _ := b.IsDir(ctx, p)
	if isDir {
		if existOK {
			return nil
		}
		return errors.Wrapf(ferrors.ErrAlreadyExists, "mkdir %q", p)
	}
	if parents {
		return b.sftp.MkdirAll(p)
	}
	parentDir := path.Dir(p)
	if ok, _ := b.IsDir(ctx, parentDir); !ok {
		return errors.Wrapf(ferrors.ErrNotFound, "parent directory %q", parentDir)
	}
	if err := b.sftp.Mkdir(p); err != nil {
		return errors.Wrapf(err, "mkdir %q", p)
	}
	return nil
}

// Rmdir implements backend.Backend.
func (b *Backend) Rmdir(ctx context.Context, p string, recursive bool) error {
	if ok, _ := b.IsDir(ctx, p); !ok {
		return errors.Wrapf(ferrors.ErrNotFound, "rmdir %q", p)
	}
	if recursive {
		_, status, err := b.runSilent(fmt.Sprintf("rm -rf %s", shellQuote(p)))
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("rm -rf %q exited %d", p, status)
		}
		return nil
	}
	return b.sftp.RemoveDirectory(p)
}

// Unlink implements backend.Backend.
func (b *Backend) Unlink(ctx context.Context, p string, missingOK bool) error {
	if ok, _ := b.IsFile(ctx, p); !ok {
		if missingOK {
			return nil
		}
		return errors.Wrapf(ferrors.ErrNotFound, "unlink %q", p)
	}
	return b.sftp.Remove(p)
}

// Touch implements backend.Backend.
func (b *Backend) Touch(ctx context.Context, p string) error {
	f, err := b.sftp.OpenFile(p, os.O_CREATE|os.O_WRONLY)
	if err != nil {
		return errors.Wrapf(err, "touch %q", p)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "touch %q", p)
	}
	now := time.Now()
	return errors.Wrapf(b.sftp.Chtimes(p, now, now), "touch %q", p)
}

// Ls implements backend.Backend.
func (b *Backend) Ls(ctx context.Context, p string) ([]string, error) {
	entries, err := b.sftp.ReadDir(p)
	if err != nil {
		return nil, errors.Wrapf(err, "ls %q", p)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Walk0 implements backend.Backend / tree.Walker.
func (b *Backend) Walk0(p string) (dirnames, filenames []string, err error) {
	entries, err := b.sftp.ReadDir(p)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "walk0 %q", p)
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
func (b *Backend) Lsdir(ctx context.Context, p string) (*tree.Tree, error) {
	return tree.Get(backend.AsWalker(ctx, b), p)
}

// Zip implements backend.Backend via `zip -r`, per spec.md §4.1.
func (b *Backend) Zip(ctx context.Context, p, archivePath string) (string, error) {
	isDir, _ := b.IsDir(ctx, p)
	if archivePath == "" {
		if isDir {
			archivePath = p + ".zip"
		} else {
			archivePath = fspath.WithExt(b.cfg.OSType, p, ".zip")
		}
	}
	if fspath.Ext(b.cfg.OSType, archivePath) != ".zip" {
		return "", ferrors.ErrInvalidArchive
	}
	// Entries are stored relative to the directory itself (its contents form
	// the archive root) or, for a single file, relative to its parent.
	srcDir, entry := p, "."
	if !isDir {
		srcDir, entry = fspath.Dirname(b.cfg.OSType, p), fspath.Basename(b.cfg.OSType, p)
	}
	_, status, err := b.runSilent(fmt.Sprintf("(cd %s && zip -r - %s) > %s", shellQuote(srcDir), shellQuote(entry), shellQuote(archivePath)))
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
	_, status, err := b.runSilent(fmt.Sprintf("unzip -o %s -d %s", shellQuote(archivePath), shellQuote(toPath)))
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", fmt.Errorf("unzip exited %d", status)
	}
	return toPath, nil
}

// Abspath implements backend.Backend via `realpath`.
func (b *Backend) Abspath(ctx context.Context, p string) (string, error) {
	return b.Realpath(ctx, p)
}

// Realpath implements backend.Backend via `realpath`.
func (b *Backend) Realpath(ctx context.Context, p string) (string, error) {
	if err := b.requireOpen(); err != nil {
		return "", err
	}
	out, status, err := b.runSilent(fmt.Sprintf("realpath %s", shellQuote(p)))
	if err != nil {
		return "", err
	}
	if status != 0 || len(out) == 0 {
		return "", errors.Wrapf(ferrors.ErrNotFound, "realpath %q", p)
	}
	return out[0], nil
}

// SFTPClient exposes the underlying *sftp.Client for the transfer engine's
// SFTP-based Put/Get operations (pkg/transfer), which need direct streaming
// access beyond the Backend contract's file-at-a-time Touch/Unlink surface.
func (b *Backend) SFTPClient() *sftp.Client { return b.sftp }

// SSHClient exposes the underlying *ssh.Client, used by the transfer
// engine to open raw SFTP sessions where needed.
func (b *Backend) SSHClient() *ssh.Client { return b.client }
