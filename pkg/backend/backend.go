// Package backend declares the polymorphic execution and filesystem
// contract every variant implements (Local, SSH, Container, Script), per
// spec.md §3/§4.1. It deliberately expresses the "sum type with a shared
// operation table" design note from spec.md §9: a single interface, no
// inheritance chain, four independent implementations under
// pkg/backend/{local,sshfs,container,script}.
package backend

import (
	"context"

	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/tree"
)

// Platform describes a backend's operating system as reported by its own
// platform() probe (spec.md §4.1).
type Platform struct {
	System  string
	Release string
}

// Backend is the capability set every execution/filesystem variant
// implements. OS type is fixed at construction (spec.md §3 invariant);
// IsOpen() must be true before any ExecCommand (same invariant).
type Backend interface {
	// OSType returns the backend's immutable OS classification.
	OSType() fspath.OSType
	// IsRemote reports whether this backend's resources live on a separate
	// host from the calling process.
	IsRemote() bool
	// IsOpen reports whether the backend is ready to accept operations.
	IsOpen() bool
	// Open acquires whatever resources the backend needs (SSH session,
	// container handle, output file) before first use.
	Open(ctx context.Context) error
	// Close releases the backend's resources. Safe to call multiple times.
	Close() error
	// Platform returns the backend's {system, release} pair.
	Platform() (Platform, error)

	// ExecCommand runs cmd with working directory cwd (empty meaning
	// backend-default) and environment overlay env merged over the
	// backend's own environment (empty/nil meaning inherit). The given
	// observer's Begin is invoked immediately and End exactly once; its
	// return value is returned verbatim.
	ExecCommand(ctx context.Context, cmd, cwd string, env map[string]string, obs observer.Observer) (stdout, stderr []string, exitStatus int, err error)

	// Env returns the value of a single environment variable, populating
	// the backend's lazily-cached environment map on first read of any key.
	Env(ctx context.Context, name string) (string, error)
	// LoadAllEnv bulk-populates the environment cache where the backend
	// supports it (Unix printenv); a no-op cache-miss fallback is fine
	// where it doesn't.
	LoadAllEnv(ctx context.Context) (map[string]string, error)

	// IsFile, IsDir, IsLink, IsExe are filesystem predicates. At most one of
	// IsFile/IsDir is ever true for the same path (spec.md §8 property 2).
	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	IsLink(ctx context.Context, path string) (bool, error)
	IsExe(ctx context.Context, path string) (bool, error)
	// GetSize returns a path's size in bytes, or -1/0 if undefined.
	GetSize(ctx context.Context, path string) (int64, error)

	// Mkdir creates path. parents mirrors mkdir -p; exist_ok controls
	// whether an existing target is an error (ferrors.ErrAlreadyExists).
	Mkdir(ctx context.Context, path string, parents, existOK bool) error
	// Rmdir removes path, recursively when recursive is true.
	Rmdir(ctx context.Context, path string, recursive bool) error
	// Unlink removes a file at path. missingOK controls whether an absent
	// path is an error (ferrors.ErrNotFound).
	Unlink(ctx context.Context, path string, missingOK bool) error
	// Touch creates an empty file at path, or updates its mtime if it
	// already exists.
	Touch(ctx context.Context, path string) error

	// Ls lists the immediate basenames under path.
	Ls(ctx context.Context, path string) ([]string, error)
	// Walk0 lists path's immediate subdirectories and files (tree.Walker).
	Walk0(path string) (dirnames, filenames []string, err error)
	// Lsdir returns a full recursive snapshot of path.
	Lsdir(ctx context.Context, path string) (*tree.Tree, error)

	// Zip archives path (a file or directory) into archive.zip, returning
	// its path. If archivePath is "", one is derived per spec.md §6. A
	// directory's contents (not the directory name) become the archive
	// root.
	Zip(ctx context.Context, path, archivePath string) (string, error)
	// Unzip extracts archivePath into toPath (or a derived folder when
	// toPath is ""), returning the extracted folder path.
	Unzip(ctx context.Context, archivePath, toPath string) (string, error)

	// Abspath and Realpath require the backend to be open; they're the
	// only Path operations in this system that touch the filesystem
	// (spec.md §3 Path invariant).
	Abspath(ctx context.Context, path string) (string, error)
	Realpath(ctx context.Context, path string) (string, error)
}

// EnvCache is the lazy, explicit environment-map cache shared by backend
// implementations. spec.md §9 calls for this to be an explicit
// fetch-on-miss lookup, not a magic attribute proxy.
type EnvCache struct {
	values map[string]string
	loaded bool
}

// NewEnvCache returns an empty cache.
func NewEnvCache() *EnvCache {
	return &EnvCache{values: map[string]string{}}
}

// Get returns a cached value and whether it was present.
func (c *EnvCache) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Put stores a fetched or bulk-loaded value.
func (c *EnvCache) Put(name, value string) {
	c.values[name] = value
}

// LoadAll replaces the cache wholesale with a bulk fetch, marking it loaded.
func (c *EnvCache) LoadAll(values map[string]string) {
	c.values = values
	c.loaded = true
}

// Loaded reports whether LoadAll has ever been called.
func (c *EnvCache) Loaded() bool {
	return c.loaded
}

// Snapshot returns a copy of the cache's current contents.
func (c *EnvCache) Snapshot() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MergeOverlay merges an overlay map over base (overlay wins), returning a
// new map. A nil or empty overlay returns a copy of base, i.e. "inherit"
// (spec.md §4.1's environment-overlay semantics).
func MergeOverlay(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// AsWalker adapts a Backend, bound to ctx, into a tree.Walker so it can be
// passed to tree.Get/tree.GetRoot. Backend's own methods need a context;
// tree.Walker predates (and is agnostic to) any single call's context, so
// this adapter closes over one for the duration of a single snapshot.
func AsWalker(ctx context.Context, b Backend) *walkerAdapter {
	return &walkerAdapter{ctx: ctx, backend: b}
}

type walkerAdapter struct {
	ctx     context.Context
	backend Backend
}

func (w *walkerAdapter) Walk0(path string) ([]string, []string, error) {
	return w.backend.Walk0(path)
}

func (w *walkerAdapter) GetSize(path string) (int64, error) {
	return w.backend.GetSize(w.ctx, path)
}

func (w *walkerAdapter) OSType() fspath.OSType {
	return w.backend.OSType()
}
