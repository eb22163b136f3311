package transfer_test

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/ferrors"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/combust-labs/execfabric/pkg/transfer"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend is a minimal backend.Backend that behaves as if every path is
// a real file, used only to exercise Transfer's unsupported-pair branch
// without depending on a live SSH/Docker endpoint.
type stubBackend struct{}

func (s *stubBackend) OSType() fspath.OSType                 { return fspath.Linux }
func (s *stubBackend) IsRemote() bool                        { return true }
func (s *stubBackend) IsOpen() bool                          { return true }
func (s *stubBackend) Open(ctx context.Context) error         { return nil }
func (s *stubBackend) Close() error                           { return nil }
func (s *stubBackend) Platform() (backend.Platform, error)    { return backend.Platform{}, nil }
func (s *stubBackend) ExecCommand(ctx context.Context, cmd, cwd string, env map[string]string, obs observer.Observer) ([]string, []string, int, error) {
	return nil, nil, 0, nil
}
func (s *stubBackend) Env(ctx context.Context, name string) (string, error) { return "", nil }
func (s *stubBackend) LoadAllEnv(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
func (s *stubBackend) IsFile(ctx context.Context, path string) (bool, error) { return true, nil }
func (s *stubBackend) IsDir(ctx context.Context, path string) (bool, error)  { return false, nil }
func (s *stubBackend) IsLink(ctx context.Context, path string) (bool, error) { return false, nil }
func (s *stubBackend) IsExe(ctx context.Context, path string) (bool, error)  { return false, nil }
func (s *stubBackend) GetSize(ctx context.Context, path string) (int64, error) { return -1, nil }
func (s *stubBackend) Mkdir(ctx context.Context, path string, parents, existOK bool) error {
	return nil
}
func (s *stubBackend) Rmdir(ctx context.Context, path string, recursive bool) error { return nil }
func (s *stubBackend) Unlink(ctx context.Context, path string, missingOK bool) error { return nil }
func (s *stubBackend) Touch(ctx context.Context, path string) error                  { return nil }
func (s *stubBackend) Ls(ctx context.Context, path string) ([]string, error)         { return nil, nil }
func (s *stubBackend) Walk0(path string) ([]string, []string, error)                { return nil, nil, nil }
func (s *stubBackend) Lsdir(ctx context.Context, path string) (*tree.Tree, error) {
	return tree.Get(backend.AsWalker(ctx, s), path)
}
func (s *stubBackend) Zip(ctx context.Context, path, archivePath string) (string, error) {
	return archivePath, nil
}
func (s *stubBackend) Unzip(ctx context.Context, archivePath, toPath string) (string, error) {
	return toPath, nil
}
func (s *stubBackend) Abspath(ctx context.Context, path string) (string, error)  { return path, nil }
func (s *stubBackend) Realpath(ctx context.Context, path string) (string, error) { return path, nil }


func newOpenLocal(t *testing.T) *local.Backend {
	t.Helper()
	b := local.New(hclog.NewNullLogger())
	require.NoError(t, b.Open(context.Background()))
	return b
}

// TestTransferFileLocalToLocal matches spec.md §8 scenario E6's single-file
// shape: two independent backend instances over the same real filesystem.
func TestTransferFileLocalToLocal(t *testing.T) {
	ctx := context.Background()
	from := newOpenLocal(t)
	to := newOpenLocal(t)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "a.txt")
	require.NoError(t, ioutil.WriteFile(srcFile, []byte("hello"), 0644))

	sent, received, err := transfer.Transfer(ctx, from, srcFile, to, dstDir, transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, srcFile, sent)

	contents, err := ioutil.ReadFile(received)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
}

// TestTransferDirLocalToLocal matches spec.md §8 scenario E6's directory
// shape: nested subdirectories are mirrored on the destination.
func TestTransferDirLocalToLocal(t *testing.T) {
	ctx := context.Background()
	from := newOpenLocal(t)
	to := newOpenLocal(t)

	srcRoot := t.TempDir()
	srcTree := filepath.Join(srcRoot, "proj")
	nested := filepath.Join(srcTree, "sub")
	require.NoError(t, from.Mkdir(ctx, nested, true, true))
	require.NoError(t, ioutil.WriteFile(filepath.Join(srcTree, "top.txt"), []byte("top"), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(nested, "deep.txt"), []byte("deep"), 0644))

	dstDir := t.TempDir()
	_, received, err := transfer.Transfer(ctx, from, srcTree, to, dstDir, transfer.Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dstDir, "proj"), received)

	top, err := ioutil.ReadFile(filepath.Join(dstDir, "proj", "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, "top", string(top))

	deep, err := ioutil.ReadFile(filepath.Join(dstDir, "proj", "sub", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(deep))
}

// TestTransferDeleteSourceRemovesOriginal matches spec.md §8 scenario E6's
// delete_source option.
func TestTransferDeleteSourceRemovesOriginal(t *testing.T) {
	ctx := context.Background()
	from := newOpenLocal(t)
	to := newOpenLocal(t)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "a.txt")
	require.NoError(t, ioutil.WriteFile(srcFile, []byte("hello"), 0644))

	_, _, err := transfer.Transfer(ctx, from, srcFile, to, dstDir, transfer.Options{DeleteSource: true})
	require.NoError(t, err)

	isFile, _ := from.IsFile(ctx, srcFile)
	assert.False(t, isFile)
}

// TestTransferCompressBeforeUncompressAfter matches spec.md §8 scenario E5.
func TestTransferCompressBeforeUncompressAfter(t *testing.T) {
	ctx := context.Background()
	from := newOpenLocal(t)
	to := newOpenLocal(t)

	srcDir := t.TempDir()
	srcTree := filepath.Join(srcDir, "payload")
	require.NoError(t, from.Mkdir(ctx, srcTree, true, true))
	require.NoError(t, ioutil.WriteFile(filepath.Join(srcTree, "f.txt"), []byte("x"), 0644))

	dstDir := t.TempDir()
	_, received, err := transfer.Transfer(ctx, from, srcTree, to, dstDir, transfer.Options{
		CompressBefore:  true,
		UncompressAfter: true,
	})
	require.NoError(t, err)

	isFile, _ := to.IsFile(ctx, filepath.Join(received, "f.txt"))
	assert.True(t, isFile)

	isFile, _ = to.IsFile(ctx, received+".zip")
	assert.False(t, isFile, "the intermediate archive must be removed after extraction")
}

// TestTransferUnsupportedPairSurfacesSentinel matches spec.md §8 property 10:
// a pair with no direct transfer path and no buffer dir returns
// ferrors.ErrTransferUnsupported.
func TestTransferUnsupportedPairSurfacesSentinel(t *testing.T) {
	ctx := context.Background()
	from := &stubBackend{}
	to := &stubBackend{}

	_, _, err := transfer.Transfer(ctx, from, "/whatever", to, "/whatever", transfer.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrTransferUnsupported))
}
