package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/observer"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenBackend(t *testing.T) *local.Backend {
	t.Helper()
	b := local.New(hclog.NewNullLogger())
	require.NoError(t, b.Open(context.Background()))
	return b
}

// TestE1TouchLsRmdir matches spec.md §8 scenario E1.
func TestE1TouchLsRmdir(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)
	dir := filepath.Join(t.TempDir(), "work")

	require.NoError(t, b.Mkdir(ctx, dir, true, true))
	require.NoError(t, b.Touch(ctx, filepath.Join(dir, "a.txt")))

	names, err := b.Ls(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)

	require.NoError(t, b.Rmdir(ctx, dir, true))
	isDir, err := b.IsDir(ctx, dir)
	require.NoError(t, err)
	assert.False(t, isDir)
}

// TestE2ExecCommandStore matches spec.md §8 scenario E2.
func TestE2ExecCommandStore(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)

	out, errLines, status, err := b.ExecCommand(ctx, `printf 'l1\nl2\nl3\n'`, "", nil, observer.NewStore())
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2", "l3"}, out)
	assert.Empty(t, errLines)
	assert.Equal(t, 0, status)
}

func TestMkdirIdempotence(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)
	dir := filepath.Join(t.TempDir(), "p")

	require.NoError(t, b.Mkdir(ctx, dir, true, true))
	require.NoError(t, b.Mkdir(ctx, dir, true, true))

	err := b.Mkdir(ctx, dir, true, false)
	require.Error(t, err)
}

func TestRmdirRecursion(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)
	root := t.TempDir()
	a := filepath.Join(root, "a")
	abc := filepath.Join(a, "b", "c")
	require.NoError(t, os.MkdirAll(abc, 0755))
	require.NoError(t, b.Touch(ctx, filepath.Join(abc, "file.txt")))

	require.NoError(t, b.Rmdir(ctx, a, true))

	for _, p := range []string{a, filepath.Join(a, "b"), abc} {
		isDir, _ := b.IsDir(ctx, p)
		assert.False(t, isDir, p)
	}
}

func TestPredicateConsistency(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, b.Touch(ctx, file))

	isFile, _ := b.IsFile(ctx, file)
	isDir, _ := b.IsDir(ctx, file)
	assert.True(t, isFile)
	assert.False(t, isDir)

	isFile, _ = b.IsFile(ctx, dir)
	isDir, _ = b.IsDir(ctx, dir)
	assert.False(t, isFile)
	assert.True(t, isDir)
}

func TestZipUnzipRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newOpenBackend(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, b.Touch(ctx, filepath.Join(src, "a.txt")))

	archive, err := b.Zip(ctx, src, "")
	require.NoError(t, err)
	assert.Equal(t, ".zip", filepath.Ext(archive))

	out := filepath.Join(dir, "out")
	extracted, err := b.Unzip(ctx, archive, out)
	require.NoError(t, err)

	isFile, _ := b.IsFile(ctx, filepath.Join(extracted, "a.txt"))
	assert.True(t, isFile)
}

func TestNotConnectedBeforeOpen(t *testing.T) {
	b := local.New(hclog.NewNullLogger())
	_, _, _, err := b.ExecCommand(context.Background(), "true", "", nil, nil)
	require.Error(t, err)
}
