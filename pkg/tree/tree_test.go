package tree_test

import (
	"testing"

	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/combust-labs/execfabric/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWalker is an in-memory Walker used to test tree.Get without touching
// any real filesystem.
type fakeWalker struct {
	dirs  map[string][]string
	files map[string][]string
	sizes map[string]int64
}

func (f *fakeWalker) Walk0(path string) ([]string, []string, error) {
	return f.dirs[path], f.files[path], nil
}

func (f *fakeWalker) GetSize(path string) (int64, error) {
	return f.sizes[path], nil
}

func (f *fakeWalker) OSType() fspath.OSType { return fspath.Linux }

func newFixture() *fakeWalker {
	return &fakeWalker{
		dirs: map[string][]string{
			"/a":     {"b"},
			"/a/b":   {"c"},
			"/a/b/c": {},
		},
		files: map[string][]string{
			"/a":     {"root.txt"},
			"/a/b":   {},
			"/a/b/c": {"file.txt"},
		},
		sizes: map[string]int64{
			"/a/root.txt":   10,
			"/a/b/c/file.txt": 20,
		},
	}
}

func TestGetTreeEnumeratesEveryNode(t *testing.T) {
	w := newFixture()
	root, err := tree.Get(w, "/a")
	require.NoError(t, err)

	assert.Equal(t, 0, root.Level)
	assert.Equal(t, 3, root.Len())

	nodes := root.Nodes()
	assert.Equal(t, 0, nodes[0].Level)
	assert.Equal(t, 1, nodes[1].Level)
	assert.Equal(t, 2, nodes[2].Level)
}

func TestRelativeToRoot(t *testing.T) {
	w := newFixture()
	root, err := tree.Get(w, "/a")
	require.NoError(t, err)

	c := root.Dirs["b"].Dirs["c"]
	assert.Equal(t, "b/c", c.RelativeToRoot())
}

func TestGetSizeSumsAllFiles(t *testing.T) {
	w := newFixture()
	root, err := tree.Get(w, "/a")
	require.NoError(t, err)

	size, err := root.GetSize(w)
	require.NoError(t, err)
	assert.Equal(t, int64(30), size)
}

func TestRealFiles(t *testing.T) {
	w := newFixture()
	root, err := tree.Get(w, "/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/root.txt"}, root.RealFiles())
}
