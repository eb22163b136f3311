package fspath_test

import (
	"testing"

	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/stretchr/testify/assert"
)

func TestJoinPosix(t *testing.T) {
	assert.Equal(t, "/a/b/c", fspath.Join(fspath.Linux, "/a", "b", "c"))
}

func TestJoinWindows(t *testing.T) {
	assert.Equal(t, `C:\a\b`, fspath.Join(fspath.Windows, `C:\a`, "b"))
}

func TestBasenameDirname(t *testing.T) {
	x := fspath.Join(fspath.Linux, "a", "b")
	joined := fspath.Join(fspath.Linux, x, "f.txt")
	assert.Equal(t, "f.txt", fspath.Basename(fspath.Linux, joined))
	assert.Equal(t, x, fspath.Dirname(fspath.Linux, joined))
}

func TestExt(t *testing.T) {
	assert.Equal(t, ".gz", fspath.Ext(fspath.Linux, "a/b.tar.gz"))
	assert.Equal(t, "", fspath.Ext(fspath.Linux, "a/.hidden"))
	assert.Equal(t, "", fspath.Ext(fspath.Linux, "a/noext"))
}

func TestIsAbs(t *testing.T) {
	assert.True(t, fspath.IsAbs(fspath.Linux, "/a/b"))
	assert.False(t, fspath.IsAbs(fspath.Linux, "a/b"))
	assert.True(t, fspath.IsAbs(fspath.Windows, `C:\a\b`))
	assert.False(t, fspath.IsAbs(fspath.Windows, `a\b`))
}

func TestWithExt(t *testing.T) {
	assert.Equal(t, "a/b.zip", fspath.WithExt(fspath.Linux, "a/b.tar.gz", ".zip"))
}

func TestConvert(t *testing.T) {
	assert.Equal(t, `a\b\c`, fspath.Convert(fspath.Linux, fspath.Windows, "a/b/c"))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "/a/b", fspath.Clean(fspath.Linux, "/a/./b/../b"))
}
