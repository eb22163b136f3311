package script_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/combust-labs/execfabric/pkg/backend/script"
	"github.com/combust-labs/execfabric/pkg/fspath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE3ScriptCaptureFidelity matches spec.md §8 scenario E3.
func TestE3ScriptCaptureFidelity(t *testing.T) {
	ctx := context.Background()
	outPath := filepath.Join(t.TempDir(), "out.sh")
	b := script.New(script.Config{OutputPath: outPath, Mode: script.Write, OSType: fspath.Linux})
	require.NoError(t, b.Open(ctx))

	require.NoError(t, b.Mkdir(ctx, "/x", false, false))
	require.NoError(t, b.Touch(ctx, "/x/y.txt"))
	require.NoError(t, b.Close())

	contents, err := ioutil.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "mkdir /x\ntouch /x/y.txt\n", string(contents))
}

func TestFakeTruthPredicates(t *testing.T) {
	ctx := context.Background()
	b := script.New(script.Config{OutputPath: filepath.Join(t.TempDir(), "out.sh"), OSType: fspath.Linux})
	require.NoError(t, b.Open(ctx))

	isDir, _ := b.IsDir(ctx, "/anything")
	isFile, _ := b.IsFile(ctx, "/anything")
	isExe, _ := b.IsExe(ctx, "/anything")
	assert.True(t, isDir)
	assert.True(t, isFile)
	assert.True(t, isExe)
}

func TestExportElidesRepeatedMap(t *testing.T) {
	ctx := context.Background()
	outPath := filepath.Join(t.TempDir(), "out.sh")
	b := script.New(script.Config{OutputPath: outPath, OSType: fspath.Linux})
	require.NoError(t, b.Open(ctx))

	env := map[string]string{"A": "1"}
	_, _, _, err := b.ExecCommand(ctx, "echo hi", "", env, nil)
	require.NoError(t, err)
	_, _, _, err = b.ExecCommand(ctx, "echo bye", "", env, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	contents, err := ioutil.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "export A=1\necho hi\necho bye\n", string(contents))
}
