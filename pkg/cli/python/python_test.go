package python_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/cli/python"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenLocal(t *testing.T) *local.Backend {
	t.Helper()
	b := local.New(hclog.NewNullLogger())
	require.NoError(t, b.Open(context.Background()))
	return b
}

// fakePython writes a tiny shell script at dir/name masquerading as a python
// interpreter for the two probes python.New issues. With sameAnswer it
// answers both the base_prefix and sys.prefix probes with "/usr", so New sees
// no virtualenv; otherwise it answers the sys.prefix probe with "/usr/venv",
// so New detects one. This exercises the composer without depending on a
// real python3 binary being present in the test environment.
func fakePython(t *testing.T, sameAnswer bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakepython")
	script := "#!/bin/sh\n"
	if sameAnswer {
		script += `echo "/usr"` + "\n"
	} else {
		script += `
case "$*" in
  *base_prefix*) echo "/usr" ;;
  *) echo "/usr/venv" ;;
esac
`
	}
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestNewDetectsNoVenvWhenPrefixesMatch(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	b := newOpenLocal(t)
	exe := fakePython(t, true)

	c, err := python.New(context.Background(), b, exe, "")
	require.NoError(t, err)
	assert.False(t, c.IsVenv())
	assert.Equal(t, "", c.Venv())
}

func TestNewDetectsVenvWhenPrefixesDiffer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	b := newOpenLocal(t)
	exe := fakePython(t, false)

	c, err := python.New(context.Background(), b, exe, "")
	require.NoError(t, err)
	assert.True(t, c.IsVenv())
	assert.Equal(t, "/usr/venv", c.Venv())
}

func TestNewRejectsNonExecutablePath(t *testing.T) {
	b := newOpenLocal(t)
	_, err := python.New(context.Background(), b, filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}
