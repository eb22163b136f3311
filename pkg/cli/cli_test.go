package cli_test

import (
	"context"
	"testing"

	"github.com/combust-labs/execfabric/pkg/backend"
	"github.com/combust-labs/execfabric/pkg/backend/local"
	"github.com/combust-labs/execfabric/pkg/cli"
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

// TestArgChainDoesNotMutateParent matches spec.md §8 property 7: each Arg
// call returns a fresh Composer, leaving the parent's prefix untouched.
func TestArgChainDoesNotMutateParent(t *testing.T) {
	b := newOpenLocal(t)
	root := cli.New(b, "git", "")

	child := root.Arg("checkout").Arg("-b").Arg("my_branch")

	assert.Equal(t, "git", root.Prefix())
	assert.Equal(t, "git checkout -b my_branch", child.Prefix())
}

// TestAssembleRuleTable matches spec.md §4.5's assembly rule table exactly.
func TestAssembleRuleTable(t *testing.T) {
	cases := []struct {
		prefix, cmd, want string
		ok                bool
	}{
		{"", "", "", false},
		{"P", "", "P", true},
		{"", "C", "C", true},
		{"P", "C", "P C", true},
	}
	for _, tc := range cases {
		got, ok := cli.Assemble(tc.prefix, tc.cmd)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.want, got)
	}
}

// TestCallNoopWhenBothEmpty matches the rule table's "" + "" row: no backend
// call should happen, and Call must return zero values without error.
func TestCallNoopWhenBothEmpty(t *testing.T) {
	b := newOpenLocal(t)
	c := cli.New(b, "", "")

	out, errLines, status, err := c.Call(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Nil(t, errLines)
	assert.Equal(t, 0, status)
}

// TestCallAssemblesPrefixAndCmd exercises the "P C" row end-to-end against
// the local backend.
func TestCallAssemblesPrefixAndCmd(t *testing.T) {
	b := newOpenLocal(t)
	c := cli.New(b, "echo", "")

	out, _, status, err := c.Call(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", out[0])
}

var _ backend.Backend = (*local.Backend)(nil)
