package sshfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssembleCommandOrdersExportCwdThenCmd(t *testing.T) {
	b := &Backend{}
	got := b.assembleCommand("ls -la", "/srv/app", map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, "export A='1'; export B='2'; cd '/srv/app'; ls -la", got)
}

func TestAssembleCommandNoEnvNoCwd(t *testing.T) {
	b := &Backend{}
	got := b.assembleCommand("true", "", nil)
	assert.Equal(t, "true", got)
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
}

func TestSortedKeysIsDeterministic(t *testing.T) {
	keys := sortedKeys(map[string]string{"z": "1", "a": "2", "m": "3"})
	assert.Equal(t, []string{"a", "m", "z"}, keys)
}

// TestExitTrackerWaitsOnlyAfterBothStreamsDrain matches the Scrapper policy
// from spec.md §4.2: the SSH channel's real exit status must not be
// consulted until stdout and stderr have both reported EOF.
func TestExitTrackerWaitsOnlyAfterBothStreamsDrain(t *testing.T) {
	waited := false
	tracker := newExitTracker(func() error {
		waited = true
		return errors.New("session closed")
	})

	tracker.streamDone()
	assert.False(t, waited, "wait must not run before the second stream drains")

	tracker.streamDone()
	assert.True(t, waited)
	// A non-*ssh.ExitError failure (e.g. a closed connection) leaves status
	// at its zero value; only a real channel exit code overrides it.
	assert.Equal(t, 0, tracker.status)
}

func TestNoUsableCredentialsIsRejected(t *testing.T) {
	_, err := authMethods(ConnectConfig{Hostname: "example.invalid", Username: "u"})
	assert.Error(t, err)
}
