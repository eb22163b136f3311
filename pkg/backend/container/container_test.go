package container

import (
	"testing"

	"github.com/combust-labs/execfabric/pkg/flux"
	"github.com/stretchr/testify/assert"
)

func TestFlattenEnvIsSortedAndJoined(t *testing.T) {
	got := flattenEnv(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, []string{"A=1", "B=2"}, got)
}

func TestFlattenEnvNilForEmpty(t *testing.T) {
	assert.Nil(t, flattenEnv(nil))
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
}

// TestDemuxTrackerWaitsForBothStreams matches the Scrapper policy
// (spec.md §4.2): the exec's exit code is only queried after both the
// stdout and stderr demux pipes report EOF.
func TestDemuxTrackerWaitsForBothStreams(t *testing.T) {
	inspected := false
	tracker := newDemuxTracker(func() (int, error) {
		inspected = true
		return 3, nil
	})

	tracker.streamDone()
	select {
	case <-tracker.done:
		t.Fatal("tracker must not be done after only one stream finishes")
	default:
	}
	assert.False(t, inspected)

	tracker.streamDone()
	<-tracker.done
	assert.True(t, inspected)
	assert.Equal(t, 3, tracker.status)
}

func TestReplayFluxExposesFixedExitStatus(t *testing.T) {
	ch := toChan([]string{"a", "b"})
	r := &replayFlux{Flux: flux.FromChan(ch), status: 5}
	assert.Equal(t, 5, r.ExitStatus())

	line, ok := r.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", line)
}
