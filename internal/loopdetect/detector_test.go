package loopdetect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/loopdetect"
)

func TestSuggestionEmptyBeforeThresholdReached(t *testing.T) {
	d := loopdetect.New()
	d.RecordAction("alice", "wait", "")
	d.RecordAction("alice", "wait", "")

	require.Empty(t, d.Suggestion("alice"))
}

func TestSuggestionFiresAtRepeatThreshold(t *testing.T) {
	d := loopdetect.New()
	for i := 0; i < 3; i++ {
		d.RecordAction("alice", "move", "home")
	}

	require.Contains(t, d.Suggestion("alice"), "move")
	require.Contains(t, d.Suggestion("alice"), "home")
}

func TestSuggestionWindowIsBoundedPerAgent(t *testing.T) {
	d := loopdetect.New()
	// Three repeats of "move home" (enough to fire on their own), then four
	// distinct actions, which push two of the three out of the
	// WindowSize=5 ring.
	d.RecordAction("alice", "move", "home")
	d.RecordAction("alice", "move", "home")
	d.RecordAction("alice", "move", "home")
	d.RecordAction("alice", "take", "torch")
	d.RecordAction("alice", "drop", "torch")
	d.RecordAction("alice", "wait", "")
	d.RecordAction("alice", "search", "")

	require.Empty(t, d.Suggestion("alice"), "old repeats must fall out of the bounded window")
}

func TestSuggestionTracksTopicsIndependentlyOfActions(t *testing.T) {
	d := loopdetect.New()
	for i := 0; i < 3; i++ {
		d.RecordTopic("alice", "rations")
	}

	require.Contains(t, d.Suggestion("alice"), "rations")
}

func TestSuggestionUnknownAgentIsEmpty(t *testing.T) {
	d := loopdetect.New()
	require.Empty(t, d.Suggestion("nobody"))
}
