package conversation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/conversation"
)

func TestScanCreatesConversationForCoLocatedPair(t *testing.T) {
	m := conversation.New()

	created, ended := m.Scan(map[string]string{"alice": "plaza", "bob": "plaza"})
	require.Len(t, created, 1)
	require.Empty(t, ended)
	require.ElementsMatch(t, []string{"alice", "bob"}, created[0].Participants)
}

func TestScanIsIdempotentForTheSameGroup(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"alice": "plaza", "bob": "plaza"})

	created, _ := m.Scan(map[string]string{"alice": "plaza", "bob": "plaza"})
	require.Empty(t, created, "an already-tracked co-located group is not re-created")
}

func TestScanEndsConversationWhenParticipantLeaves(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"alice": "plaza", "bob": "plaza"})

	_, ended := m.Scan(map[string]string{"alice": "plaza", "bob": "market"})
	require.Len(t, ended, 1)
	require.Equal(t, conversation.StatusEnded, ended[0].Status)
}

func TestAdvanceTurnCyclesThroughParticipants(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"a": "plaza", "b": "plaza", "c": "plaza"})
	conv := m.ForLocation("plaza")
	require.NotNil(t, conv)

	first := conv.CurrentSpeaker()
	conv.AdvanceTurn()
	second := conv.CurrentSpeaker()
	conv.AdvanceTurn()
	third := conv.CurrentSpeaker()
	conv.AdvanceTurn()
	fourth := conv.CurrentSpeaker()

	require.NotEqual(t, first, second)
	require.NotEqual(t, second, third)
	require.Equal(t, first, fourth, "turn order wraps back to the first speaker")
}

func TestRecordMessageResetsSilenceAndResumesPausedConversation(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"a": "plaza", "b": "plaza"})
	conv := m.ForLocation("plaza")

	m.AdvanceAll()
	paused := m.AdvanceAll()
	require.Len(t, paused, 1)
	require.Equal(t, conversation.StatusPaused, conv.Status)

	conv.RecordMessage("a", "msg-1")
	require.Equal(t, conversation.StatusActive, conv.Status)
	require.Equal(t, []string{"msg-1"}, conv.Transcript)
}

func TestRecordMessageEndsConversationAtTurnCap(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"a": "plaza", "b": "plaza"})
	conv := m.ForLocation("plaza")
	conv.MaxTurnsPerAgent = 2

	conv.RecordMessage("a", "m1")
	conv.RecordMessage("a", "m2")
	conv.RecordMessage("a", "m3")

	require.Equal(t, conversation.StatusEnded, conv.Status)
}

func TestCleanupRemovesEndedConversations(t *testing.T) {
	m := conversation.New()
	m.Scan(map[string]string{"a": "plaza", "b": "plaza"})
	m.Scan(map[string]string{"a": "plaza", "b": "market"}) // b leaves, ends the conversation

	m.Cleanup()
	require.Empty(t, m.All())
}
