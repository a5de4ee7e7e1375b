package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/bus"
)

func TestPublishDirectDeliversOnlyToRecipient(t *testing.T) {
	b := bus.New(nil, nil)

	msg := b.Publish(1, "alice", bus.Direct, "bob", "hi", nil)
	require.Equal(t, []string{"bob"}, msg.Recipients)

	bobInbox := b.Inbox("bob", 0)
	require.Len(t, bobInbox, 1)
	require.Equal(t, "hi", bobInbox[0].Content)

	aliceInbox := b.Inbox("alice", 0)
	require.Len(t, aliceInbox, 1, "sender keeps a copy of its own sent message")
}

func TestPublishRoomDeliversToAgentsAtLocation(t *testing.T) {
	b := bus.New(func(locationID string) []string {
		if locationID == "plaza" {
			return []string{"alice", "bob"}
		}
		return nil
	}, nil)

	msg := b.Publish(1, "alice", bus.Room, "plaza", "hello room", nil)
	require.ElementsMatch(t, []string{"alice", "bob"}, msg.Recipients)
}

func TestPublishBroadcastDeliversToAllActiveAgents(t *testing.T) {
	b := bus.New(nil, func() []string { return []string{"alice", "bob", "carol"} })

	msg := b.Publish(1, "alice", bus.Broadcast, "", "announcement", nil)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, msg.Recipients)
}

func TestHistoryOrderedByStepThenSequence(t *testing.T) {
	b := bus.New(nil, nil)
	b.Publish(1, "alice", bus.Direct, "bob", "first", nil)
	b.ResetStepSequence()
	b.Publish(2, "alice", bus.Direct, "bob", "second", nil)

	history := b.History(bus.Filter{})
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Content)
	require.Equal(t, "second", history[1].Content)
}

func TestHistoryFiltersByStepRange(t *testing.T) {
	b := bus.New(nil, nil)
	b.Publish(1, "alice", bus.Direct, "bob", "step1", nil)
	b.ResetStepSequence()
	b.Publish(2, "alice", bus.Direct, "bob", "step2", nil)
	b.ResetStepSequence()
	b.Publish(3, "alice", bus.Direct, "bob", "step3", nil)

	filtered := b.History(bus.Filter{FromStep: 2, ToStep: 2})
	require.Len(t, filtered, 1)
	require.Equal(t, "step2", filtered[0].Content)
}

func TestInboxTruncatesToLastN(t *testing.T) {
	b := bus.New(nil, nil)
	for i := 0; i < 5; i++ {
		b.Publish(1, "alice", bus.Direct, "bob", "msg", nil)
	}

	inbox := b.Inbox("bob", 2)
	require.Len(t, inbox, 2)
}
