package cooperation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/cooperation"
)

func TestProposeAndAcceptTaskTransitionsToInProgress(t *testing.T) {
	c := cooperation.New([]string{"survive"})

	task := c.ProposeTask("alice", "build shelter", 5, []string{"carpentry"}, 1)
	require.Equal(t, cooperation.TaskProposed, task.Status)

	accepted, ok := c.AcceptTask("bob", task.ID)
	require.True(t, ok)
	require.Equal(t, cooperation.TaskInProgress, accepted.Status)
	require.Equal(t, []string{"bob"}, accepted.AssignedAgents)
}

func TestAcceptTaskIsIdempotentForTheSameAgent(t *testing.T) {
	c := cooperation.New(nil)
	task := c.ProposeTask("alice", "task", 1, nil, 1)

	c.AcceptTask("bob", task.ID)
	c.AcceptTask("bob", task.ID)

	require.Equal(t, []string{"bob"}, task.AssignedAgents)
}

func TestReportProgressCompletesAtFullProgress(t *testing.T) {
	c := cooperation.New(nil)
	task := c.ProposeTask("alice", "task", 1, nil, 1)

	updated, ok := c.ReportProgress(task.ID, 100, "")
	require.True(t, ok)
	require.Equal(t, cooperation.TaskCompleted, updated.Status)
	require.Equal(t, 100, updated.Progress)
}

func TestReportProgressClampsBounds(t *testing.T) {
	c := cooperation.New(nil)
	task := c.ProposeTask("alice", "task", 1, nil, 1)

	over, _ := c.ReportProgress(task.ID, 150, "")
	require.Equal(t, 100, over.Progress)

	under, _ := c.ReportProgress(task.ID, -10, cooperation.TaskInProgress)
	require.Equal(t, 0, under.Progress)
	require.Equal(t, cooperation.TaskInProgress, under.Status)
}

func TestCallForVoteRejectsWhileOneIsOpen(t *testing.T) {
	c := cooperation.New(nil)

	_, ok := c.CallForVote("alice", "go north or south?", []string{"north", "south"}, 1)
	require.True(t, ok)

	_, ok = c.CallForVote("bob", "second proposal", []string{"yes", "no"}, 1)
	require.False(t, ok, "a second call_for_vote while one is open must be rejected")
}

func TestCloseVoteIfOpenDoesNotCloseSameStepItOpened(t *testing.T) {
	c := cooperation.New(nil)
	c.CallForVote("alice", "proposal", []string{"a", "b"}, 5)

	require.Nil(t, c.CloseVoteIfOpen(5), "a vote cannot close on the same step it opened")

	closed := c.CloseVoteIfOpen(6)
	require.NotNil(t, closed)
	require.True(t, closed.Closed)
}

func TestCloseVoteTalliesBallotsAndBreaksTiesByDeclarationOrder(t *testing.T) {
	c := cooperation.New(nil)
	v, _ := c.CallForVote("alice", "proposal", []string{"north", "south"}, 1)

	require.True(t, c.CastBallot("alice", "north"))
	require.True(t, c.CastBallot("bob", "south"))
	// tie: both options have 1 vote, declaration order picks "north" first.

	closed := c.CloseVoteIfOpen(2)
	require.Equal(t, v.ID, closed.ID)
	require.Equal(t, "north", closed.Winner)
}

func TestCastBallotRejectsInvalidOption(t *testing.T) {
	c := cooperation.New(nil)
	c.CallForVote("alice", "proposal", []string{"yes", "no"}, 1)

	require.False(t, c.CastBallot("bob", "maybe"))
}

func TestVisibleTasksSortedByPriorityThenProposedStep(t *testing.T) {
	c := cooperation.New(nil)
	low := c.ProposeTask("alice", "low priority", 1, nil, 1)
	high := c.ProposeTask("bob", "high priority", 9, nil, 2)

	tasks := c.VisibleTasks()
	require.Len(t, tasks, 2)
	require.Equal(t, high.ID, tasks[0].ID)
	require.Equal(t, low.ID, tasks[1].ID)
}
