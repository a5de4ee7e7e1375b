// Package cooperation implements the cooperation coordinator: shared
// goals, the task table, and single-tick vote windows. See design doc
// component 4.4.
package cooperation

import (
	"sort"

	"github.com/google/uuid"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskProposed   TaskStatus = "proposed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one shared unit of work agents can propose, accept, and report
// progress on.
type Task struct {
	ID              uuid.UUID  `json:"id"`
	Description     string     `json:"description"`
	Priority        int        `json:"priority"` // 1-10
	Status          TaskStatus `json:"status"`
	AssignedAgents  []string   `json:"assigned_agents"`
	RequiredSkills  []string   `json:"required_skills,omitempty"`
	Progress        int        `json:"progress"` // 0-100
	ProposedByAgent string     `json:"proposed_by_agent"`
	ProposedAtStep  int        `json:"proposed_at_step"`
}

// Vote is a single-tick vote window opened by call_for_vote.
type Vote struct {
	ID          uuid.UUID      `json:"id"`
	OpenedBy    string         `json:"opened_by"`
	Proposal    string         `json:"proposal"`
	Options     []string       `json:"options"`
	OpenedAtStep int           `json:"opened_at_step"`
	Ballots     map[string]string `json:"ballots"` // agent id -> chosen option
	Closed      bool           `json:"closed"`
	Winner      string         `json:"winner,omitempty"`
}

// Coordinator tracks shared goals, the task table, and at most one active
// vote per tick. One Coordinator belongs to one Run.
type Coordinator struct {
	SharedGoals []string
	Tasks       map[uuid.UUID]*Task
	ActiveVote  *Vote
}

// New creates a coordinator with sharedGoals seeded once from agent
// persona goals at run start — grounded on the teacher's SeedFactions
// fixed-roster-at-seed pattern.
func New(sharedGoals []string) *Coordinator {
	goals := append([]string(nil), sharedGoals...)
	return &Coordinator{SharedGoals: goals, Tasks: make(map[uuid.UUID]*Task)}
}

// ProposeTask creates a task in TaskProposed, visible to all agents
// starting next tick.
func (c *Coordinator) ProposeTask(agent, description string, priority int, requiredSkills []string, step int) *Task {
	t := &Task{
		ID:              uuid.New(),
		Description:     description,
		Priority:        priority,
		Status:          TaskProposed,
		RequiredSkills:  requiredSkills,
		ProposedByAgent: agent,
		ProposedAtStep:  step,
	}
	c.Tasks[t.ID] = t
	return t
}

// AcceptTask adds agent to taskID's assigned_agents; if the task was
// TaskProposed and now has at least one assignee, it transitions to
// TaskInProgress.
func (c *Coordinator) AcceptTask(agent string, taskID uuid.UUID) (*Task, bool) {
	t, ok := c.Tasks[taskID]
	if !ok {
		return nil, false
	}
	for _, a := range t.AssignedAgents {
		if a == agent {
			return t, true
		}
	}
	t.AssignedAgents = append(t.AssignedAgents, agent)
	if t.Status == TaskProposed && len(t.AssignedAgents) >= 1 {
		t.Status = TaskInProgress
	}
	return t, true
}

// ReportProgress updates taskID's progress, clamped to [0,100]. Reaching
// 100 or an explicit status of TaskCompleted marks the task complete.
func (c *Coordinator) ReportProgress(taskID uuid.UUID, progress int, status TaskStatus) (*Task, bool) {
	t, ok := c.Tasks[taskID]
	if !ok {
		return nil, false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	if progress == 100 || status == TaskCompleted {
		t.Status = TaskCompleted
		t.Progress = 100
	} else if status != "" {
		t.Status = status
	}
	return t, true
}

// CallForVote opens a vote visible to all agents for exactly the next
// tick. Only one vote may be active at a time; a second call while one is
// open is rejected.
func (c *Coordinator) CallForVote(agent, proposal string, options []string, step int) (*Vote, bool) {
	if c.ActiveVote != nil && !c.ActiveVote.Closed {
		return nil, false
	}
	v := &Vote{
		ID:           uuid.New(),
		OpenedBy:     agent,
		Proposal:     proposal,
		Options:      options,
		OpenedAtStep: step,
		Ballots:      make(map[string]string),
	}
	c.ActiveVote = v
	return v, true
}

// CastBallot records agent's chosen option in the active vote, if one is
// open and the option is valid.
func (c *Coordinator) CastBallot(agent, option string) bool {
	if c.ActiveVote == nil || c.ActiveVote.Closed {
		return false
	}
	valid := false
	for _, o := range c.ActiveVote.Options {
		if o == option {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}
	c.ActiveVote.Ballots[agent] = option
	return true
}

// CloseVoteIfOpen closes the active vote opened before currentStep,
// tallying ballots and resolving ties by option declaration order. The
// engine calls this at the start of every tick with the previous step, so
// a vote opened in tick N stays open through tick N+1 and closes at the
// start of tick N+2 (spec.md section 4.4).
func (c *Coordinator) CloseVoteIfOpen(currentStep int) *Vote {
	v := c.ActiveVote
	if v == nil || v.Closed || v.OpenedAtStep >= currentStep {
		return nil
	}

	tally := make(map[string]int, len(v.Options))
	for _, o := range v.Options {
		tally[o] = 0
	}
	for _, choice := range v.Ballots {
		tally[choice]++
	}

	best := ""
	bestCount := -1
	for _, o := range v.Options { // declaration order breaks ties
		if tally[o] > bestCount {
			bestCount = tally[o]
			best = o
		}
	}
	v.Winner = best
	v.Closed = true
	return v
}

// VisibleTasks returns every task in the table, sorted by priority
// descending then proposed step ascending, for display in an agent's
// context assembly.
func (c *Coordinator) VisibleTasks() []*Task {
	out := make([]*Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ProposedAtStep < out[j].ProposedAtStep
	})
	return out
}
