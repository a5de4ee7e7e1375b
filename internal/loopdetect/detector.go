// Package loopdetect implements the loop detector: a short per-agent
// window of recent actions and conversation topics used to surface
// advisory suggestions. See design doc component 4.5.
package loopdetect

// WindowSize is the number of recent entries kept per agent — resized
// down from the teacher's 50-slot memory window to the spec's 5.
const WindowSize = 5

// repeatThreshold is how many of the last WindowSize slots must match
// before a suggestion is emitted.
const repeatThreshold = 3

// actionKey is an (action_type, target) pair.
type actionKey struct {
	actionType string
	target     string
}

// agentWindow holds one agent's bounded rings of recent actions and
// conversation topics.
type agentWindow struct {
	actions []actionKey
	topics  []string
}

func pushBounded[T any](ring []T, v T, max int) []T {
	ring = append(ring, v)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

// Detector tracks one agentWindow per agent. One Detector belongs to one
// Run — grounded on the teacher's bounded agents.Memory window, resized
// and keyed by agent id instead of embedded per-agent.
type Detector struct {
	windows map[string]*agentWindow
}

// New creates an empty loop detector.
func New() *Detector {
	return &Detector{windows: make(map[string]*agentWindow)}
}

func (d *Detector) window(agentID string) *agentWindow {
	w, ok := d.windows[agentID]
	if !ok {
		w = &agentWindow{}
		d.windows[agentID] = w
	}
	return w
}

// RecordAction pushes an (actionType, target) pair into agentID's window.
func (d *Detector) RecordAction(agentID, actionType, target string) {
	w := d.window(agentID)
	w.actions = pushBounded(w.actions, actionKey{actionType, target}, WindowSize)
}

// RecordTopic pushes a conversation-topic summary into agentID's window.
func (d *Detector) RecordTopic(agentID, topic string) {
	w := d.window(agentID)
	w.topics = pushBounded(w.topics, topic, WindowSize)
}

// Suggestion returns an advisory string to append to agentID's next
// context if the same action/target pair or the same topic occupies at
// least repeatThreshold of the last WindowSize slots. It returns "" when
// no repetition is detected. The engine never rewrites the agent's
// output based on this — it is advisory only.
func (d *Detector) Suggestion(agentID string) string {
	w, ok := d.windows[agentID]
	if !ok {
		return ""
	}

	if key, count := mostCommon(w.actions); count >= repeatThreshold {
		return "you appear to be repeating " + key.actionType + " on " + key.target + "; consider a different approach."
	}
	if topic, count := mostCommonString(w.topics); count >= repeatThreshold {
		return "you appear to be repeating the topic \"" + topic + "\"; consider moving the conversation forward."
	}
	return ""
}

func mostCommon(actions []actionKey) (actionKey, int) {
	counts := make(map[actionKey]int)
	for _, a := range actions {
		counts[a]++
	}
	var best actionKey
	bestCount := 0
	for _, a := range actions { // iterate in insertion order for determinism
		if counts[a] > bestCount {
			best = a
			bestCount = counts[a]
		}
	}
	return best, bestCount
}

func mostCommonString(topics []string) (string, int) {
	counts := make(map[string]int)
	for _, t := range topics {
		counts[t]++
	}
	best := ""
	bestCount := 0
	for _, t := range topics {
		if counts[t] > bestCount {
			best = t
			bestCount = counts[t]
		}
	}
	return best, bestCount
}
