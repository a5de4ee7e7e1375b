package runtime

// AdvanceTravel moves every active agent with a pending multi-hop travel
// path one step closer to its destination, without invoking the oracle.
// applyMove resolves and emits the first hop synchronously as part of the
// move action itself; this function covers the remaining hops spec.md
// section 4.1 describes as stored "in dynamic state... until arrival."
// It runs once per tick, before any agent turn, so an agent's own turn
// this tick sees its post-advance location.
func AdvanceTravel(w *World) {
	for _, id := range w.AgentOrder {
		a, ok := w.Agents[id]
		if !ok || !a.IsActive || len(a.TravelPath) == 0 {
			continue
		}
		next := a.TravelPath[0]
		a.TravelPath = a.TravelPath[1:]
		a.LocationID = next
		if len(a.TravelPath) == 0 {
			recordArrival(w, a, next)
		}
		w.emit("agent_moved", map[string]any{"agent_id": id, "location_id": string(next)})
	}
}
