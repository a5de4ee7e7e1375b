package location

import "math/rand"

// MaxBFSDepth bounds pathfinding depth (hops from the start location) per
// spec.md section 4.1.
const MaxBFSDepth = 5

// OutcomeKind classifies the result of resolving a move.
type OutcomeKind int

const (
	OutcomeNoOp OutcomeKind = iota
	OutcomeMoved
	OutcomeTravelling
	OutcomeFailed
)

// Outcome describes the result of a single resolve_move call. A resolve
// that creates a new location (because the target id was absent from the
// graph) sets Created/CreatedLocation regardless of the final Kind.
type Outcome struct {
	Kind OutcomeKind

	Created         bool
	CreatedLocation ID

	NewLocation   ID   // set when Kind == OutcomeMoved
	Path          []ID // full path, set when Kind == OutcomeTravelling (first hop)
	NextHop       ID   // set when Kind == OutcomeTravelling
	RemainingPath []ID // path including NextHop, for storing in agent dynamic state

	Reason         string // set when Kind == OutcomeFailed
	AlreadyReported bool  // true if this (agent,target) pair already failed this tick
}

type failKey struct {
	agent  string
	target ID
}

// Resolver resolves agent movement against a Graph using BFS, a seeded RNG
// for dynamic-location distance draws, and a per-tick failed-movement
// cache. One Resolver belongs to one Run.
type Resolver struct {
	Graph *Graph
	Rng   *rand.Rand

	failedThisTick map[failKey]bool
}

// NewResolver creates a movement resolver bound to graph and rng. The rng
// must be the run's seeded source so distance draws stay reproducible.
func NewResolver(g *Graph, rng *rand.Rand) *Resolver {
	return &Resolver{Graph: g, Rng: rng, failedThisTick: make(map[failKey]bool)}
}

// ClearFailedCache resets the per-tick failed-movement cache. The engine
// calls this once at the start of every tick (spec.md section 4.1
// invariant).
func (r *Resolver) ClearFailedCache() {
	r.failedThisTick = make(map[failKey]bool)
}

// Resolve attempts to move agentID from current to target.
func (r *Resolver) Resolve(agentID string, current, target ID) Outcome {
	if target == current {
		return Outcome{Kind: OutcomeNoOp}
	}

	created := false
	if !r.Graph.Has(target) {
		r.createLocation(current, target)
		created = true
	}

	path := r.bfs(current, target, MaxBFSDepth)
	if path == nil {
		key := failKey{agentID, target}
		already := r.failedThisTick[key]
		r.failedThisTick[key] = true
		return Outcome{
			Kind:            OutcomeFailed,
			Reason:          "unreachable",
			Created:         created,
			CreatedLocation: target,
			AlreadyReported: already,
		}
	}

	if len(path) == 2 {
		return Outcome{Kind: OutcomeMoved, NewLocation: target, Created: created, CreatedLocation: target}
	}

	return Outcome{
		Kind:          OutcomeTravelling,
		Path:          path,
		NextHop:       path[1],
		RemainingPath: path[1:],
		Created:       created,
	}
}

// createLocation adds target to the graph with a seeded-random distance
// (1-3) and bidirectional adjacency to origin, per spec.md section 4.1.
func (r *Resolver) createLocation(origin, target ID) {
	loc := &Location{
		ID:          target,
		Description: flavorDescription(r.Rng.Int63(), target),
		Distance:    1 + r.Rng.Intn(3),
	}
	r.Graph.Add(loc)
	r.Graph.Link(origin, target)
}

// bfs returns the shortest path from start to target (inclusive of both
// ends), or nil if no path exists within maxDepth hops. Ties are broken by
// each location's adjacency list order, which is stable and reproducible.
func (r *Resolver) bfs(start, target ID, maxDepth int) []ID {
	type queued struct {
		id    ID
		depth int
	}

	visited := map[ID]bool{start: true}
	prev := map[ID]ID{}
	queue := []queued{{start, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.id == target {
			return reconstructPath(prev, start, target)
		}
		if cur.depth >= maxDepth {
			continue
		}

		loc, ok := r.Graph.Get(cur.id)
		if !ok {
			continue
		}
		for _, next := range loc.Nearby {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur.id
			queue = append(queue, queued{next, cur.depth + 1})
		}
	}
	return nil
}

func reconstructPath(prev map[ID]ID, start, target ID) []ID {
	path := []ID{target}
	cur := target
	for cur != start {
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		path = append([]ID{p}, path...)
		cur = p
	}
	return path
}
