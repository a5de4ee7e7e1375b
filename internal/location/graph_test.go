package location_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/location"
)

func chainGraph() *location.Graph {
	g := location.NewGraph()
	g.Add(&location.Location{ID: "a", Nearby: []location.ID{"b"}})
	g.Add(&location.Location{ID: "b", Nearby: []location.ID{"a", "c"}})
	g.Add(&location.Location{ID: "c", Nearby: []location.ID{"b"}})
	return g
}

func TestResolveNoOpWhenAlreadyAtTarget(t *testing.T) {
	g := chainGraph()
	r := location.NewResolver(g, rand.New(rand.NewSource(1)))

	out := r.Resolve("agent-1", "a", "a")
	require.Equal(t, location.OutcomeNoOp, out.Kind)
}

func TestResolveSingleHopMove(t *testing.T) {
	g := chainGraph()
	r := location.NewResolver(g, rand.New(rand.NewSource(1)))

	out := r.Resolve("agent-1", "a", "b")
	require.Equal(t, location.OutcomeMoved, out.Kind)
	require.Equal(t, location.ID("b"), out.NewLocation)
	require.False(t, out.Created)
}

func TestResolveMultiHopTravelling(t *testing.T) {
	g := chainGraph()
	r := location.NewResolver(g, rand.New(rand.NewSource(1)))

	out := r.Resolve("agent-1", "a", "c")
	require.Equal(t, location.OutcomeTravelling, out.Kind)
	require.Equal(t, location.ID("b"), out.NextHop)
	require.Equal(t, []location.ID{"a", "b", "c"}, out.Path)
	require.Equal(t, []location.ID{"b", "c"}, out.RemainingPath)
}

func TestResolveUnreachableFailsAndReportsOnceUntilCacheClears(t *testing.T) {
	g := location.NewGraph()
	g.Add(&location.Location{ID: "home"})
	g.Add(&location.Location{ID: "island"}) // present, but no edges at all
	r := location.NewResolver(g, rand.New(rand.NewSource(1)))

	first := r.Resolve("agent-1", "home", "island")
	require.Equal(t, location.OutcomeFailed, first.Kind)
	require.Equal(t, "unreachable", first.Reason)
	require.False(t, first.AlreadyReported)

	second := r.Resolve("agent-1", "home", "island")
	require.True(t, second.AlreadyReported, "second failure in the same tick must be marked already-reported")

	r.ClearFailedCache()
	third := r.Resolve("agent-1", "home", "island")
	require.False(t, third.AlreadyReported, "cache must clear between ticks")
}

func TestResolveCreatesMissingLocationAndLinksBidirectionally(t *testing.T) {
	g := location.NewGraph()
	g.Add(&location.Location{ID: "home"})
	r := location.NewResolver(g, rand.New(rand.NewSource(42)))

	out := r.Resolve("agent-1", "home", "new-room")
	require.Equal(t, location.OutcomeMoved, out.Kind)
	require.True(t, out.Created)
	require.Equal(t, location.ID("new-room"), out.CreatedLocation)

	require.True(t, g.Has("new-room"))
	newLoc, ok := g.Get("new-room")
	require.True(t, ok)
	require.Contains(t, newLoc.Nearby, location.ID("home"))
	homeLoc, ok := g.Get("home")
	require.True(t, ok)
	require.Contains(t, homeLoc.Nearby, location.ID("new-room"))
}

func TestBFSRespectsMaxDepth(t *testing.T) {
	g := location.NewGraph()
	// a chain of 8 locations, longer than MaxBFSDepth (5).
	ids := []location.ID{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7"}
	for i, id := range ids {
		loc := &location.Location{ID: id}
		if i > 0 {
			loc.Nearby = append(loc.Nearby, ids[i-1])
		}
		if i < len(ids)-1 {
			loc.Nearby = append(loc.Nearby, ids[i+1])
		}
		g.Add(loc)
	}
	r := location.NewResolver(g, rand.New(rand.NewSource(1)))

	out := r.Resolve("agent-1", "n0", "n7")
	require.Equal(t, location.OutcomeFailed, out.Kind)
}

func TestItemTakeAndDrop(t *testing.T) {
	loc := &location.Location{ID: "room", Items: []location.Item{{Name: "torch"}}}

	it, ok := loc.TakeItem("torch")
	require.True(t, ok)
	require.Equal(t, "torch", it.Name)
	require.False(t, loc.HasItem("torch"))

	loc.DropItem(it)
	require.True(t, loc.HasItem("torch"))
}

func TestRevealHiddenClearsHiddenList(t *testing.T) {
	loc := &location.Location{ID: "room", HiddenItems: []string{"key"}}
	revealed := loc.RevealHidden()
	require.Equal(t, []string{"key"}, revealed)
	require.Empty(t, loc.HiddenItems)
	require.Empty(t, loc.RevealHidden())
}
