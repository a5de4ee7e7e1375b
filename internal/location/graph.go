// Package location provides the world's location graph: nodes, items, and
// adjacency, plus the BFS movement resolver that sits on top of it.
// See design doc component 4.1.
package location

import "sync"

// ID identifies a location node. Locations are created either by scenario
// load or dynamically by the movement resolver the first time an agent
// targets an id that doesn't yet exist.
type ID string

// Item is a named object living in exactly one container: a Location's
// Items list or an agent's inventory (see internal/agents).
type Item struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Location is a node in the world graph.
type Location struct {
	ID          ID     `json:"id"`
	Description string `json:"description"`

	// Nearby is kept as an ordered slice, not a set, so BFS tie-breaking
	// is stable and reproducible: ties are broken by adjacency list order.
	Nearby []ID `json:"nearby"`

	Distance       int      `json:"distance"` // semantic cost 1-3, not a graph weight
	Items          []Item   `json:"items"`
	HiddenItems    []string `json:"hidden_items,omitempty"` // revealed by the search action
	HazardAffected bool     `json:"hazard_affected"`
}

func (l *Location) hasNeighbor(id ID) bool {
	for _, n := range l.Nearby {
		if n == id {
			return true
		}
	}
	return false
}

func (l *Location) addNeighbor(id ID) {
	if !l.hasNeighbor(id) {
		l.Nearby = append(l.Nearby, id)
	}
}

// HasItem reports whether an item with the given name sits in this
// location's item list.
func (l *Location) HasItem(name string) bool {
	for _, it := range l.Items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// TakeItem removes and returns the named item from the location, if present.
func (l *Location) TakeItem(name string) (Item, bool) {
	for i, it := range l.Items {
		if it.Name == name {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			return it, true
		}
	}
	return Item{}, false
}

// DropItem appends an item to the location's item list.
func (l *Location) DropItem(it Item) {
	l.Items = append(l.Items, it)
}

// RevealHidden moves any hidden items at this location into the visible
// item list, returning the revealed names. Used by the search action.
func (l *Location) RevealHidden() []string {
	if len(l.HiddenItems) == 0 {
		return nil
	}
	revealed := l.HiddenItems
	for _, name := range revealed {
		l.Items = append(l.Items, Item{Name: name})
	}
	l.HiddenItems = nil
	return revealed
}

// Graph is the adjacency-map world model. A single Graph belongs to one
// Run; it is mutated only from within the active agent's turn, matching
// the ownership discipline in spec.md section 3.
type Graph struct {
	mu   sync.RWMutex
	locs map[ID]*Location
}

// NewGraph creates an empty location graph.
func NewGraph() *Graph {
	return &Graph{locs: make(map[ID]*Location)}
}

// Add inserts or replaces a location node.
func (g *Graph) Add(loc *Location) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locs[loc.ID] = loc
}

// Get returns the location at id, or false if it doesn't exist.
func (g *Graph) Get(id ID) (*Location, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loc, ok := g.locs[id]
	return loc, ok
}

// Has reports whether id exists in the graph.
func (g *Graph) Has(id ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.locs[id]
	return ok
}

// Link bidirectionally connects a and b, creating neither node. Callers
// must have already added both nodes.
func (g *Graph) Link(a, b ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if la, ok := g.locs[a]; ok {
		la.addNeighbor(b)
	}
	if lb, ok := g.locs[b]; ok {
		lb.addNeighbor(a)
	}
}

// IDs returns every location id currently in the graph, in map iteration
// order (non-deterministic) — callers needing stable order should sort.
func (g *Graph) IDs() []ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]ID, 0, len(g.locs))
	for id := range g.locs {
		ids = append(ids, id)
	}
	return ids
}
