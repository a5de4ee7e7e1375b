// Package agents provides the agent data model: templates, personas,
// dynamic state, and episodic memory. See design doc component (agents).
package agents

import (
	"github.com/google/uuid"
	"github.com/emotionsim/engine/internal/location"
)

// Role is the closed set of agent roles spec.md defines. There is no
// subtype hierarchy: runtime dispatch on Role selects behavior, matching
// the teacher's closed CognitionTier dispatch.
type Role string

const (
	RoleHuman       Role = "human"
	RoleEnvironment Role = "environment"
	RoleDesigner    Role = "designer"
	RoleEvaluator   Role = "evaluator"
)

// Persona carries the Big-Five traits and behavioral modifiers for a
// human agent template.
type Persona struct {
	Age        int    `json:"age"`
	Sex        string `json:"sex"`
	Occupation string `json:"occupation"`
	Backstory  string `json:"backstory"`

	// Big Five, each 0.0-1.0.
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`

	// Behavioral modifiers, each 0.0-1.0.
	RiskTolerance    float64 `json:"risk_tolerance"`
	Empathy          float64 `json:"empathy"`
	Leadership       float64 `json:"leadership"`
	Adaptability     float64 `json:"adaptability"`
	StressResilience float64 `json:"stress_resilience"`
}

// InitialState is the scenario-declared starting dynamic state for an
// agent template.
type InitialState struct {
	LocationID location.ID            `json:"location_id"`
	Health     float64                `json:"health"` // 0-10
	Stress     float64                `json:"stress"` // 0-10
	Inventory  []location.Item        `json:"inventory,omitempty"`
}

// Template is the scenario-authored, immutable agent definition. Run
// start binds one Instance per Template.
type Template struct {
	Name     string   `json:"name"`
	Role     Role     `json:"role"`
	ModelID  string   `json:"model_id"`
	Provider string   `json:"provider"`
	Persona  *Persona `json:"persona,omitempty"` // required for RoleHuman

	Goals   []string     `json:"goals"`
	Initial InitialState `json:"initial_state"`
}

// Instance binds a Template to a running Run, carrying the template's
// immutable configuration plus mutable dynamic state.
type Instance struct {
	ID       uuid.UUID `json:"id"`
	Template Template  `json:"-"`

	LocationID location.ID     `json:"location_id"`
	Health     float64         `json:"health"` // clamped 0-10
	Stress     float64         `json:"stress"` // clamped 0-10
	Inventory  []location.Item `json:"inventory"`
	IsActive   bool            `json:"is_active"`

	// Travel state: set by the movement resolver when a move results in
	// OutcomeTravelling; cleared on arrival.
	TravelPath []location.ID `json:"travel_path,omitempty"`

	Memory *Memory `json:"-"`
}

// NewInstance binds a template to a fresh Instance with its declared
// initial dynamic state.
func NewInstance(tmpl Template) *Instance {
	inv := make([]location.Item, len(tmpl.Initial.Inventory))
	copy(inv, tmpl.Initial.Inventory)

	return &Instance{
		ID:         uuid.New(),
		Template:   tmpl,
		LocationID: tmpl.Initial.LocationID,
		Health:     clamp(tmpl.Initial.Health, 0, 10),
		Stress:     clamp(tmpl.Initial.Stress, 0, 10),
		Inventory:  inv,
		IsActive:   true,
		Memory:     NewMemory(),
	}
}

// Name is a convenience accessor onto the bound template.
func (a *Instance) Name() string { return a.Template.Name }

// Role is a convenience accessor onto the bound template.
func (a *Instance) Role() Role { return a.Template.Role }

// ApplyHealthDelta adjusts health by delta, clamped to [0,10]. Reaching
// zero marks the agent inactive per spec.md section 4.6.
func (a *Instance) ApplyHealthDelta(delta float64) {
	a.Health = clamp(a.Health+delta, 0, 10)
	if a.Health == 0 {
		a.IsActive = false
	}
}

// ApplyStressDelta adjusts stress by delta, clamped to [0,10].
func (a *Instance) ApplyStressDelta(delta float64) {
	a.Stress = clamp(a.Stress+delta, 0, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HasItem reports whether the agent's inventory contains an item by name.
func (a *Instance) HasItem(name string) bool {
	for _, it := range a.Inventory {
		if it.Name == name {
			return true
		}
	}
	return false
}

// TakeFromInventory removes and returns the named item, if present.
func (a *Instance) TakeFromInventory(name string) (location.Item, bool) {
	for i, it := range a.Inventory {
		if it.Name == name {
			a.Inventory = append(a.Inventory[:i], a.Inventory[i+1:]...)
			return it, true
		}
	}
	return location.Item{}, false
}

// AddToInventory appends an item to the agent's inventory.
func (a *Instance) AddToInventory(it location.Item) {
	a.Inventory = append(a.Inventory, it)
}
