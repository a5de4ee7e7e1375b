// Package scenario holds the immutable scenario template data model:
// world configuration, location seeds, and agent templates. See design
// doc component (data model / scenario templates).
package scenario

import (
	"github.com/google/uuid"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/location"
)

// TimeOfDay is the reserved time_of_day world-state key's enum.
type TimeOfDay string

const (
	Dawn  TimeOfDay = "dawn"
	Day   TimeOfDay = "day"
	Dusk  TimeOfDay = "dusk"
	Night TimeOfDay = "night"
)

// WorldConfig is the scenario's world_state template: reserved keys
// typed explicitly, everything else scenario-defined in Extra.
type WorldConfig struct {
	HazardLevel int                  `json:"hazard_level"` // 0-10
	Locations   map[location.ID]*location.Location `json:"locations"`
	TimeOfDay   TimeOfDay            `json:"time_of_day"`
	Weather     string               `json:"weather,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Scenario is the immutable template a Run is instantiated from.
type Scenario struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	World          WorldConfig       `json:"world_config"`
	AgentTemplates []agents.Template `json:"agent_templates"` // ordered

	MaxSteps  int     `json:"max_steps"`
	TickDelay float64 `json:"tick_delay_seconds"`
}

// New creates a scenario with an assigned ID and default bounds applied
// where the caller left them at zero.
func New(name, description string, world WorldConfig, templates []agents.Template, maxSteps int, tickDelay float64) *Scenario {
	if maxSteps <= 0 {
		maxSteps = 100
	}
	if tickDelay <= 0 {
		tickDelay = 1
	}
	return &Scenario{
		ID:             uuid.New(),
		Name:           name,
		Description:    description,
		World:          world,
		AgentTemplates: templates,
		MaxSteps:       maxSteps,
		TickDelay:      tickDelay,
	}
}

// BuildGraph materializes a fresh location.Graph from the scenario's
// declared locations, for binding to a new Run.
func (s *Scenario) BuildGraph() *location.Graph {
	g := location.NewGraph()
	for _, loc := range s.World.Locations {
		cp := *loc
		cp.Nearby = append([]location.ID(nil), loc.Nearby...)
		cp.Items = append([]location.Item(nil), loc.Items...)
		g.Add(&cp)
	}
	return g
}
