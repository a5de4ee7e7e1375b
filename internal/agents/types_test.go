package agents_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emotionsim/engine/internal/agents"
	"github.com/emotionsim/engine/internal/location"
)

func newTestInstance() *agents.Instance {
	return agents.NewInstance(agents.Template{
		Name: "alice",
		Role: agents.RoleHuman,
		Initial: agents.InitialState{
			LocationID: "plaza",
			Health:     5,
			Stress:     5,
		},
	})
}

func TestApplyHealthDeltaClampsAndDeactivatesAtZero(t *testing.T) {
	a := newTestInstance()

	a.ApplyHealthDelta(-100)
	require.Equal(t, 0.0, a.Health)
	require.False(t, a.IsActive)

	a.ApplyHealthDelta(100)
	require.Equal(t, 10.0, a.Health, "health still clamps to 10 even after deactivation")
}

func TestApplyStressDeltaClamps(t *testing.T) {
	a := newTestInstance()

	a.ApplyStressDelta(100)
	require.Equal(t, 10.0, a.Stress)

	a.ApplyStressDelta(-100)
	require.Equal(t, 0.0, a.Stress)
}

func TestInventoryTakeAndAdd(t *testing.T) {
	a := newTestInstance()
	a.AddToInventory(location.Item{Name: "torch"})

	require.True(t, a.HasItem("torch"))

	it, ok := a.TakeFromInventory("torch")
	require.True(t, ok)
	require.Equal(t, "torch", it.Name)
	require.False(t, a.HasItem("torch"))

	_, ok = a.TakeFromInventory("torch")
	require.False(t, ok)
}

func TestResponseProbabilityDefaultsTo1WithoutPersona(t *testing.T) {
	a := newTestInstance()
	require.Equal(t, 1.0, a.ResponseProbability())
}

func TestResponseProbabilityRisesWithExtraversion(t *testing.T) {
	low := agents.NewInstance(agents.Template{
		Role:    agents.RoleHuman,
		Persona: &agents.Persona{Extraversion: 0},
	})
	high := agents.NewInstance(agents.Template{
		Role:    agents.RoleHuman,
		Persona: &agents.Persona{Extraversion: 1},
	})

	require.Greater(t, high.ResponseProbability(), low.ResponseProbability())
}

func TestResponseProbabilityDropsUnderHighStressAndNeuroticism(t *testing.T) {
	calm := agents.NewInstance(agents.Template{
		Role:    agents.RoleHuman,
		Persona: &agents.Persona{Extraversion: 0.5, Neuroticism: 1},
		Initial: agents.InitialState{Health: 10, Stress: 0},
	})
	stressed := agents.NewInstance(agents.Template{
		Role:    agents.RoleHuman,
		Persona: &agents.Persona{Extraversion: 0.5, Neuroticism: 1},
		Initial: agents.InitialState{Health: 10, Stress: 10},
	})

	require.Greater(t, calm.ResponseProbability(), stressed.ResponseProbability())
}
