package runtime

import "github.com/emotionsim/engine/internal/agents"

// EnvironmentAgentIDs returns active environment-role agents in template
// declaration order (spec.md section 4.7 step 5: deterministic order).
func EnvironmentAgentIDs(w *World) []string {
	return sortedAgentIDs(w, agents.RoleEnvironment)
}

// HumanAgentIDs returns active human-role agents in a seeded random
// permutation (spec.md section 4.7 step 6), using the run's RNG so the
// order is part of the reproducible sequence.
func HumanAgentIDs(w *World) []string {
	ids := sortedAgentIDs(w, agents.RoleHuman)
	return permutation(w.Rng, ids)
}

// DesignerAgentIDs returns active designer-role agents in template
// declaration order. The designer runs every tick (spec.md section 4.6).
func DesignerAgentIDs(w *World) []string {
	return sortedAgentIDs(w, agents.RoleDesigner)
}

// EvaluatorAgentIDs returns active evaluator-role agents in template
// declaration order. The engine calls this only once, on the terminal
// step (spec.md section 4.6).
func EvaluatorAgentIDs(w *World) []string {
	return sortedAgentIDs(w, agents.RoleEvaluator)
}
