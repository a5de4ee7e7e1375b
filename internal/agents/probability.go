package agents

// highStressThreshold is the stress level (inclusive) spec.md section 9
// resolves "high stress" to mean, for the response-probability formula.
const highStressThreshold = 7.0

// ResponseProbability computes p, the probability a human agent responds
// this tick, per the Open Question resolution in SPEC_FULL.md section
// 4.6: extraversion raises p monotonically; high neuroticism lowers p
// when stress is already high.
func (a *Instance) ResponseProbability() float64 {
	persona := a.Template.Persona
	if persona == nil {
		return 1
	}

	highStress := 0.0
	if a.Stress >= highStressThreshold {
		highStress = 1.0
	}

	p := 0.15 + 0.55*persona.Extraversion - 0.25*persona.Neuroticism*highStress
	return clamp(p, 0.05, 0.97)
}
