package engine

import "github.com/emotionsim/engine/internal/runtime"

// Metrics is the step-level aggregate computed once per tick (spec.md
// section 4.7 step 9).
type Metrics struct {
	AvgHealth float64 `json:"avg_health"`
	AvgStress float64 `json:"avg_stress"`
}

func computeMetrics(w *runtime.World) Metrics {
	var sumHealth, sumStress float64
	n := 0
	for _, id := range w.ActiveAgentIDs() {
		a := w.Agents[id]
		sumHealth += a.Health
		sumStress += a.Stress
		n++
	}
	if n == 0 {
		return Metrics{}
	}
	return Metrics{AvgHealth: sumHealth / float64(n), AvgStress: sumStress / float64(n)}
}
