package scenario

import "math/rand"

// weatherStates are the free-form values the weather reserved key can
// cycle through; any non-empty string is valid per spec.md section 3, but
// the engine's own generator (narrowed from the teacher's OpenWeatherMap
// client, see design doc) draws from this fixed set so it stays
// reproducible from the run seed.
var weatherStates = []string{"clear", "overcast", "rain", "storm", "fog", "snow"}

// WeatherGenerator deterministically advances the weather reserved
// world-state key from the run's seeded RNG, replacing the teacher's
// live OpenWeatherMap fetch with a run-scoped, reproducible draw —
// necessary because spec.md section 7 requires bit-for-bit reproduction
// given a fixed seed.
type WeatherGenerator struct {
	rng     *rand.Rand
	current string
}

// NewWeatherGenerator creates a generator seeded from the run's RNG,
// starting at initial (or a drawn state if initial is empty).
func NewWeatherGenerator(rng *rand.Rand, initial string) *WeatherGenerator {
	w := &WeatherGenerator{rng: rng, current: initial}
	if w.current == "" {
		w.current = weatherStates[rng.Intn(len(weatherStates))]
	}
	return w
}

// Current returns the weather state as of the last Advance call (or the
// initial state if Advance has not yet been called).
func (w *WeatherGenerator) Current() string {
	return w.current
}

// Advance draws the next weather state. Weather persists with 70%
// probability each tick and otherwise transitions to a new draw, giving
// runs a mix of stability and variation without an external data feed.
func (w *WeatherGenerator) Advance() string {
	if w.rng.Float64() < 0.7 {
		return w.current
	}
	w.current = weatherStates[w.rng.Intn(len(weatherStates))]
	return w.current
}
