package location

import (
	"fmt"
	"hash/fnv"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// flavor descriptions are cosmetic only: they never feed back into
// movement outcomes, distance draws, or event ordering. Two runs with the
// same seed produce the same text for the same dynamically created id,
// but nothing in the engine inspects the text itself.
var flavorBases = []string{
	"a quiet clearing",
	"a narrow passage",
	"an open square",
	"a dim alcove",
	"a sunlit courtyard",
	"a cluttered workshop",
	"a windswept overlook",
	"a damp cellar",
}

var flavorDetails = []string{
	"the air smells faintly of rain",
	"dust motes drift in the light",
	"distant voices echo off the walls",
	"something rustles just out of sight",
	"the ground is uneven underfoot",
	"a faint draft moves through the space",
}

// flavorDescription deterministically derives a description for a newly
// created location from seedSeed (the run's RNG draw at creation time) and
// the location's id, using opensimplex noise as the selection source.
func flavorDescription(seedSeed int64, id ID) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	idHash := int64(h.Sum64())

	noise := opensimplex.NewNormalized(seedSeed ^ idHash)
	baseSample := noise.Eval2(float64(idHash%1000), 0)
	detailSample := noise.Eval2(0, float64(idHash%1000))

	base := flavorBases[int(baseSample*float64(len(flavorBases)))%len(flavorBases)]
	detail := flavorDetails[int(detailSample*float64(len(flavorDetails)))%len(flavorDetails)]

	return fmt.Sprintf("%s; %s.", base, detail)
}
