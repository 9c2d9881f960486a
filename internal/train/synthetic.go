package train

import (
	"math/rand"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

// Synthetic generates variable-length sequences shaped
// featureMaps x frames x embeddingSz with frames drawn from
// [minFrames, maxFrames]. The label of each sequence is the mean over all
// (feature map, embedding) slices of the slice maximum.
func Synthetic(rng *rand.Rand, n, featureMaps, embeddingSz, minFrames, maxFrames int) []Example {
	out := make([]Example, n)
	for e := range out {
		frames := minFrames
		if maxFrames > minFrames {
			frames += rng.Intn(maxFrames - minFrames + 1)
		}
		x := tensor.New(featureMaps, frames, embeddingSz)
		for i := range x.Data() {
			x.Data()[i] = rng.Float64()
		}

		var sum float64
		for l := 0; l < featureMaps; l++ {
			for j := 0; j < embeddingSz; j++ {
				best := 0.0
				for i := 0; i < frames; i++ {
					best = max(best, x.At3(l, i, j))
				}
				sum += best
			}
		}
		out[e] = Example{X: x, Label: sum / float64(featureMaps*embeddingSz)}
	}
	return out
}
