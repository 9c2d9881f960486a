package layer

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

var _ Layer = (*KMax)(nil)

// Unset marks a pooled output slot that no input frame was copied into.
const Unset = -1

// Selection maps every pooled output position to the linear input index it
// was copied from, or Unset.
type Selection struct {
	Origin    []int
	NumFrames int
}

// Source returns the input index behind output position out and whether the
// slot was filled.
func (s *Selection) Source(out int) (int, bool) {
	in := s.Origin[out]
	return in, in != Unset
}

// Filled counts output slots backed by an input frame.
func (s *Selection) Filled() int {
	n := 0
	for _, in := range s.Origin {
		if in != Unset {
			n++
		}
	}
	return n
}

// KMax is temporal k-max pooling (Kalchbrenner & Blunsom). For every
// (feature map, embedding coordinate) pair it keeps the k largest values
// over time in their original temporal order. With k = 1 it is max pooling
// over time.
//
// Input is featureMapSz x numFrames x embeddingSz where numFrames may change
// from call to call; output is always featureMapSz x k x embeddingSz.
type KMax struct {
	k            int
	featureMapSz int
	embeddingSz  int

	// selection of the pending forward pass
	sel *Selection
}

// NewKMax creates a k-max pooling layer.
func NewKMax(k, featureMapSz, embeddingSz int) *KMax {
	if k <= 0 || featureMapSz <= 0 || embeddingSz <= 0 {
		panic(fmt.Sprintf("layer: invalid k-max sizes k=%d featureMapSz=%d embeddingSz=%d",
			k, featureMapSz, embeddingSz))
	}
	return &KMax{
		k:            k,
		featureMapSz: featureMapSz,
		embeddingSz:  embeddingSz,
	}
}

func (p *KMax) Kind() Kind { return KindKMax }

// HasParams is always false: pooling has nothing to train.
func (p *KMax) HasParams() bool { return false }

func (p *KMax) Params() *Params { return nil }

func (p *KMax) K() int { return p.k }

func (p *KMax) FeatureMapSz() int { return p.featureMapSz }

func (p *KMax) EmbeddingSz() int { return p.embeddingSz }

func (p *KMax) Config() Config {
	return Config{
		Kind:         KindKMax,
		K:            p.k,
		FeatureMapSz: p.featureMapSz,
		EmbeddingSz:  p.embeddingSz,
	}
}

// Selection returns the record of the pending forward pass, if any. It must
// not be modified.
func (p *KMax) Selection() (*Selection, bool) {
	return p.sel, p.sel != nil
}

// Forward selects the k largest values of every temporal slice. NaN ranks
// above every number and ties go to the lowest temporal index. Slices with
// fewer than k frames leave the remaining slots zero and Unset.
func (p *KMax) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	defer observe(KindKMax, passForward, time.Now())

	frameSz := p.featureMapSz * p.embeddingSz
	if x.Len()%frameSz != 0 {
		return nil, fmt.Errorf("kmax forward: %w: input length %d is not a multiple of %dx%d",
			tensor.ErrShapeMismatch, x.Len(), p.featureMapSz, p.embeddingSz)
	}
	numFrames := x.Len() / frameSz

	out := tensor.New(p.featureMapSz, p.k, p.embeddingSz)
	sel := &Selection{
		Origin:    make([]int, out.Len()),
		NumFrames: numFrames,
	}
	for i := range sel.Origin {
		sel.Origin[i] = Unset
	}

	xd := x.Data()
	od := out.Data()
	n := min(p.k, numFrames)

	// Scratch reused across slices
	frames := make([]int, numFrames)
	picked := make([]int, 0, n)

	for l := 0; l < p.featureMapSz; l++ {
		for j := 0; j < p.embeddingSz; j++ {
			at := func(frame int) float64 {
				return xd[(l*numFrames+frame)*p.embeddingSz+j]
			}
			for i := range frames {
				frames[i] = i
			}
			// Stable, so equal values keep temporal order
			slices.SortStableFunc(frames, func(a, b int) int {
				return rankDesc(at(a), at(b))
			})

			picked = append(picked[:0], frames[:n]...)
			slices.Sort(picked)

			for i, frame := range picked {
				inAddr := (l*numFrames+frame)*p.embeddingSz + j
				outAddr := (l*p.k+i)*p.embeddingSz + j
				od[outAddr] = xd[inAddr]
				sel.Origin[outAddr] = inAddr
			}
		}
	}

	if numFrames < p.k {
		underfilledSlices.Add(float64(frameSz))
		log.Debug().
			Int("k", p.k).
			Int("frames", numFrames).
			Msg("k-max pooling input shorter than k")
	}

	p.sel = sel
	return out, nil
}

// rankDesc orders a before b when a is larger, with NaN above every number.
// Two NaNs compare equal.
func rankDesc(a, b float64) int {
	switch an, bn := math.IsNaN(a), math.IsNaN(b); {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	return cmp.Compare(b, a)
}

// Backward scatters chainGrad to the input positions recorded by the paired
// Forward. Every other input position gets a zero gradient.
func (p *KMax) Backward(chainGrad *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
	defer observe(KindKMax, passBackward, time.Now())

	if p.sel == nil {
		return nil, fmt.Errorf("kmax backward: %w", ErrNoForward)
	}
	if chainGrad.Len() != len(p.sel.Origin) {
		return nil, fmt.Errorf("kmax backward: %w: chain gradient length %d, want %d",
			tensor.ErrShapeMismatch, chainGrad.Len(), len(p.sel.Origin))
	}
	sel := p.sel
	p.sel = nil

	grads := tensor.New(p.featureMapSz, sel.NumFrames, p.embeddingSz)
	gd := grads.Data()
	cg := chainGrad.Data()
	for out, in := range sel.Origin {
		if in == Unset {
			continue
		}
		gd[in] = cg[out]
	}
	return grads, nil
}
