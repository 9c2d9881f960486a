package layer

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

func TestKMaxSingleSlice(t *testing.T) {
	p := NewKMax(2, 1, 1)

	out, err := p.Forward(tensor.Vec(3, 1, 4, 1, 5))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 1}, out.Dims())
	require.Equal(t, []float64{4, 5}, out.Data())

	sel, ok := p.Selection()
	require.True(t, ok)
	require.Equal(t, []int{2, 4}, sel.Origin)
	require.Equal(t, 5, sel.NumFrames)

	grad, err := p.Backward(tensor.Vec(10, 20), 0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 5, 1}, grad.Dims())
	require.Equal(t, []float64{0, 0, 10, 0, 20}, grad.Data())

	_, ok = p.Selection()
	require.False(t, ok, "selection is consumed by backward")
}

func TestKMaxFewerFramesThanK(t *testing.T) {
	p := NewKMax(3, 1, 1)

	out, err := p.Forward(tensor.Vec(2, 7))
	require.NoError(t, err)
	require.Equal(t, []float64{2, 7, 0}, out.Data())

	sel, _ := p.Selection()
	require.Equal(t, 2, sel.Filled())
	in, ok := sel.Source(2)
	require.False(t, ok)
	require.Equal(t, Unset, in)
	in, ok = sel.Source(1)
	require.True(t, ok)
	require.Equal(t, 1, in)

	grad, err := p.Backward(tensor.Vec(1, 2, 3), 0)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, grad.Data())
}

func TestKMaxUnderfillCounted(t *testing.T) {
	before := testutil.ToFloat64(underfilledSlices)

	p := NewKMax(4, 2, 3)
	_, err := p.Forward(tensor.New(2, 1, 3))
	require.NoError(t, err)

	require.Equal(t, before+6, testutil.ToFloat64(underfilledSlices))
}

func TestKMaxTiesPreferEarlierFrames(t *testing.T) {
	p := NewKMax(2, 1, 1)

	_, err := p.Forward(tensor.Vec(1, 5, 5, 5, 0))
	require.NoError(t, err)
	sel, _ := p.Selection()
	require.Equal(t, []int{1, 2}, sel.Origin)
}

func TestKMaxNaNRanksLargest(t *testing.T) {
	tests := []struct {
		name   string
		x      *tensor.Tensor
		k      int
		origin []int
	}{
		{"nan among larger values", tensor.Vec(2, 8, math.NaN(), 4, 7), 2, []int{1, 2}},
		{"nan before last", tensor.Vec(1, math.NaN(), 3), 2, []int{1, 2}},
		{"nan and max", tensor.Vec(5, math.NaN(), 1, 9), 2, []int{1, 3}},
		{"two nans", tensor.Vec(math.NaN(), 4, math.NaN()), 2, []int{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewKMax(tt.k, 1, 1)
			out, err := p.Forward(tt.x)
			require.NoError(t, err)

			sel, _ := p.Selection()
			require.Equal(t, tt.origin, sel.Origin)
			for i, src := range sel.Origin {
				v := tt.x.At(src)
				if math.IsNaN(v) {
					require.True(t, math.IsNaN(out.At(i)))
				} else {
					require.Equal(t, v, out.At(i))
				}
			}
		})
	}
}

func TestKMaxNegativeValues(t *testing.T) {
	p := NewKMax(2, 1, 1)

	out, err := p.Forward(tensor.Vec(-3, -1, -2, -9))
	require.NoError(t, err)
	require.Equal(t, []float64{-1, -2}, out.Data())
}

func TestKMaxMultipleFeatureMapsAndEmbeddings(t *testing.T) {
	// 2 feature maps x 3 frames x 2 embedding dims
	x, err := tensor.FromData([]float64{
		// map 0
		1, 6,
		3, 5,
		2, 4,
		// map 1
		9, 0,
		7, 8,
		8, 1,
	}, 2, 3, 2)
	require.NoError(t, err)

	p := NewKMax(2, 2, 2)
	out, err := p.Forward(x)
	require.NoError(t, err)

	want := []float64{
		// map 0: col 0 keeps frames 1,2; col 1 keeps frames 0,1
		3, 6,
		2, 5,
		// map 1: col 0 keeps frames 0,2; col 1 keeps frames 1,2
		9, 8,
		8, 1,
	}
	require.Equal(t, want, out.Data())
}

func TestKMaxKeepsLargestInTemporalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))

	for trial := 0; trial < 20; trial++ {
		k := 1 + rng.Intn(4)
		fm := 1 + rng.Intn(3)
		emb := 1 + rng.Intn(3)
		frames := k + rng.Intn(5)

		x := tensor.New(fm, frames, emb)
		for i := range x.Data() {
			x.Data()[i] = rng.NormFloat64()
		}

		p := NewKMax(k, fm, emb)
		out, err := p.Forward(x)
		require.NoError(t, err)

		for l := 0; l < fm; l++ {
			for j := 0; j < emb; j++ {
				type frame struct {
					idx int
					val float64
				}
				slice := make([]frame, frames)
				for i := 0; i < frames; i++ {
					slice[i] = frame{i, x.At3(l, i, j)}
				}
				sort.SliceStable(slice, func(a, b int) bool { return slice[a].val > slice[b].val })
				top := slice[:k]
				sort.Slice(top, func(a, b int) bool { return top[a].idx < top[b].idx })

				for i, f := range top {
					require.Equal(t, f.val, out.At3(l, i, j))
				}
			}
		}

		sel, _ := p.Selection()
		require.Equal(t, out.Len(), sel.Filled())
	}
}

func TestKMaxBackwardRoutesEachSlotOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(8))

	for _, frames := range []int{1, 2, 5, 9} {
		p := NewKMax(3, 2, 4)
		x := tensor.New(2, frames, 4)
		for i := range x.Data() {
			x.Data()[i] = rng.Float64()
		}
		_, err := p.Forward(x)
		require.NoError(t, err)
		sel, _ := p.Selection()
		filled := sel.Filled()

		ones := tensor.New(2, 3, 4)
		for i := range ones.Data() {
			ones.Data()[i] = 1
		}
		grad, err := p.Backward(ones, 0)
		require.NoError(t, err)
		require.Equal(t, []int{2, frames, 4}, grad.Dims())

		var sum float64
		for _, v := range grad.Data() {
			require.Contains(t, []float64{0, 1}, v)
			sum += v
		}
		require.Equal(t, float64(filled), sum)
		require.Equal(t, 2*min(3, frames)*4, filled)
	}
}

func TestKMaxVariableLengthAcrossCalls(t *testing.T) {
	p := NewKMax(1, 1, 2)

	_, err := p.Forward(tensor.Vec(1, 2, 3, 0))
	require.NoError(t, err)
	g, err := p.Backward(tensor.Vec(1, 1), 0)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 1, 0}, g.Data())

	_, err = p.Forward(tensor.Vec(5, 0, 1, 1, 0, 9))
	require.NoError(t, err)
	g, err = p.Backward(tensor.Vec(2, 3), 0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 2}, g.Dims())
	require.Equal(t, []float64{2, 0, 0, 0, 0, 3}, g.Data())
}

func TestKMaxContractErrors(t *testing.T) {
	p := NewKMax(2, 2, 2)
	require.False(t, p.HasParams())
	require.Nil(t, p.Params())
	require.Nil(t, GetParams(p))
	require.Nil(t, GetParamGrads(p))
	require.Nil(t, GetBiasParams(p))
	require.Nil(t, GetBiasGrads(p))

	_, err := p.Backward(tensor.New(2, 2, 2), 0)
	require.ErrorIs(t, err, ErrNoForward)

	_, err = p.Forward(tensor.New(5))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Forward(tensor.New(2, 3, 2))
	require.NoError(t, err)
	_, err = p.Backward(tensor.New(3), 0)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	_, err = p.Backward(tensor.New(2, 2, 2), 0)
	require.NoError(t, err)
	_, err = p.Backward(tensor.New(2, 2, 2), 0)
	require.ErrorIs(t, err, ErrNoForward)
}
