package layer

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

var _ Layer = (*Dense)(nil)

// Dense is a fully-connected layer computing y = W·x + b with W stored
// row-major as outputLength x inputLength.
type Dense struct {
	outputLength int
	inputLength  int
	params       Params

	// input of the pending forward pass
	input *tensor.Tensor
}

// NewDense creates a dense layer with weights and biases drawn uniformly
// from [-1/sqrt(inputLength), 1/sqrt(inputLength)) using rng.
func NewDense(outputLength, inputLength int, rng *rand.Rand) *Dense {
	d := newDense(outputLength, inputLength)

	stdv := 1 / math.Sqrt(float64(inputLength))
	uniform := func() float64 {
		return rng.Float64()*2*stdv - stdv
	}

	w := d.params.Weights.Data()
	b := d.params.Biases.Data()
	for i := 0; i < outputLength; i++ {
		row := w[i*inputLength : (i+1)*inputLength]
		for j := range row {
			row[j] = uniform()
		}
		b[i] = uniform()
	}
	return d
}

// newDense allocates a zero-initialized layer.
func newDense(outputLength, inputLength int) *Dense {
	if outputLength <= 0 || inputLength <= 0 {
		panic(fmt.Sprintf("layer: invalid dense dimensions %dx%d", outputLength, inputLength))
	}
	return &Dense{
		outputLength: outputLength,
		inputLength:  inputLength,
		params: Params{
			Weights:     tensor.New(outputLength, inputLength),
			WeightGrads: tensor.New(outputLength, inputLength),
			WeightAccum: tensor.New(outputLength, inputLength),
			Biases:      tensor.New(outputLength),
			BiasGrads:   tensor.New(outputLength),
		},
	}
}

func (d *Dense) Kind() Kind { return KindDense }

func (d *Dense) HasParams() bool { return true }

func (d *Dense) Params() *Params { return &d.params }

func (d *Dense) OutputLength() int { return d.outputLength }

func (d *Dense) InputLength() int { return d.inputLength }

func (d *Dense) Config() Config {
	return Config{
		Kind:         KindDense,
		OutputLength: d.outputLength,
		InputLength:  d.inputLength,
	}
}

// Forward returns W·x + b as a new vector of length outputLength.
func (d *Dense) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	defer observe(KindDense, passForward, time.Now())

	if x.Len() != d.inputLength {
		return nil, fmt.Errorf("dense forward: %w: input length %d, want %d",
			tensor.ErrShapeMismatch, x.Len(), d.inputLength)
	}

	out := tensor.New(d.outputLength)
	copy(out.Data(), d.params.Biases.Data())
	blas64.Gemv(blas.NoTrans, 1, d.params.Weights.General(), x.Vector(), 1, out.Vector())

	d.input = x
	return out, nil
}

// Backward returns Wᵀ·chainGrad and overwrites the weight gradient with
// chainGrad ⊗ x and the bias gradient with chainGrad.
func (d *Dense) Backward(chainGrad *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
	defer observe(KindDense, passBackward, time.Now())

	if d.input == nil {
		return nil, fmt.Errorf("dense backward: %w", ErrNoForward)
	}
	if chainGrad.Len() != d.outputLength {
		return nil, fmt.Errorf("dense backward: %w: chain gradient length %d, want %d",
			tensor.ErrShapeMismatch, chainGrad.Len(), d.outputLength)
	}
	x := d.input
	d.input = nil

	w := d.params.Weights.General()
	g := chainGrad.Vector()

	grads := tensor.New(d.inputLength)
	blas64.Gemv(blas.Trans, 1, w, g, 0, grads.Vector())

	// Per-example gradient: no accumulation across calls
	d.params.WeightGrads.Zero()
	blas64.Ger(1, g, x.Vector(), d.params.WeightGrads.General())

	copy(d.params.BiasGrads.Data(), chainGrad.Data())

	// Hand the gradient back in the shape the input arrived in
	if err := grads.Reshape(x.Dims()...); err != nil {
		return nil, fmt.Errorf("dense backward: %w", err)
	}
	return grads, nil
}
