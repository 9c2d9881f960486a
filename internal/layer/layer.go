// Package layer implements the forward/backward layer contract and its
// dense affine and temporal k-max pooling realizations.
package layer

import (
	"errors"

	"github.com/23skdu/longbow-lattice/internal/tensor"
)

// Kind identifies a concrete layer type in configs and model files.
type Kind string

const (
	KindDense Kind = "dense"
	KindKMax  Kind = "kmax"
)

var (
	// ErrNoForward is returned by Backward when there is no forward pass
	// waiting to be paired with it.
	ErrNoForward = errors.New("backward called without a pending forward")

	// ErrInvalidConfig is returned when hyperparameters or a parameter blob
	// cannot describe a working layer.
	ErrInvalidConfig = errors.New("invalid layer config")
)

// Layer is a single stage of a network.
//
// A Backward call consumes the transient state of the Forward call before
// it, so each Forward is paired with at most one Backward. Calling Forward
// again discards a pending pairing.
type Layer interface {
	Kind() Kind

	// Forward computes the layer output. x is not mutated but may be
	// retained until the paired Backward.
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)

	// Backward takes the gradient w.r.t. the last Forward output and
	// returns the gradient w.r.t. its input. Parameterized layers also
	// overwrite their weight and bias gradients. label is only read by
	// loss-adjacent layers.
	Backward(chainGrad *tensor.Tensor, label float64) (*tensor.Tensor, error)

	// HasParams reports whether the layer owns trainable state.
	HasParams() bool

	// Params returns the trainable state, or nil when HasParams is false.
	Params() *Params

	Config() Config
}

// Params holds the trainable tensors of a layer. Gradient and accumulator
// tensors share the shape of the parameter they belong to.
type Params struct {
	Weights     *tensor.Tensor
	WeightGrads *tensor.Tensor
	// WeightAccum is owned by the optimizer (momentum or averaging state).
	WeightAccum *tensor.Tensor
	Biases      *tensor.Tensor
	BiasGrads   *tensor.Tensor
}

// GetParams returns the weight tensor of l, or nil if l has no parameters.
func GetParams(l Layer) *tensor.Tensor {
	if p := l.Params(); p != nil {
		return p.Weights
	}
	return nil
}

// GetParamGrads returns the weight gradient of l, or nil.
func GetParamGrads(l Layer) *tensor.Tensor {
	if p := l.Params(); p != nil {
		return p.WeightGrads
	}
	return nil
}

// GetBiasParams returns the bias vector of l, or nil.
func GetBiasParams(l Layer) *tensor.Tensor {
	if p := l.Params(); p != nil {
		return p.Biases
	}
	return nil
}

// GetBiasGrads returns the bias gradient of l, or nil.
func GetBiasGrads(l Layer) *tensor.Tensor {
	if p := l.Params(); p != nil {
		return p.BiasGrads
	}
	return nil
}
