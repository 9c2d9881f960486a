package layer

import (
	"fmt"
)

// Config holds the hyperparameters of one layer. Only the fields used by
// Kind are meaningful.
type Config struct {
	Kind Kind `cbor:"kind"`

	// Dense
	OutputLength int `cbor:"output_length,omitempty"`
	InputLength  int `cbor:"input_length,omitempty"`

	// KMax
	K            int `cbor:"k,omitempty"`
	FeatureMapSz int `cbor:"feature_map_sz,omitempty"`
	EmbeddingSz  int `cbor:"embedding_sz,omitempty"`
}

// Blob carries the raw trainable values of a layer. Weights are row-major.
type Blob struct {
	Weights []float64 `cbor:"weights"`
	Biases  []float64 `cbor:"biases"`
}

// Validate checks that the hyperparameters describe a constructible layer.
func (c Config) Validate() error {
	switch c.Kind {
	case KindDense:
		if c.OutputLength <= 0 || c.InputLength <= 0 {
			return fmt.Errorf("%w: dense %dx%d", ErrInvalidConfig, c.OutputLength, c.InputLength)
		}
		if c.K != 0 || c.FeatureMapSz != 0 || c.EmbeddingSz != 0 {
			return fmt.Errorf("%w: dense config carries pooling sizes", ErrInvalidConfig)
		}
	case KindKMax:
		if c.K <= 0 || c.FeatureMapSz <= 0 || c.EmbeddingSz <= 0 {
			return fmt.Errorf("%w: kmax k=%d featureMapSz=%d embeddingSz=%d",
				ErrInvalidConfig, c.K, c.FeatureMapSz, c.EmbeddingSz)
		}
		if c.OutputLength != 0 || c.InputLength != 0 {
			return fmt.Errorf("%w: kmax config carries dense lengths", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, c.Kind)
	}
	return nil
}

// New builds a layer from its hyperparameters and parameter blob in one
// step. Dense layers require a blob; parameter-free layers reject one.
// Gradients and the optimizer accumulator start at zero.
func New(cfg Config, blob *Blob) (Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindKMax:
		if blob != nil && (len(blob.Weights) > 0 || len(blob.Biases) > 0) {
			return nil, fmt.Errorf("%w: kmax has no parameters", ErrInvalidConfig)
		}
		return NewKMax(cfg.K, cfg.FeatureMapSz, cfg.EmbeddingSz), nil
	default:
		if blob == nil {
			return nil, fmt.Errorf("%w: dense layer needs a parameter blob", ErrInvalidConfig)
		}
		d := newDense(cfg.OutputLength, cfg.InputLength)
		if err := d.params.Weights.CopyFrom(blob.Weights); err != nil {
			return nil, fmt.Errorf("%w: weights: %v", ErrInvalidConfig, err)
		}
		if err := d.params.Biases.CopyFrom(blob.Biases); err != nil {
			return nil, fmt.Errorf("%w: biases: %v", ErrInvalidConfig, err)
		}
		return d, nil
	}
}

// Describe returns the persisted view of l. The blob is nil for
// parameter-free layers and holds copies otherwise.
func Describe(l Layer) (Config, *Blob) {
	p := l.Params()
	if p == nil {
		return l.Config(), nil
	}
	return l.Config(), &Blob{
		Weights: p.Weights.Clone().Data(),
		Biases:  p.Biases.Clone().Data(),
	}
}
