// Package network chains layers into a feed-forward stack.
package network

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-lattice/internal/layer"
	"github.com/23skdu/longbow-lattice/internal/tensor"
)

var tracer = otel.Tracer("lattice-network")

// Stack runs layers forward in order and backward in reverse order. Like the
// layers it holds, a Stack serves one example at a time.
type Stack struct {
	layers []layer.Layer
}

func NewStack(layers ...layer.Layer) *Stack {
	return &Stack{layers: layers}
}

// Layers returns the layers in forward order.
func (s *Stack) Layers() []layer.Layer {
	return s.layers
}

// Forward feeds x through every layer and returns the last output.
func (s *Stack) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx, span := tracer.Start(ctx, "Stack.Forward")
	defer span.End()

	out := x
	for i, l := range s.layers {
		var err error
		out, err = s.run(ctx, "forward", i, l, func() (*tensor.Tensor, error) {
			return l.Forward(out)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "forward failed")
			return nil, err
		}
	}
	return out, nil
}

// Backward propagates grad from the last layer to the first and returns the
// gradient w.r.t. the stack input.
func (s *Stack) Backward(ctx context.Context, grad *tensor.Tensor, label float64) (*tensor.Tensor, error) {
	ctx, span := tracer.Start(ctx, "Stack.Backward")
	defer span.End()

	g := grad
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		var err error
		g, err = s.run(ctx, "backward", i, l, func() (*tensor.Tensor, error) {
			return l.Backward(g, label)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backward failed")
			return nil, err
		}
	}
	return g, nil
}

func (s *Stack) run(ctx context.Context, pass string, i int, l layer.Layer, fn func() (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	_, span := tracer.Start(ctx, "layer."+pass)
	defer span.End()
	span.SetAttributes(
		attribute.Int("layer.index", i),
		attribute.String("layer.kind", string(l.Kind())),
	)

	out, err := fn()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("layer %d (%s) %s: %w", i, l.Kind(), pass, err)
	}
	return out, nil
}
