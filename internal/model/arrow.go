package model

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-lattice/internal/network"
	"github.com/23skdu/longbow-lattice/internal/tensor"
)

// ParamSchema describes one row per parameter tensor.
var ParamSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "layer", Type: arrow.PrimitiveTypes.Int32},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "param", Type: arrow.BinaryTypes.String},
		{Name: "rows", Type: arrow.PrimitiveTypes.Int32},
		{Name: "cols", Type: arrow.PrimitiveTypes.Int32},
		{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

// ParamRecord builds a record batch of the weights and biases in s.
// Parameter-free layers contribute no rows. The caller releases the result.
func ParamRecord(mem memory.Allocator, s *network.Stack) arrow.RecordBatch {
	layerB := array.NewInt32Builder(mem)
	defer layerB.Release()
	kindB := array.NewStringBuilder(mem)
	defer kindB.Release()
	paramB := array.NewStringBuilder(mem)
	defer paramB.Release()
	rowsB := array.NewInt32Builder(mem)
	defer rowsB.Release()
	colsB := array.NewInt32Builder(mem)
	defer colsB.Release()
	valuesB := array.NewListBuilder(mem, arrow.PrimitiveTypes.Float64)
	defer valuesB.Release()
	floatB := valuesB.ValueBuilder().(*array.Float64Builder)

	appendParam := func(idx int, kind, name string, t *tensor.Tensor) {
		rows, cols := t.Dense().Dims()
		layerB.Append(int32(idx))
		kindB.Append(kind)
		paramB.Append(name)
		rowsB.Append(int32(rows))
		colsB.Append(int32(cols))
		valuesB.Append(true)
		floatB.AppendValues(t.Data(), nil)
	}

	var n int64
	for i, l := range s.Layers() {
		p := l.Params()
		if p == nil {
			continue
		}
		appendParam(i, string(l.Kind()), "weights", p.Weights)
		appendParam(i, string(l.Kind()), "biases", p.Biases)
		n += 2
	}

	cols := []arrow.Array{
		layerB.NewArray(),
		kindB.NewArray(),
		paramB.NewArray(),
		rowsB.NewArray(),
		colsB.NewArray(),
		valuesB.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(ParamSchema, cols, n)
}

// WriteParams writes the parameters of s to w as an Arrow IPC stream.
func WriteParams(w io.Writer, s *network.Stack) error {
	rec := ParamRecord(memory.NewGoAllocator(), s)
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
