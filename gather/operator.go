// Package gather applies row-grouped sparse reduction operators: every
// destination row collects one or more source positions and folds them
// under an associative operator. The crystal router embeds one operator per
// communication level.
package gather

import (
	"github.com/distmesh/crystal/base"
)

// Operator is a compact row-major sparse structure. Row i reduces the
// source positions ColIds[RowStarts[i]:RowStarts[i+1]].
type Operator struct {
	Nrows int
	Ncols int

	RowStarts []int32
	ColIds    []int32
}

// NNZ returns the number of stored source references.
func (o *Operator) NNZ() int {
	return len(o.ColIds)
}

// Reduce folds src into dst with k entries per row. dst must hold at least
// Nrows*k elements of t, src at least Ncols*k. Rows with no sources are
// written with the operator identity.
func (o *Operator) Reduce(dst, src []byte, k int, t base.DataType, op base.OP) {
	switch t {
	case base.U8:
		reduceRows(base.AsSlice[uint8](dst, o.Nrows*k), base.AsSlice[uint8](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.U32:
		reduceRows(base.AsSlice[uint32](dst, o.Nrows*k), base.AsSlice[uint32](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.U64:
		reduceRows(base.AsSlice[uint64](dst, o.Nrows*k), base.AsSlice[uint64](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.I32:
		reduceRows(base.AsSlice[int32](dst, o.Nrows*k), base.AsSlice[int32](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.I64:
		reduceRows(base.AsSlice[int64](dst, o.Nrows*k), base.AsSlice[int64](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.F32:
		reduceRows(base.AsSlice[float32](dst, o.Nrows*k), base.AsSlice[float32](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	case base.F64:
		reduceRows(base.AsSlice[float64](dst, o.Nrows*k), base.AsSlice[float64](src, o.Ncols*k), k, o.RowStarts, o.ColIds, op)
	default:
		panic("gather: unknown data type")
	}
}

func reduceRows[T base.Scalar](dst, src []T, k int, rowStarts, colIds []int32, op base.OP) {
	nrows := len(rowStarts) - 1
	for i := 0; i < nrows; i++ {
		start, end := rowStarts[i], rowStarts[i+1]
		for j := 0; j < k; j++ {
			acc := base.Identity[T](op)
			for c := start; c < end; c++ {
				acc = base.Apply(op, acc, src[int(colIds[c])*k+j])
			}
			dst[i*k+j] = acc
		}
	}
}
