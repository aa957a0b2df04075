package base

import (
	"fmt"
	"unsafe"

	"github.com/distmesh/crystal/utils/assert"
)

// Vector is a typed view over a byte buffer.
type Vector struct {
	Data  []byte
	Count int
	Type  DataType
}

func NewVector(count int, dtype DataType) *Vector {
	return &Vector{
		Data:  make([]byte, count*dtype.Size()),
		Count: count,
		Type:  dtype,
	}
}

// Slice returns a new Vector that points to a subset of the original Vector.
// 0 <= begin <= end <= count
func (b *Vector) Slice(begin, end int) *Vector {
	return &Vector{
		Data:  b.Data[begin*b.Type.Size() : end*b.Type.Size()],
		Count: end - begin,
		Type:  b.Type,
	}
}

func (b *Vector) CopyFrom(c *Vector) {
	assert.OK(b.copyFrom(c))
}

func (b *Vector) copyFrom(c *Vector) error {
	if b.Count != c.Count {
		return fmt.Errorf("Vector::Copy error: inconsistent count: %d vs %d", b.Count, c.Count)
	}
	if b.Type != c.Type {
		return fmt.Errorf("Vector::Copy error: inconsistent type: %d vs %d", b.Type, c.Type)
	}
	copy(b.Data, c.Data)
	return nil
}

// AsSlice reinterprets a byte buffer as count elements of T.
func AsSlice[T Scalar](bs []byte, count int) []T {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&bs[0])), count)
}

func (b *Vector) AsU8() []uint8 {
	assert.True(b.Type == U8)
	return AsSlice[uint8](b.Data, b.Count)
}

func (b *Vector) AsU32() []uint32 {
	assert.True(b.Type == U32)
	return AsSlice[uint32](b.Data, b.Count)
}

func (b *Vector) AsU64() []uint64 {
	assert.True(b.Type == U64)
	return AsSlice[uint64](b.Data, b.Count)
}

func (b *Vector) AsI32() []int32 {
	assert.True(b.Type == I32)
	return AsSlice[int32](b.Data, b.Count)
}

func (b *Vector) AsI64() []int64 {
	assert.True(b.Type == I64)
	return AsSlice[int64](b.Data, b.Count)
}

func (b *Vector) AsF32() []float32 {
	assert.True(b.Type == F32)
	return AsSlice[float32](b.Data, b.Count)
}

func (b *Vector) AsF64() []float64 {
	assert.True(b.Type == F64)
	return AsSlice[float64](b.Data, b.Count)
}
