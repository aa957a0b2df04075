package base

import "math"

// Scalar is the set of element types a halo exchange can carry.
type Scalar interface {
	~uint8 | ~uint32 | ~uint64 | ~int32 | ~int64 | ~float32 | ~float64
}

// Apply combines two elements under an associative operator.
func Apply[T Scalar](op OP, a, b T) T {
	switch op {
	case SUM:
		return a + b
	case PROD:
		return a * b
	case MIN:
		if b < a {
			return b
		}
		return a
	case MAX:
		if b > a {
			return b
		}
		return a
	}
	panic("base: unknown op")
}

// Identity returns the value e such that Apply(op, e, x) == x for all x.
func Identity[T Scalar](op OP) T {
	switch op {
	case SUM:
		return 0
	case PROD:
		return 1
	case MIN:
		return maxValue[T]()
	case MAX:
		return minValue[T]()
	}
	panic("base: unknown op")
}

func maxValue[T Scalar]() T {
	var z T
	switch any(z).(type) {
	case uint8:
		return T(math.MaxUint8)
	case uint32:
		v := uint32(math.MaxUint32)
		return T(v)
	case uint64:
		v := uint64(math.MaxUint64)
		return T(v)
	case int32:
		v := int32(math.MaxInt32)
		return T(v)
	case int64:
		v := int64(math.MaxInt64)
		return T(v)
	case float32:
		return T(float32(math.Inf(1)))
	case float64:
		return T(math.Inf(1))
	}
	panic("base: unknown scalar type")
}

func minValue[T Scalar]() T {
	var z T
	switch any(z).(type) {
	case uint8, uint32, uint64:
		return 0
	case int32:
		v := int64(math.MinInt32)
		return T(v)
	case int64:
		v := int64(math.MinInt64)
		return T(v)
	case float32:
		return T(float32(math.Inf(-1)))
	case float64:
		return T(math.Inf(-1))
	}
	panic("base: unknown scalar type")
}

func transform[T Scalar](z, x, y []T, op OP) {
	for i := range z {
		z[i] = Apply(op, x[i], y[i])
	}
}

// Transform performs y[i] = op(y[i], x[i]) for vectors y and x.
func Transform(y, x *Vector, op OP) {
	Transform2(y, x, y, op)
}

// Transform2 performs z[i] = op(x[i], y[i]) for vectors z and x, y.
// Count and Type of the three vectors must be consistent.
func Transform2(z, x, y *Vector, op OP) {
	switch z.Type {
	case U8:
		transform(z.AsU8(), x.AsU8(), y.AsU8(), op)
	case U32:
		transform(z.AsU32(), x.AsU32(), y.AsU32(), op)
	case U64:
		transform(z.AsU64(), x.AsU64(), y.AsU64(), op)
	case I32:
		transform(z.AsI32(), x.AsI32(), y.AsI32(), op)
	case I64:
		transform(z.AsI64(), x.AsI64(), y.AsI64(), op)
	case F32:
		transform(z.AsF32(), x.AsF32(), y.AsF32(), op)
	case F64:
		transform(z.AsF64(), x.AsF64(), y.AsF64(), op)
	default:
		panic("base: unknown data type")
	}
}
