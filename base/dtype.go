package base

type DataType int

const (
	U8 DataType = iota
	U32
	U64
	I32
	I64
	F32
	F64
)

var dtypeSizes = map[DataType]int{
	U8:  1,
	U32: 4,
	U64: 8,
	I32: 4,
	I64: 8,
	F32: 4,
	F64: 8,
}

func (t DataType) Size() int {
	return dtypeSizes[t]
}

var dtypeNames = map[DataType]string{
	U8:  "u8",
	U32: "u32",
	U64: "u64",
	I32: "i32",
	I64: "i64",
	F32: "f32",
	F64: "f64",
}

func (t DataType) String() string {
	return dtypeNames[t]
}
