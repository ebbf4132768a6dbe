package graph

import (
	"fmt"

	"github.com/samcharles93/ganport/pkg/tcf"
)

// DType names an element type the way the serving format spells it.
type DType string

const (
	Float32  DType = "float32"
	Float16  DType = "float16"
	BFloat16 DType = "bfloat16"
	Float64  DType = "float64"
	Int8     DType = "int8"
	UInt8    DType = "uint8"
	Int32    DType = "int32"
	Int64    DType = "int64"
	Bool     DType = "bool"
)

var dtypeTCF = map[DType]tcf.TensorDType{
	Float32:  tcf.DTypeF32,
	Float16:  tcf.DTypeF16,
	BFloat16: tcf.DTypeBF16,
	Float64:  tcf.DTypeF64,
	Int8:     tcf.DTypeI8,
	UInt8:    tcf.DTypeU8,
	Int32:    tcf.DTypeI32,
	Int64:    tcf.DTypeI64,
	Bool:     tcf.DTypeBool,
}

// Size returns the element width in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	return d.TCF().ElemSize()
}

func (d DType) TCF() tcf.TensorDType {
	return dtypeTCF[d]
}

func DTypeFromTCF(t tcf.TensorDType) (DType, error) {
	for d, v := range dtypeTCF {
		if v == t {
			return d, nil
		}
	}
	return "", fmt.Errorf("graph: unsupported container dtype %d", t)
}
