package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/nlpodyssey/gopickle/types"
	"github.com/x448/float16"

	"github.com/samcharles93/ganport/internal/graph"
)

// ndarrayReconstruct stands in for numpy.core.multiarray._reconstruct.
type ndarrayReconstruct struct{}

func (ndarrayReconstruct) Call(args ...interface{}) (interface{}, error) {
	return &ndarray{}, nil
}

// dtypeClass stands in for numpy.dtype.
type dtypeClass struct{}

func (dtypeClass) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("numpy.dtype: missing type code")
	}
	code, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("numpy.dtype: type code is %T", args[0])
	}
	return &dtype{code: code, order: '<'}, nil
}

type dtype struct {
	code  string
	order byte
}

func (d *dtype) PySetState(state interface{}) error {
	t, ok := state.(*types.Tuple)
	if !ok || t.Len() < 2 {
		return fmt.Errorf("numpy.dtype: unexpected state %T", state)
	}
	if s, ok := t.Get(1).(string); ok && len(s) == 1 {
		d.order = s[0]
	}
	return nil
}

// itemSize returns the element width and whether the code is a float.
func (d *dtype) itemSize() (int, graph.DType, error) {
	code := d.code
	if len(code) > 0 && (code[0] == '<' || code[0] == '>' || code[0] == '=' || code[0] == '|') {
		code = code[1:]
	}
	switch code {
	case "f2":
		return 2, graph.Float32, nil
	case "f4":
		return 4, graph.Float32, nil
	case "f8":
		return 8, graph.Float32, nil
	case "i4":
		return 4, graph.Int32, nil
	case "i8":
		return 8, graph.Int64, nil
	case "u1":
		return 1, graph.UInt8, nil
	case "b1":
		return 1, graph.Bool, nil
	}
	return 0, "", fmt.Errorf("unsupported numpy dtype %q", d.code)
}

type ndarray struct {
	shape   []int64
	dtype   *dtype
	fortran bool
	raw     []byte
}

func (a *ndarray) PySetState(state interface{}) error {
	t, ok := state.(*types.Tuple)
	if !ok || t.Len() != 5 {
		return fmt.Errorf("numpy.ndarray: unexpected state %T", state)
	}
	shape, err := intTuple(t.Get(1))
	if err != nil {
		return fmt.Errorf("numpy.ndarray shape: %w", err)
	}
	dt, ok := t.Get(2).(*dtype)
	if !ok {
		return fmt.Errorf("numpy.ndarray: dtype is %T", t.Get(2))
	}
	fortran, _ := t.Get(3).(bool)
	var raw []byte
	switch v := t.Get(4).(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("numpy.ndarray: object arrays are not supported (%T)", v)
	}
	a.shape, a.dtype, a.fortran, a.raw = shape, dt, fortran, raw
	return nil
}

// tensor converts the array to a little-endian, C-ordered tensor. Float
// arrays are stored as float32.
func (a *ndarray) tensor() (graph.Tensor, error) {
	if a.dtype == nil {
		return graph.Tensor{}, fmt.Errorf("numpy.ndarray: missing state")
	}
	width, out, err := a.dtype.itemSize()
	if err != nil {
		return graph.Tensor{}, err
	}
	shape := graph.Shape(a.shape)
	n, err := shape.NumElements()
	if err != nil {
		return graph.Tensor{}, err
	}
	if int64(len(a.raw)) != n*int64(width) {
		return graph.Tensor{}, fmt.Errorf("numpy.ndarray: %d bytes for %d elements of %s", len(a.raw), n, a.dtype.code)
	}
	raw := a.raw
	if a.dtype.order == '>' && width > 1 {
		raw = swapBytes(raw, width)
	}
	if a.fortran && len(a.shape) > 1 {
		raw = fortranToC(raw, a.shape, width)
	}

	if out != graph.Float32 || width == 4 {
		return graph.Tensor{DType: out, Shape: shape.Clone(), Data: append([]byte(nil), raw...)}, nil
	}
	data := make([]byte, n*4)
	for i := int64(0); i < n; i++ {
		var v float32
		switch width {
		case 2:
			v = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		case 8:
			v = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return graph.Tensor{DType: graph.Float32, Shape: shape.Clone(), Data: data}, nil
}

func swapBytes(raw []byte, width int) []byte {
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += width {
		for j := 0; j < width; j++ {
			out[i+j] = raw[i+width-1-j]
		}
	}
	return out
}

// fortranToC reorders column-major element data into row-major order.
func fortranToC(raw []byte, shape []int64, width int) []byte {
	out := make([]byte, len(raw))
	rank := len(shape)
	idx := make([]int64, rank)
	total := int64(len(raw) / width)
	for c := int64(0); c < total; c++ {
		var f, stride int64 = 0, 1
		for d := 0; d < rank; d++ {
			f += idx[d] * stride
			stride *= shape[d]
		}
		copy(out[c*int64(width):(c+1)*int64(width)], raw[f*int64(width):(f+1)*int64(width)])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func intTuple(v interface{}) ([]int64, error) {
	t, ok := v.(*types.Tuple)
	if !ok {
		return nil, fmt.Errorf("expected tuple, got %T", v)
	}
	out := make([]int64, t.Len())
	for i := range out {
		n, ok := toInt64(t.Get(i))
		if !ok {
			return nil, fmt.Errorf("element %d is %T", i, t.Get(i))
		}
		out[i] = n
	}
	return out, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case *big.Int:
		if n.IsInt64() {
			return n.Int64(), true
		}
	}
	return 0, false
}
