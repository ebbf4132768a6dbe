package graph

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is a dense host-side value in little-endian layout.
type Tensor struct {
	DType DType
	Shape Shape
	Data  []byte
}

func (t Tensor) Validate() error {
	if t.DType.Size() == 0 {
		return fmt.Errorf("graph: unsupported dtype %q", t.DType)
	}
	n, err := t.Shape.NumElements()
	if err != nil {
		return err
	}
	if want := n * int64(t.DType.Size()); want != int64(len(t.Data)) {
		return fmt.Errorf("graph: tensor %s %s holds %d bytes, want %d", t.DType, t.Shape, len(t.Data), want)
	}
	return nil
}

func NewFloat32Tensor(shape Shape, vals []float32) Tensor {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Tensor{DType: Float32, Shape: shape.Clone(), Data: data}
}

// Zeros returns a zero-filled tensor of a fully defined shape.
func Zeros(dtype DType, shape Shape) (Tensor, error) {
	n, err := shape.NumElements()
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{DType: dtype, Shape: shape.Clone(), Data: make([]byte, n*int64(dtype.Size()))}, nil
}

func (t Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("graph: tensor is %s, not float32", t.DType)
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}
