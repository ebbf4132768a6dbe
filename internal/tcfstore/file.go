// Package tcfstore reads and writes graph tensors in TCF containers.
package tcfstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/pkg/tcf"
)

var ErrTensorNotFound = errors.New("tcfstore: tensor not found")

// Contents is everything a container can carry. Nil sections are omitted.
type Contents struct {
	Metadata []byte
	Graph    []byte
	Tensors  map[string]graph.Tensor
}

// Create writes c to path, replacing any existing file.
func Create(path string, c Contents) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	w, err := tcf.NewWriter(out)
	if err != nil {
		return err
	}
	if c.Metadata != nil {
		if err := w.WriteSection(tcf.SectionMetadata, 1, c.Metadata); err != nil {
			return err
		}
	}
	if c.Graph != nil {
		if err := w.WriteSection(tcf.SectionGraph, 1, c.Graph); err != nil {
			return err
		}
	}
	if len(c.Tensors) > 0 {
		payloads, err := Payloads(c.Tensors)
		if err != nil {
			return err
		}
		if err := tcf.WriteTensors(w, payloads); err != nil {
			return err
		}
	}
	return w.Finalise()
}

// Payloads converts tensors to container payloads in name order.
func Payloads(tensors map[string]graph.Tensor) ([]tcf.TensorPayload, error) {
	names := make([]string, 0, len(tensors))
	for n := range tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]tcf.TensorPayload, 0, len(names))
	for _, n := range names {
		t := tensors[n]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", n, err)
		}
		shape := make([]uint64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = uint64(d)
		}
		out = append(out, tcf.TensorPayload{Name: n, DType: t.DType.TCF(), Shape: shape, Data: t.Data})
	}
	return out, nil
}

type File struct {
	file     *tcf.File
	index    *tcf.TensorIndex
	dataSect *tcf.Section
}

type TensorInfo struct {
	DType    graph.DType
	Shape    graph.Shape
	DataOff  uint64
	DataSize uint64
}

// Open maps a container. Files without tensor sections open with no tensors.
func Open(path string) (*File, error) {
	tf, err := tcf.Open(path)
	if err != nil {
		return nil, err
	}

	cleanup := func(err error) (*File, error) {
		_ = tf.Close()
		return nil, err
	}

	f := &File{file: tf}
	raw := tf.Payload(tcf.SectionTensorIndex)
	if raw == nil {
		return f, nil
	}
	index, err := tcf.ParseTensorIndexSection(raw)
	if err != nil {
		return cleanup(err)
	}
	// tcf.Open guarantees the data section accompanies the index
	f.index, f.dataSect = index, tf.Section(tcf.SectionTensorData)
	return f, nil
}

func (f *File) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.index = nil
	f.dataSect = nil
	return err
}

func (f *File) sectionData(t tcf.SectionType) []byte {
	if f == nil || f.file == nil {
		return nil
	}
	return f.file.Payload(t)
}

// Metadata returns the raw metadata section, or nil. The slice is only
// valid until Close.
func (f *File) Metadata() []byte { return f.sectionData(tcf.SectionMetadata) }

// Graph returns the raw graph section, or nil.
func (f *File) Graph() []byte { return f.sectionData(tcf.SectionGraph) }

// Names lists stored tensors in name order.
func (f *File) Names() []string {
	if f == nil || f.index == nil {
		return nil
	}
	out := make([]string, 0, f.index.Count())
	for i := 0; i < f.index.Count(); i++ {
		if n, err := f.index.Name(i); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (f *File) Info(name string) (TensorInfo, error) {
	if f == nil || f.index == nil {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	idx, ok := f.index.Find(name)
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	entry, err := f.index.Entry(idx)
	if err != nil {
		return TensorInfo{}, err
	}
	dims, err := f.index.Shape(idx)
	if err != nil {
		return TensorInfo{}, err
	}
	dt, err := graph.DTypeFromTCF(entry.DType)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	shape := make(graph.Shape, len(dims))
	for i, d := range dims {
		if d > math.MaxInt64 {
			return TensorInfo{}, fmt.Errorf("tensor %s: dimension too large", name)
		}
		shape[i] = int64(d)
	}
	return TensorInfo{DType: dt, Shape: shape, DataOff: entry.DataOff, DataSize: entry.DataSize}, nil
}

func (f *File) raw(name string) ([]byte, TensorInfo, error) {
	info, err := f.Info(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	if err := f.validateTensorRange(info.DataOff, info.DataSize); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	idx, _ := f.index.Find(name)
	raw, err := f.index.TensorData(f.file, idx)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	return raw, info, nil
}

// Tensor copies a stored tensor out of the mapping.
func (f *File) Tensor(name string) (graph.Tensor, error) {
	raw, info, err := f.raw(name)
	if err != nil {
		return graph.Tensor{}, err
	}
	t := graph.Tensor{DType: info.DType, Shape: info.Shape, Data: append([]byte(nil), raw...)}
	if err := t.Validate(); err != nil {
		return graph.Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, nil
}

// Tensors copies every stored tensor.
func (f *File) Tensors() (map[string]graph.Tensor, error) {
	out := make(map[string]graph.Tensor)
	for _, n := range f.Names() {
		t, err := f.Tensor(n)
		if err != nil {
			return nil, err
		}
		out[n] = t
	}
	return out, nil
}

// ReadTensorF32 decodes a floating point tensor to float32.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.raw(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := info.Shape.NumElements()
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	if int64(len(raw)) != n*int64(info.DType.Size()) {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: invalid %s data size", name, info.DType)
	}

	switch info.DType {
	case graph.Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, info, nil
	case graph.BFloat16:
		return bfloat16.DecodeFloat32(raw), info, nil
	case graph.Float16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, info, nil
	case graph.Float64:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		return out, info, nil
	default:
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
}

func (f *File) validateTensorRange(off, size uint64) error {
	if f == nil || f.dataSect == nil {
		return errors.New("tcf: missing tensor data section")
	}
	end := off + size
	if end < off {
		return errors.New("tcf: tensor data offset overflow")
	}
	if off < f.dataSect.Offset || end > f.dataSect.Offset+f.dataSect.Size {
		return errors.New("tcf: tensor data out of bounds")
	}
	return nil
}
