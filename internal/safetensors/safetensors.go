// Package safetensors reads and writes the safetensors format: an 8-byte
// little-endian header length, a JSON header, then raw tensor bytes.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/d4l3k/go-bfloat16"
	json "github.com/goccy/go-json"
	"github.com/x448/float16"
)

const (
	metadataKey    = "__metadata__"
	maxHeaderBytes = 100 << 20
)

var ErrInvalidHeader = errors.New("invalid safetensors header")

type TensorInfo struct {
	DType string
	Shape []int64
	Start int64
	End   int64
}

type File struct {
	Path      string
	DataStart int64
	Metadata  map[string]string
	Tensors   map[string]TensorInfo

	r io.ReaderAt
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Sniff reports whether prefix looks like the start of a safetensors file.
func Sniff(prefix []byte) bool {
	if len(prefix) < 9 {
		return false
	}
	n := binary.LittleEndian.Uint64(prefix)
	return n > 1 && n < maxHeaderBytes && prefix[8] == '{'
}

// Open parses the header of the file at path. Tensor data is read lazily.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}

// Parse reads the header from r, which holds size bytes.
func Parse(r io.ReaderAt, size int64) (*File, error) {
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderBytes || int64(headerLen)+8 > size {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := r.ReadAt(headerBytes, 8); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	var meta map[string]string
	if m, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, fmt.Errorf("%w: metadata: %w", ErrInvalidHeader, err)
		}
		delete(raw, metadataKey)
	}

	dataStart := int64(8 + headerLen)
	dataSize := size - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %w", ErrInvalidHeader, name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrInvalidHeader, name)
		}
		info := TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
		if info.Start < 0 || info.End < info.Start || info.End > dataSize {
			return nil, fmt.Errorf("%w: tensor %s: offsets [%d,%d) outside %d data bytes", ErrInvalidHeader, name, info.Start, info.End, dataSize)
		}
		n, err := numElements(info.Shape)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %w", ErrInvalidHeader, name, err)
		}
		if w := dtypeSize(info.DType); w > 0 && int64(n*w) != info.End-info.Start {
			return nil, fmt.Errorf("%w: tensor %s: %d bytes for %d %s elements", ErrInvalidHeader, name, info.End-info.Start, n, info.DType)
		}
		tensors[name] = info
	}
	return &File{DataStart: dataStart, Metadata: meta, Tensors: tensors, r: r}, nil
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	buf := make([]byte, t.End-t.Start)
	if _, err := f.r.ReadAt(buf, f.DataStart+t.Start); err != nil && !(errors.Is(err, io.EOF) && len(buf) == 0) {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 reads a floating point tensor widened to float32.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out, err := DecodeF32(info.DType, raw)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}

// DecodeF32 widens little-endian F32, F16 or BF16 bytes to float32.
func DecodeF32(dtype string, raw []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("invalid f32 data size %d", len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "F16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("invalid f16 data size %d", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case "BF16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("invalid bf16 data size %d", len(raw))
		}
		return bfloat16.DecodeFloat32(raw), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}

func dtypeSize(dtype string) int {
	switch dtype {
	case "F64", "I64", "U64":
		return 8
	case "F32", "I32", "U32":
		return 4
	case "F16", "BF16", "I16", "U16":
		return 2
	case "I8", "U8", "BOOL":
		return 1
	}
	return 0
}

// numElements returns the element count; a scalar has an empty shape.
func numElements(shape []int64) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d > 0 && n > math.MaxInt/int(d) {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= int(d)
	}
	return n, nil
}
