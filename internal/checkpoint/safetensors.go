package checkpoint

import (
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	json "github.com/goccy/go-json"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/safetensors"
)

// Metadata keys carried in the safetensors header.
const (
	metaName         = "name"
	metaBuildFunc    = "build_func_name"
	metaStaticKwargs = "static_kwargs"
	metaAuxiliary    = "auxiliary"
)

var stDTypes = map[string]graph.DType{
	"I32":  graph.Int32,
	"I64":  graph.Int64,
	"U8":   graph.UInt8,
	"BOOL": graph.Bool,
}

func decodeSafetensors(f *safetensors.File) (*Bundle, error) {
	meta := f.Metadata
	b := &Bundle{
		Name:      meta[metaName],
		BuildFunc: meta[metaBuildFunc],
		Config:    graph.NewConfig(),
		Params:    make(map[string]graph.Tensor, len(f.Tensors)),
	}
	if b.BuildFunc == "" {
		return nil, fmt.Errorf("%w: safetensors metadata has no %s", ErrCheckpointFormat, metaBuildFunc)
	}
	if b.Name == "" {
		b.Name = "Gs"
	}
	if raw := meta[metaStaticKwargs]; raw != "" {
		if err := json.Unmarshal([]byte(raw), b.Config); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointFormat, metaStaticKwargs, err)
		}
		// JSON numbers decode as float64; integral values were ints.
		for _, k := range b.Config.Keys() {
			v, _ := b.Config.Get(k)
			if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				b.Config.Set(k, int(f))
			}
		}
	}
	if raw := meta[metaAuxiliary]; raw != "" {
		b.Auxiliary = strings.Split(raw, ",")
	}

	for _, name := range f.Names() {
		raw, info, err := f.ReadTensor(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCheckpointFormat, err)
		}
		t := graph.Tensor{Shape: graph.Shape(info.Shape).Clone()}
		switch info.DType {
		case "F32", "F16", "BF16":
			vals, err := safetensors.DecodeF32(info.DType, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: tensor %s: %w", ErrCheckpointFormat, name, err)
			}
			t = graph.NewFloat32Tensor(t.Shape, vals)
		default:
			dt, ok := stDTypes[info.DType]
			if !ok {
				return nil, fmt.Errorf("%w: tensor %s: unsupported dtype %s", ErrCheckpointFormat, name, info.DType)
			}
			t.DType, t.Data = dt, raw
		}
		if t.Shape == nil {
			t.Shape = graph.Shape{}
		}
		b.Params[name] = t
	}
	return b, nil
}

// Encoding selects the float storage type WriteSafetensors uses.
type Encoding string

const (
	EncodeF32  Encoding = "F32"
	EncodeBF16 Encoding = "BF16"
)

// WriteSafetensors re-encodes a bundle so it can be loaded without the
// pickle decoder.
func WriteSafetensors(b *Bundle, path string, enc Encoding) error {
	kwargs, err := json.Marshal(b.Config)
	if err != nil {
		return err
	}
	meta := map[string]string{
		metaName:         b.Name,
		metaBuildFunc:    b.BuildFunc,
		metaStaticKwargs: string(kwargs),
	}
	if len(b.Auxiliary) > 0 {
		meta[metaAuxiliary] = strings.Join(b.Auxiliary, ",")
	}

	tensors := make([]safetensors.Tensor, 0, len(b.Params))
	for _, name := range b.ParamNames() {
		t := b.Params[name]
		st := safetensors.Tensor{Name: name, Shape: []int64(t.Shape), Data: t.Data}
		switch t.DType {
		case graph.Float32:
			st.DType = "F32"
			if enc == EncodeBF16 {
				vals, err := t.Float32s()
				if err != nil {
					return err
				}
				st.DType, st.Data = "BF16", bfloat16.EncodeFloat32(vals)
			}
		default:
			found := false
			for k, v := range stDTypes {
				if v == t.DType {
					st.DType, found = k, true
					break
				}
			}
			if !found {
				return fmt.Errorf("parameter %s: cannot encode dtype %s", name, t.DType)
			}
		}
		tensors = append(tensors, st)
	}
	return safetensors.WriteFile(path, tensors, meta)
}
