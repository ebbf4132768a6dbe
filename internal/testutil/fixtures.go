// Package testutil holds fixtures shared by package tests: a tiny
// generator configuration, matching checkpoints and a pickle encoder.
package testutil

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/samcharles93/ganport/internal/checkpoint"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/stylegan"
)

// SmallConfig is the static configuration of an 8x8 generator, shaped like
// one saved during training: half precision blocks, random noise and no
// dlatents output.
func SmallConfig() *graph.Config {
	return graph.ConfigOf(
		"latent_size", 4,
		"label_size", 0,
		"dlatent_size", 4,
		"mapping_layers", 2,
		"mapping_fmaps", 4,
		"resolution", 8,
		"num_channels", 3,
		"fmap_base", 16,
		"fmap_max", 8,
		"architecture", "skip",
		"num_fp16_res", 2,
		"randomize_noise", true,
		"is_training", false,
	)
}

// VarSpecs lists the parameters the small generator declares.
func VarSpecs(t testing.TB) []graph.VarSpec {
	t.Helper()
	top, err := stylegan.Build(graph.New(), "Gs", SmallConfig(), nil)
	if err != nil {
		t.Fatalf("build small generator: %v", err)
	}
	return top.Variables
}

// Bundle returns a checkpoint bundle whose parameters exactly match the
// small generator. Values are deterministic.
func Bundle(t testing.TB) *checkpoint.Bundle {
	t.Helper()
	params := make(map[string]graph.Tensor)
	for i, v := range VarSpecs(t) {
		n, _ := v.Shape.NumElements()
		vals := make([]float32, n)
		for j := range vals {
			vals[j] = float32(i+1) + float32(j)/100
		}
		params[v.Name] = graph.NewFloat32Tensor(v.Shape, vals)
	}
	return &checkpoint.Bundle{
		Name:      "Gs",
		BuildFunc: "G_main",
		Config:    SmallConfig(),
		Params:    params,
		Auxiliary: []string{"G", "D"},
	}
}

func ndarray(t graph.Tensor) any {
	shape := make(Tuple, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int(d)
	}
	dtype := Build{
		Obj:   Reduce{Global{"numpy", "dtype"}, Tuple{"f4", false, true}},
		State: Tuple{3, "<", nil, nil, nil, -1, -1, 0},
	}
	return Build{
		Obj:   Reduce{Global{"numpy.core.multiarray", "_reconstruct"}, Tuple{Global{"numpy", "ndarray"}, Tuple{0}, []byte("b")}},
		State: Tuple{1, shape, dtype, false, t.Data},
	}
}

// Network encodes a dnnlib network object.
func Network(name, buildFunc string, kwargs *graph.Config, components Dict, vars map[string]graph.Tensor) any {
	kw := Dict{}
	for _, k := range kwargs.Keys() {
		v, _ := kwargs.Get(k)
		kw = append(kw, KV{k, v})
	}
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	vl := List{}
	for _, n := range names {
		vl = append(vl, Tuple{n, ndarray(vars[n])})
	}
	return Build{
		Obj: NewObj{Global{"dnnlib.tflib.network", "Network"}, Tuple{}},
		State: Dict{
			{"version", 4},
			{"name", name},
			{"static_kwargs", kw},
			{"components", components},
			{"build_module_src", "def G_main(): pass\n"},
			{"build_func_name", buildFunc},
			{"variables", vl},
		},
	}
}

// GeneratorPickle encodes b as the Gs network of a (G, D, Gs) tuple, with
// mapping and synthesis parameters split into component networks.
func GeneratorPickle(t testing.TB, b *checkpoint.Bundle, proto byte) []byte {
	t.Helper()
	gen := func(name string) any {
		split := map[string]map[string]graph.Tensor{"": {}, "G_mapping": {}, "G_synthesis": {}}
		for n, v := range b.Params {
			comp, rest, ok := strings.Cut(n, "/")
			if ok && (comp == "G_mapping" || comp == "G_synthesis") {
				split[comp][rest] = v
			} else {
				split[""][n] = v
			}
		}
		comps := Dict{
			{"mapping", Network("G_mapping", "G_mapping", graph.NewConfig(), Dict{}, split["G_mapping"])},
			{"synthesis", Network("G_synthesis", "G_synthesis", graph.NewConfig(), Dict{}, split["G_synthesis"])},
		}
		return Network(name, b.BuildFunc, b.Config, comps, split[""])
	}
	disc := Network("D", "D_main", graph.ConfigOf("resolution", 8), Dict{}, map[string]graph.Tensor{
		"Output/weight": graph.NewFloat32Tensor(graph.Shape{4, 1}, []float32{1, 2, 3, 4}),
	})
	data, err := Pickle(Tuple{gen("G"), disc, gen(b.Name)}, proto)
	if err != nil {
		t.Fatalf("pickle: %v", err)
	}
	return data
}

// WriteFile writes data under dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Float32Bytes encodes values little-endian.
func Float32Bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
