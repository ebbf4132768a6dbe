package stylegan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/ganport/internal/graph"
)

type kernels map[string]bool

func (k kernels) HasKernel(op string) bool { return k[op] }

func smallConfig() *graph.Config {
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
		"num_fp16_res", 0,
		"randomize_noise", false,
		"return_dlatents", true,
	)
}

func build(t *testing.T, cfg *graph.Config, k graph.Kernels) *graph.Topology {
	t.Helper()
	top, err := Build(graph.New(), "Gs", cfg, k)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := top.Graph.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return top
}

func TestBuildRegistered(t *testing.T) {
	t.Parallel()
	if _, ok := graph.Lookup(BuildFuncName); !ok {
		t.Fatalf("%s not registered", BuildFuncName)
	}
}

func TestBuildTemplates(t *testing.T) {
	t.Parallel()
	top := build(t, smallConfig(), nil)

	wantIn := []graph.TensorInfo{
		{Name: "Gs/latents_in:0", DType: graph.Float32, Shape: graph.Shape{-1, 4}},
		{Name: "Gs/labels_in:0", DType: graph.Float32, Shape: graph.Shape{-1, 0}},
	}
	wantOut := []graph.TensorInfo{
		{Name: "Gs/images_out:0", DType: graph.Float32, Shape: graph.Shape{-1, 3, 8, 8}},
		{Name: "Gs/dlatents_out:0", DType: graph.Float32, Shape: graph.Shape{-1, 4, 4}},
	}
	if diff := cmp.Diff(wantIn, top.Inputs); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantOut, top.Outputs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildWithoutDlatentsOutput(t *testing.T) {
	t.Parallel()
	cfg := smallConfig().Merge(graph.ConfigOf("return_dlatents", false))
	top := build(t, cfg, nil)
	if len(top.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(top.Outputs))
	}
}

func TestBuildVariables(t *testing.T) {
	t.Parallel()
	top := build(t, smallConfig(), nil)
	got := map[string]graph.Shape{}
	for _, v := range top.Variables {
		if v.Node != "Gs/"+v.Name {
			t.Fatalf("variable %s bound to node %s", v.Name, v.Node)
		}
		got[v.Name] = v.Shape
	}
	want := map[string]graph.Shape{
		"G_mapping/Dense0/weight":                 {4, 4},
		"G_mapping/Dense0/bias":                   {4},
		"G_mapping/Dense1/weight":                 {4, 4},
		"G_mapping/Dense1/bias":                   {4},
		"dlatent_avg":                             {4},
		"G_synthesis/noise0":                      {1, 1, 4, 4},
		"G_synthesis/noise1":                      {1, 1, 8, 8},
		"G_synthesis/noise2":                      {1, 1, 8, 8},
		"G_synthesis/4x4/Const/const":             {1, 8, 4, 4},
		"G_synthesis/4x4/Conv/weight":             {3, 3, 8, 8},
		"G_synthesis/4x4/Conv/mod_weight":         {4, 8},
		"G_synthesis/4x4/Conv/mod_bias":           {8},
		"G_synthesis/4x4/Conv/noise_strength":     {},
		"G_synthesis/4x4/Conv/bias":               {8},
		"G_synthesis/4x4/ToRGB/weight":            {1, 1, 8, 3},
		"G_synthesis/4x4/ToRGB/mod_weight":        {4, 8},
		"G_synthesis/4x4/ToRGB/mod_bias":          {8},
		"G_synthesis/4x4/ToRGB/bias":              {3},
		"G_synthesis/8x8/Conv0_up/weight":         {3, 3, 8, 4},
		"G_synthesis/8x8/Conv0_up/mod_weight":     {4, 8},
		"G_synthesis/8x8/Conv0_up/mod_bias":       {8},
		"G_synthesis/8x8/Conv0_up/noise_strength": {},
		"G_synthesis/8x8/Conv0_up/bias":           {4},
		"G_synthesis/8x8/Conv1/weight":            {3, 3, 4, 4},
		"G_synthesis/8x8/Conv1/mod_weight":        {4, 4},
		"G_synthesis/8x8/Conv1/mod_bias":          {4},
		"G_synthesis/8x8/Conv1/noise_strength":    {},
		"G_synthesis/8x8/Conv1/bias":              {4},
		"G_synthesis/8x8/ToRGB/weight":            {1, 1, 4, 3},
		"G_synthesis/8x8/ToRGB/mod_weight":        {4, 4},
		"G_synthesis/8x8/ToRGB/mod_bias":          {4},
		"G_synthesis/8x8/ToRGB/bias":              {3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildLabelConcat(t *testing.T) {
	t.Parallel()
	top := build(t, smallConfig().Merge(graph.ConfigOf("label_size", 2)), nil)
	shapes := map[string]graph.Shape{}
	for _, v := range top.Variables {
		shapes[v.Name] = v.Shape
	}
	if s := shapes["G_mapping/LabelConcat/weight"]; !s.Equal(graph.Shape{2, 4}) {
		t.Fatalf("LabelConcat/weight = %s", s)
	}
	if s := shapes["G_mapping/Dense0/weight"]; !s.Equal(graph.Shape{8, 4}) {
		t.Fatalf("Dense0/weight = %s", s)
	}
}

func TestBuildUsesFusedKernels(t *testing.T) {
	t.Parallel()
	fused := build(t, smallConfig(), kernels{KernelFusedBiasAct: true, KernelUpFirDn2D: true})
	plain := build(t, smallConfig(), nil)

	if len(fused.Graph.ByOp(KernelFusedBiasAct)) == 0 || len(fused.Graph.ByOp(KernelUpFirDn2D)) == 0 {
		t.Fatalf("fused graph does not use fused kernels")
	}
	if len(plain.Graph.ByOp(KernelFusedBiasAct)) != 0 || len(plain.Graph.ByOp("LeakyRelu")) == 0 {
		t.Fatalf("reference graph should lower to primitive ops")
	}
	if fused.Graph.Len() >= plain.Graph.Len() {
		t.Fatalf("fused graph has %d nodes, reference %d", fused.Graph.Len(), plain.Graph.Len())
	}
	if diff := cmp.Diff(plain.Variables, fused.Variables); diff != "" {
		t.Fatalf("kernel choice changed variables (-ref +fused):\n%s", diff)
	}
}

func TestBuildNoiseModes(t *testing.T) {
	t.Parallel()
	fixed := build(t, smallConfig(), nil)
	if n := len(fixed.Graph.ByOp("RandomStandardNormal")); n != 0 {
		t.Fatalf("fixed noise graph has %d random nodes", n)
	}
	random := build(t, smallConfig().Merge(graph.ConfigOf("randomize_noise", true)), nil)
	if n := len(random.Graph.ByOp("RandomStandardNormal")); n != 3 {
		t.Fatalf("random noise graph has %d random nodes, want 3", n)
	}
}

func TestBuildHalfPrecisionBlocks(t *testing.T) {
	t.Parallel()
	top := build(t, smallConfig().Merge(graph.ConfigOf("num_fp16_res", 1)), nil)
	var half, full int
	for _, n := range top.Graph.Nodes {
		if !strings.HasPrefix(n.Name, "Gs/G_synthesis/") || n.Op == graph.OpVariable || n.Op == graph.OpReadVariable {
			continue
		}
		switch {
		case strings.HasPrefix(n.Name, "Gs/G_synthesis/8x8/") && n.Op == "ModulatedConv2D":
			if n.DType != graph.Float16 {
				t.Fatalf("%s is %s, want float16", n.Name, n.DType)
			}
			half++
		case strings.HasPrefix(n.Name, "Gs/G_synthesis/4x4/") && n.Op == "ModulatedConv2D":
			if n.DType != graph.Float32 {
				t.Fatalf("%s is %s, want float32", n.Name, n.DType)
			}
			full++
		}
	}
	if half == 0 || full == 0 {
		t.Fatalf("half=%d full=%d", half, full)
	}
	if top.Outputs[0].DType != graph.Float32 {
		t.Fatalf("images_out is %s", top.Outputs[0].DType)
	}

	plain := build(t, smallConfig(), nil)
	if len(plain.Graph.ByOp("Cast")) != 0 {
		t.Fatalf("num_fp16_res=0 graph contains casts")
	}
}

func TestBuildArchitectures(t *testing.T) {
	t.Parallel()
	for _, arch := range []Architecture{ArchOrig, ArchResnet} {
		top := build(t, smallConfig().Merge(graph.ConfigOf("architecture", string(arch))), nil)
		names := map[string]bool{}
		for _, v := range top.Variables {
			names[v.Name] = true
		}
		if names["G_synthesis/4x4/ToRGB/weight"] {
			t.Fatalf("%s: unexpected 4x4 ToRGB", arch)
		}
		if !names["G_synthesis/8x8/ToRGB/weight"] {
			t.Fatalf("%s: missing final ToRGB", arch)
		}
		if got := names["G_synthesis/8x8/Skip/weight"]; got != (arch == ArchResnet) {
			t.Fatalf("%s: Skip/weight present = %v", arch, got)
		}
	}
}

func TestBuildTruncation(t *testing.T) {
	t.Parallel()
	top := build(t, smallConfig(), nil)
	if len(top.Graph.ByOp("Lerp")) != 1 {
		t.Fatalf("expected truncation lerp")
	}
	off := build(t, smallConfig().Merge(graph.ConfigOf("truncation_psi", nil)), nil)
	if len(off.Graph.ByOp("Lerp")) != 0 {
		t.Fatalf("truncation_psi=None still truncates")
	}
	for _, v := range off.Variables {
		if v.Name == "dlatent_avg" {
			t.Fatalf("dlatent_avg declared without truncation")
		}
	}
}

func TestParamsValidation(t *testing.T) {
	t.Parallel()
	bad := []*graph.Config{
		smallConfig().Merge(graph.ConfigOf("resolution", 12)),
		smallConfig().Merge(graph.ConfigOf("architecture", "unet")),
		smallConfig().Merge(graph.ConfigOf("latent_size", 0)),
		smallConfig().Merge(graph.ConfigOf("randomize_noise", "yes")),
	}
	for i, cfg := range bad {
		if _, err := Build(graph.New(), "Gs", cfg, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestNF(t *testing.T) {
	t.Parallel()
	p := Params{FmapBase: 16 << 10, FmapDecay: 1, FmapMin: 1, FmapMax: 512}
	tests := map[int]int{1: 512, 5: 512, 6: 256, 9: 32}
	for stage, want := range tests {
		if got := p.NF(stage); got != want {
			t.Fatalf("NF(%d) = %d, want %d", stage, got, want)
		}
	}
	if n := (Params{Resolution: 1024}).NumLayers(); n != 18 {
		t.Fatalf("NumLayers = %d, want 18", n)
	}
}
