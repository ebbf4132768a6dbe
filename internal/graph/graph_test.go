package graph

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	nodes := []*Node{
		{Name: "in", Op: OpPlaceholder, DType: Float32, Shape: Shape{Unbound, 4}},
		{Name: "w", Op: OpVariable, DType: Float32, Shape: Shape{4, 4}},
		{Name: "w/read", Op: OpReadVariable, Inputs: []string{"w:0"}, DType: Float32, Shape: Shape{4, 4}},
		{Name: "mid", Op: "MatMul", Inputs: []string{"in:0", "w/read:0"}, DType: Float32, Shape: Shape{Unbound, 4}},
		{Name: "mid_out", Op: OpIdentity, Inputs: []string{"mid:0"}, DType: Float32, Shape: Shape{Unbound, 4}},
		{Name: "v", Op: OpVariable, DType: Float32, Shape: Shape{4}},
		{Name: "v/read", Op: OpReadVariable, Inputs: []string{"v:0"}, DType: Float32, Shape: Shape{4}},
		{Name: "out", Op: "BiasAdd", Inputs: []string{"mid_out:0", "v/read:0"}, DType: Float32, Shape: Shape{Unbound, 4}},
	}
	for _, n := range nodes {
		if err := g.Add(n); err != nil {
			t.Fatalf("Add(%s): %v", n.Name, err)
		}
	}
	return g
}

func nodeNames(g *Graph) []string {
	out := make([]string, 0, g.Len())
	for _, n := range g.Nodes {
		out = append(out, n.Name)
	}
	return out
}

func TestAddRejectsForwardReference(t *testing.T) {
	t.Parallel()
	g := New()
	err := g.Add(&Node{Name: "a", Op: OpIdentity, Inputs: []string{"b:0"}})
	if err == nil {
		t.Fatalf("expected error for undefined input")
	}
	if err := g.Add(&Node{Name: "b", Op: OpConst}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Add(&Node{Name: "b", Op: OpConst}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestPruneFullGraph(t *testing.T) {
	t.Parallel()
	g := chainGraph(t)
	p, err := g.Prune([]string{"in:0"}, []string{"out:0"})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if diff := cmp.Diff(nodeNames(g), nodeNames(p)); diff != "" {
		t.Fatalf("node mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneCutsAtInternalInput(t *testing.T) {
	t.Parallel()
	g := chainGraph(t)
	p, err := g.Prune([]string{"mid_out:0"}, []string{"out:0"})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	want := []string{"mid_out", "v", "v/read", "out"}
	if diff := cmp.Diff(want, nodeNames(p)); diff != "" {
		t.Fatalf("node mismatch (-want +got):\n%s", diff)
	}
	n, _ := p.Node("mid_out")
	if n.Op != OpPlaceholder || len(n.Inputs) != 0 {
		t.Fatalf("fed node = %+v, want input-free placeholder", n)
	}
	orig, _ := g.Node("mid_out")
	if orig.Op != OpIdentity {
		t.Fatalf("prune mutated the source graph")
	}
}

func TestPruneRejectsUnfedPlaceholder(t *testing.T) {
	t.Parallel()
	g := chainGraph(t)
	if _, err := g.Prune(nil, []string{"out:0"}); err == nil {
		t.Fatalf("expected error for unfed placeholder")
	}
	if _, err := g.Prune([]string{"in:0"}, []string{"missing:0"}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestFreezeAndPinBatch(t *testing.T) {
	t.Parallel()
	g := chainGraph(t)
	frozen := g.Freeze()
	if diff := cmp.Diff([]string{"w", "v"}, frozen); diff != "" {
		t.Fatalf("frozen mismatch (-want +got):\n%s", diff)
	}
	if len(g.ByOp(OpVariable)) != 0 || len(g.ByOp(OpReadVariable)) != 0 {
		t.Fatalf("variables left after freeze")
	}
	g.PinBatch(1)
	for _, n := range g.Nodes {
		if len(n.Shape) > 0 && n.Shape[0] == Unbound {
			t.Fatalf("node %s still has unbound batch: %s", n.Name, n.Shape)
		}
	}
	out, _ := g.Node("out")
	if !out.Shape.Equal(Shape{1, 4}) {
		t.Fatalf("out shape = %s", out.Shape)
	}
}

func TestShapeMerge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b    Shape
		want    Shape
		wantErr bool
	}{
		{a: Shape{1, Unbound}, b: Shape{Unbound, 512}, want: Shape{1, 512}},
		{a: Shape{1, Unbound, Unbound}, b: Shape{Unbound, 18, 512}, want: Shape{1, 18, 512}},
		{a: Shape{1, Unbound}, b: Shape{Unbound, 18, 512}, wantErr: true},
		{a: Shape{2, 3}, b: Shape{3, 3}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := tt.a.Merge(tt.b)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Merge(%s, %s) expected error", tt.a, tt.b)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Merge(%s, %s): %v", tt.a, tt.b, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("Merge(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
	if s := (Shape{1, Unbound}).String(); s != "[1,?]" {
		t.Fatalf("String() = %q", s)
	}
}

func TestConfigMergeKeepsOrder(t *testing.T) {
	t.Parallel()
	base := ConfigOf("resolution", 1024, "num_fp16_res", 4, "architecture", "skip")
	over := ConfigOf("num_fp16_res", 0, "return_dlatents", true)
	got := base.Merge(over)

	if diff := cmp.Diff([]string{"resolution", "num_fp16_res", "architecture", "return_dlatents"}, got.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if n, _ := got.Int("num_fp16_res", -1); n != 0 {
		t.Fatalf("num_fp16_res = %d, want 0", n)
	}
	if n, _ := base.Int("num_fp16_res", -1); n != 4 {
		t.Fatalf("merge mutated base: %d", n)
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	t.Parallel()
	c := ConfigOf("b", 2, "a", true, "z", "orig")
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Config
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(c.Keys(), back.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if n, err := back.Int("b", 0); err != nil || n != 2 {
		t.Fatalf("Int(b) = %d, %v", n, err)
	}
	if _, err := back.Int("z", 0); err == nil {
		t.Fatalf("expected type error for string value")
	}
}

func TestParseAssignments(t *testing.T) {
	t.Parallel()
	c, err := ParseAssignments([]string{"num_fp16_res=2", "randomize_noise=true", "architecture=resnet", "truncation_psi=0.7"})
	if err != nil {
		t.Fatalf("ParseAssignments: %v", err)
	}
	got := map[string]any{}
	for _, k := range c.Keys() {
		got[k], _ = c.Get(k)
	}
	want := map[string]any{"num_fp16_res": 2, "randomize_noise": true, "architecture": "resnet", "truncation_psi": 0.7}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("parsed mismatch (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"noequals", "=1", "k=[1, 2]"} {
		if _, _, err := ParseAssignment(bad); err == nil {
			t.Fatalf("ParseAssignment(%q) expected error", bad)
		}
	}
}

func TestSplitTensorName(t *testing.T) {
	t.Parallel()
	name, idx, err := SplitTensorName("Gs/images_out:0")
	if err != nil || name != "Gs/images_out" || idx != 0 {
		t.Fatalf("SplitTensorName = %q, %d, %v", name, idx, err)
	}
	if _, _, err := SplitTensorName("x:y"); err == nil {
		t.Fatalf("expected error for bad index")
	}
}

func TestLookupByBareName(t *testing.T) {
	noop := func(*Graph, string, *Config, Kernels) (*Topology, error) { return &Topology{}, nil }
	Register("lookup_test.nets.Only", noop)
	Register("lookup_test.a.Twice", noop)
	Register("lookup_test.b.Twice", noop)

	if _, ok := Lookup("lookup_test.nets.Only"); !ok {
		t.Fatalf("full name not found")
	}
	if _, ok := Lookup("Only"); !ok {
		t.Fatalf("bare name not resolved")
	}
	if _, ok := Lookup("Twice"); ok {
		t.Fatalf("ambiguous bare name resolved")
	}
	if _, ok := Lookup("other.Only"); ok {
		t.Fatalf("qualified name with wrong module resolved")
	}
}
