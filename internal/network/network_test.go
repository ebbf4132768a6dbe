package network

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/session"
)

const testBuild = "test.networks.affine"

func init() {
	graph.Register(testBuild, func(g *graph.Graph, scope string, cfg *graph.Config, _ graph.Kernels) (*graph.Topology, error) {
		n, err := cfg.Int("size", 2)
		if err != nil {
			return nil, err
		}
		size := int64(n)
		nodes := []*graph.Node{
			{Name: scope + "/x", Op: graph.OpPlaceholder, DType: graph.Float32, Shape: graph.Shape{-1, size}},
			{Name: scope + "/w", Op: graph.OpVariable, DType: graph.Float32, Shape: graph.Shape{size, size}},
			{Name: scope + "/w/read", Op: graph.OpReadVariable, Inputs: []string{scope + "/w:0"}, DType: graph.Float32, Shape: graph.Shape{size, size}},
			{Name: scope + "/y", Op: "MatMul", Inputs: []string{scope + "/x:0", scope + "/w/read:0"}, DType: graph.Float32, Shape: graph.Shape{-1, size}},
		}
		for _, node := range nodes {
			if err := g.Add(node); err != nil {
				return nil, err
			}
		}
		x, _ := g.Info(scope + "/x:0")
		y, _ := g.Info(scope + "/y:0")
		return &graph.Topology{
			Graph:     g,
			Inputs:    []graph.TensorInfo{x},
			Outputs:   []graph.TensorInfo{y},
			Variables: []graph.VarSpec{{Name: "w", Node: scope + "/w", DType: graph.Float32, Shape: graph.Shape{size, size}}},
		}, nil
	})
}

func withSession(t *testing.T, fn func(*session.Session)) {
	t.Helper()
	r := plugin.NewRegistry(plugin.WithDir(t.TempDir()))
	h, err := r.Load(context.Background(), backend.Ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	err = session.Do(context.Background(), graph.New(), h, func(s *session.Session) error {
		fn(s)
		return nil
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
}

func TestCopyVarsFrom(t *testing.T) {
	t.Parallel()
	withSession(t, func(s *session.Session) {
		in, err := New(s, "net", testBuild, graph.ConfigOf("size", 2))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		params := map[string]graph.Tensor{
			"w":     graph.NewFloat32Tensor(graph.Shape{2, 2}, []float32{1, 2, 3, 4}),
			"extra": graph.NewFloat32Tensor(graph.Shape{1}, []float32{9}),
		}
		if err := in.CopyVarsFrom(params); err != nil {
			t.Fatalf("CopyVarsFrom: %v", err)
		}
		snap, err := in.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		vals, _ := snap["net/w"].Float32s()
		if len(vals) != 4 || vals[3] != 4 {
			t.Fatalf("snapshot = %v", vals)
		}
		if _, ok := snap["extra"]; ok {
			t.Fatalf("extra parameter was copied")
		}
	})
}

func TestCopyVarsFromMismatch(t *testing.T) {
	t.Parallel()
	tests := map[string]map[string]graph.Tensor{
		"missing": {},
		"shape":   {"w": graph.NewFloat32Tensor(graph.Shape{4}, []float32{1, 2, 3, 4})},
		"dtype":   {"w": {DType: graph.Float16, Shape: graph.Shape{2, 2}, Data: make([]byte, 8)}},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			withSession(t, func(s *session.Session) {
				in, err := New(s, "net", testBuild, graph.ConfigOf("size", 2))
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				if err := in.CopyVarsFrom(params); !errors.Is(err, ErrParameterMismatch) {
					t.Fatalf("err = %v, want ErrParameterMismatch", err)
				}
			})
		})
	}
}

func TestUnknownBuilder(t *testing.T) {
	t.Parallel()
	withSession(t, func(s *session.Session) {
		if _, err := New(s, "net", "nope.G_main", graph.NewConfig()); !errors.Is(err, ErrUnknownBuilder) {
			t.Fatalf("err = %v, want ErrUnknownBuilder", err)
		}
	})
}
