package edge_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/edge"
	"github.com/samcharles93/ganport/internal/export"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/savedmodel"
	"github.com/samcharles93/ganport/internal/testutil"
)

// exported writes the small generator as an interchange artifact.
func exported(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "stylegan2")
	e := export.New(backend.NewSelector(backend.Ref), plugin.NewRegistry(plugin.WithDir(t.TempDir())))
	_, err := e.Export(context.Background(), testutil.Bundle(t), export.Options{OutDir: out})
	require.NoError(t, err)
	return out
}

func TestConvertShapes(t *testing.T) {
	t.Parallel()
	in := exported(t)
	base := filepath.Join(t.TempDir(), "stylegan2")

	tests := []struct {
		signature string
		file      string
		inKey     string
		shape     graph.Shape
		shapeSig  graph.Shape
		outKey    string
		outShape  graph.Shape
	}{
		{"default", "stylegan2.lite", export.KeyLatents, graph.Shape{1, 4}, graph.Shape{1, -1}, export.KeyImages, graph.Shape{1, 3, 8, 8}},
		{"mapping", "stylegan2.mapping.lite", export.KeyLatents, graph.Shape{1, 4}, graph.Shape{1, -1}, export.KeyDlatents, graph.Shape{1, 4, 4}},
		{"synthesis", "stylegan2.synthesis.lite", export.KeyDlatents, graph.Shape{1, 4, 4}, graph.Shape{1, -1, -1}, export.KeyImages, graph.Shape{1, 3, 8, 8}},
	}
	for _, tt := range tests {
		res, err := edge.Convert(context.Background(), in, base, tt.signature)
		require.NoError(t, err, tt.signature)
		require.Equal(t, filepath.Join(filepath.Dir(base), tt.file), res.Path)

		m, err := edge.Open(res.Path)
		require.NoError(t, err, tt.signature)
		require.Equal(t, tt.signature, m.Meta.Signature.String())
		require.Len(t, m.Meta.Inputs, 1)

		input, ok := m.Input(tt.inKey)
		require.True(t, ok, tt.signature)
		require.Equal(t, tt.shape, input.Shape, tt.signature)
		require.Equal(t, tt.shapeSig, input.ShapeSignature, tt.signature)

		output, ok := m.Output(tt.outKey)
		require.True(t, ok, tt.signature)
		require.Equal(t, tt.outShape, output.Shape, tt.signature)

		placeholder, ok := m.Graph.Node(strings.TrimSuffix(input.Name, ":0"))
		require.True(t, ok)
		require.Equal(t, graph.OpPlaceholder, placeholder.Op)
		require.Equal(t, tt.shape, placeholder.Shape)
	}
}

func TestConvertPrunesAndFreezes(t *testing.T) {
	t.Parallel()
	in := exported(t)
	base := filepath.Join(t.TempDir(), "g")

	res, err := edge.Convert(context.Background(), in, base, "synthesis")
	require.NoError(t, err)
	m, err := edge.Open(res.Path)
	require.NoError(t, err)

	require.Empty(t, m.Graph.ByOp(graph.OpVariable))
	require.Empty(t, m.Graph.ByOp(graph.OpReadVariable))
	require.Len(t, m.Constants, len(m.Graph.ByOp(graph.OpConst)))
	require.Equal(t, res.Constants, len(m.Constants))
	for _, n := range m.Graph.Nodes {
		require.Falsef(t, strings.HasPrefix(n.Name, "Gs/G_mapping/"), "mapping node %s kept in synthesis graph", n.Name)
		if len(n.Shape) > 0 {
			require.NotEqualf(t, graph.Unbound, n.Shape[0], "node %s has unbound batch", n.Name)
		}
	}

	a, err := savedmodel.Load(in)
	require.NoError(t, err)
	for _, name := range m.ConstantNames() {
		require.Equal(t, a.Variables[name].Data, m.Constants[name].Data, name)
	}
	require.Equal(t, a.Meta.ID, m.Meta.SourceID)
}

func TestUnknownSignatureLeavesOutputsAlone(t *testing.T) {
	t.Parallel()
	in := exported(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "model")

	res, err := edge.Convert(context.Background(), in, base, "default")
	require.NoError(t, err)
	before, err := os.ReadFile(res.Path)
	require.NoError(t, err)

	_, err = edge.Convert(context.Background(), in, base, "unknown")
	require.ErrorIs(t, err, edge.ErrUnknownSignature)

	after, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, before, after)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestConvertOverwritesExistingFile(t *testing.T) {
	t.Parallel()
	in := exported(t)
	base := filepath.Join(t.TempDir(), "model")
	require.NoError(t, os.WriteFile(base+".mapping.lite", []byte("stale"), 0o644))

	res, err := edge.Convert(context.Background(), in, base, "mapping")
	require.NoError(t, err)
	_, err = edge.Open(res.Path)
	require.NoError(t, err)
}

func TestConvertMissingArtifact(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "model")
	_, err := edge.Convert(context.Background(), filepath.Join(t.TempDir(), "nope"), out, "default")
	require.ErrorIs(t, err, savedmodel.ErrArtifactNotFound)
	_, err = os.Stat(out + edge.Ext)
	require.True(t, os.IsNotExist(err))
}

func TestParseSignature(t *testing.T) {
	t.Parallel()
	tests := map[string]edge.Kind{
		"":                edge.Default,
		"default":         edge.Default,
		"serving_default": edge.Default,
		"Mapping":         edge.Mapping,
		" synthesis ":     edge.Synthesis,
	}
	for in, want := range tests {
		got, err := edge.ParseSignature(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := edge.ParseSignature("mapings")
	require.ErrorIs(t, err, edge.ErrUnknownSignature)
	require.ErrorContains(t, err, `did you mean "mapping"`)

	_, err = edge.ParseSignature("discriminator")
	require.ErrorIs(t, err, edge.ErrUnknownSignature)
	require.NotContains(t, err.Error(), "did you mean")
}

func TestKindPolicy(t *testing.T) {
	t.Parallel()
	require.Equal(t, "model.lite", edge.OutputPath("model", edge.Default))
	require.Equal(t, "model.mapping.lite", edge.OutputPath("model", edge.Mapping))
	require.Equal(t, "model.synthesis.lite", edge.OutputPath("model", edge.Synthesis))
	require.Equal(t, savedmodel.DefaultSignatureKey, edge.Default.SignatureKey())

	// Returned shapes are copies.
	s := edge.Synthesis.InputShape()
	s[0] = 7
	require.Equal(t, graph.Shape{1, -1, -1}, edge.Synthesis.InputShape())
}
