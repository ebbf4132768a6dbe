// Package edge converts one signature of an interchange artifact into a
// compact single-file edge artifact: the pruned graph with its variables
// frozen to constants and the signature input shape fixed.
package edge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/logger"
	"github.com/samcharles93/ganport/internal/savedmodel"
	"github.com/samcharles93/ganport/internal/tcfstore"
	"github.com/samcharles93/ganport/internal/version"
)

// Ext is the edge artifact file extension.
const Ext = ".lite"

const formatVersion = 1

var ErrConversion = errors.New("conversion failed")

// TensorSpec is one signature input or output of an edge artifact. Shape
// is the static shape used by the graph; ShapeSignature keeps the unbound
// dimensions a runtime may resize.
type TensorSpec struct {
	Key            string      `json:"key"`
	Name           string      `json:"name"`
	DType          graph.DType `json:"dtype"`
	Shape          graph.Shape `json:"shape"`
	ShapeSignature graph.Shape `json:"shape_signature"`
}

// Metadata is stored in the container metadata section.
type Metadata struct {
	Version      int          `json:"version"`
	Producer     string       `json:"producer"`
	Source       string       `json:"source"`
	SourceID     string       `json:"source_id"`
	Network      string       `json:"network"`
	Signature    Kind         `json:"signature"`
	SignatureKey string       `json:"signature_key"`
	Inputs       []TensorSpec `json:"inputs"`
	Outputs      []TensorSpec `json:"outputs"`
}

// Result summarises a conversion.
type Result struct {
	Path      string
	Kind      Kind
	Inputs    []TensorSpec
	Outputs   []TensorSpec
	Nodes     int
	Constants int
	Bytes     int64
}

// OutputPath is the file name written for base and kind.
func OutputPath(base string, k Kind) string {
	return base + k.Suffix() + Ext
}

// Convert reads the interchange artifact at in and writes the edge artifact
// for signature to OutputPath(out, kind). An existing file is replaced; on
// any error the previous file is left untouched.
func Convert(ctx context.Context, in, out, signature string) (*Result, error) {
	log := logger.FromContext(ctx)
	a, err := savedmodel.Load(in)
	if err != nil {
		return nil, err
	}
	k, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	sig, ok := a.Signature(k.SignatureKey())
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q signature", ErrUnknownSignature, in, k.SignatureKey())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := build(a, k, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConversion, k, err)
	}
	model.Meta.Source = in

	path := OutputPath(out, k)
	n, err := write(path, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConversion, k, err)
	}
	log.Info("edge artifact written", "path", path, "signature", k, "nodes", model.Graph.Len(), "constants", len(model.Constants), "bytes", n)
	return &Result{
		Path:      path,
		Kind:      k,
		Inputs:    model.Meta.Inputs,
		Outputs:   model.Meta.Outputs,
		Nodes:     model.Graph.Len(),
		Constants: len(model.Constants),
		Bytes:     n,
	}, nil
}

func build(a *savedmodel.Artifact, k Kind, sig savedmodel.SignatureDef) (*Model, error) {
	if len(sig.Inputs) != 1 {
		return nil, fmt.Errorf("signature %s has %d inputs, want 1", k.SignatureKey(), len(sig.Inputs))
	}
	inKey := sig.InputKeys()[0]
	in := sig.Inputs[inKey]
	policy := k.InputShape()
	fixed, err := in.Shape.Merge(policy)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", inKey, err)
	}

	var outNames []string
	for _, key := range sig.OutputKeys() {
		outNames = append(outNames, sig.Outputs[key].Name)
	}
	g, err := a.Meta.Graph.Prune([]string{in.Name}, outNames)
	if err != nil {
		return nil, err
	}
	if err := g.SetShape(in.Name, fixed); err != nil {
		return nil, err
	}
	frozen := g.Freeze()
	g.PinBatch(1)

	consts := make(map[string]graph.Tensor, len(frozen))
	for _, name := range frozen {
		t, ok := a.Variables[name]
		if !ok {
			return nil, fmt.Errorf("variable %s has no value", name)
		}
		consts[name] = t
	}

	meta := Metadata{
		Version:      formatVersion,
		Producer:     version.Producer(),
		SourceID:     a.Meta.ID,
		Network:      a.Meta.Network,
		Signature:    k,
		SignatureKey: k.SignatureKey(),
		Inputs: []TensorSpec{{
			Key:            inKey,
			Name:           in.Name,
			DType:          in.DType,
			Shape:          fixed,
			ShapeSignature: policy,
		}},
	}
	for _, key := range sig.OutputKeys() {
		info, err := g.Info(sig.Outputs[key].Name)
		if err != nil {
			return nil, err
		}
		meta.Outputs = append(meta.Outputs, TensorSpec{
			Key:            key,
			Name:           info.Name,
			DType:          info.DType,
			Shape:          info.Shape,
			ShapeSignature: info.Shape.Clone(),
		})
	}
	return &Model{Meta: meta, Graph: g, Constants: consts}, nil
}

func write(path string, m *Model) (int64, error) {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return 0, err
	}
	g, err := json.Marshal(m.Graph)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	if err := tcfstore.Create(tmp, tcfstore.Contents{Metadata: meta, Graph: g, Tensors: m.Constants}); err != nil {
		return 0, err
	}
	info, err := os.Stat(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return info.Size(), nil
}

// Model is an edge artifact in memory.
type Model struct {
	Path      string
	Meta      Metadata
	Graph     *graph.Graph
	Constants map[string]graph.Tensor
}

// Input returns the input spec with the given key.
func (m *Model) Input(key string) (TensorSpec, bool) { return findSpec(m.Meta.Inputs, key) }

// Output returns the output spec with the given key.
func (m *Model) Output(key string) (TensorSpec, bool) { return findSpec(m.Meta.Outputs, key) }

func findSpec(specs []TensorSpec, key string) (TensorSpec, bool) {
	for _, s := range specs {
		if s.Key == key {
			return s, true
		}
	}
	return TensorSpec{}, false
}

// ConstantNames lists the frozen constants in name order.
func (m *Model) ConstantNames() []string {
	out := make([]string, 0, len(m.Constants))
	for n := range m.Constants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open reads an edge artifact.
func Open(path string) (*Model, error) {
	f, err := tcfstore.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	m := &Model{Path: path}
	raw := f.Metadata()
	if raw == nil {
		return nil, fmt.Errorf("edge: %s has no metadata section", path)
	}
	if err := json.Unmarshal(raw, &m.Meta); err != nil {
		return nil, fmt.Errorf("edge: metadata: %w", err)
	}
	if m.Meta.Version != formatVersion {
		return nil, fmt.Errorf("edge: unsupported version %d", m.Meta.Version)
	}
	m.Graph = graph.New()
	if err := json.Unmarshal(f.Graph(), m.Graph); err != nil {
		return nil, fmt.Errorf("edge: graph: %w", err)
	}
	if err := m.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("edge: %w", err)
	}
	if m.Constants, err = f.Tensors(); err != nil {
		return nil, fmt.Errorf("edge: constants: %w", err)
	}
	for _, n := range m.Graph.ByOp(graph.OpConst) {
		if _, ok := m.Constants[n.Name]; !ok {
			return nil, fmt.Errorf("edge: constant %s has no value", n.Name)
		}
	}
	return m, nil
}
