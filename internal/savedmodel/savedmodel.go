// Package savedmodel reads and writes interchange artifacts: a directory
// holding a meta graph with named signatures and a variables container.
package savedmodel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/logger"
	"github.com/samcharles93/ganport/internal/tcfstore"
)

const (
	MetaFile      = "saved_model.json"
	VariablesDir  = "variables"
	VariablesFile = "variables.tcf"

	TagServe      = "serve"
	MethodPredict = "tensorflow/serving/predict"

	DefaultSignatureKey = "serving_default"
	MappingKey          = "mapping"
	SynthesisKey        = "synthesis"

	formatVersion = 1
)

var (
	ErrOutputExists     = errors.New("output already exists")
	ErrArtifactNotFound = errors.New("interchange artifact not found")
	ErrInvalidArtifact  = errors.New("invalid interchange artifact")
)

type SignatureDef struct {
	MethodName string                      `json:"method_name"`
	Inputs     map[string]graph.TensorInfo `json:"inputs"`
	Outputs    map[string]graph.TensorInfo `json:"outputs"`
}

// InputKeys returns the input keys in sorted order.
func (s SignatureDef) InputKeys() []string { return sortedKeys(s.Inputs) }

// OutputKeys returns the output keys in sorted order.
func (s SignatureDef) OutputKeys() []string { return sortedKeys(s.Outputs) }

type MetaGraph struct {
	Version    int                     `json:"version"`
	ID         string                  `json:"id"`
	Tags       []string                `json:"tags"`
	Producer   string                  `json:"producer"`
	Network    string                  `json:"network"`
	BuildFunc  string                  `json:"build_func_name"`
	Backend    string                  `json:"backend"`
	Config     *graph.Config           `json:"config"`
	Signatures map[string]SignatureDef `json:"signature_def"`
	Graph      *graph.Graph            `json:"graph"`
}

// Artifact is an interchange artifact in memory. Variables are keyed by
// graph node name.
type Artifact struct {
	Dir       string
	Meta      MetaGraph
	Variables map[string]graph.Tensor
}

// SignatureKeys returns the signature keys in sorted order.
func (a *Artifact) SignatureKeys() []string { return sortedKeys(a.Meta.Signatures) }

func (a *Artifact) Signature(key string) (SignatureDef, bool) {
	s, ok := a.Meta.Signatures[key]
	return s, ok
}

// Validate checks that every signature binds tensors present in the graph
// with matching specs and that every variable node has a stored value.
func (a *Artifact) Validate() error {
	g := a.Meta.Graph
	if g == nil {
		return fmt.Errorf("%w: no graph", ErrInvalidArtifact)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if len(a.Meta.Signatures) == 0 {
		return fmt.Errorf("%w: no signatures", ErrInvalidArtifact)
	}
	for _, key := range a.SignatureKeys() {
		sig := a.Meta.Signatures[key]
		if len(sig.Inputs) == 0 || len(sig.Outputs) == 0 {
			return fmt.Errorf("%w: signature %s has no inputs or outputs", ErrInvalidArtifact, key)
		}
		for _, side := range []map[string]graph.TensorInfo{sig.Inputs, sig.Outputs} {
			for _, k := range sortedKeys(side) {
				if err := checkBinding(g, side[k]); err != nil {
					return fmt.Errorf("%w: signature %s key %s: %w", ErrInvalidArtifact, key, k, err)
				}
			}
		}
	}
	for _, n := range g.Variables() {
		t, ok := a.Variables[n.Name]
		if !ok {
			return fmt.Errorf("%w: variable %s has no value", ErrInvalidArtifact, n.Name)
		}
		if !t.Shape.Equal(n.Shape) || t.DType != n.DType {
			return fmt.Errorf("%w: variable %s is %s %s, graph declares %s %s", ErrInvalidArtifact, n.Name, t.DType, t.Shape, n.DType, n.Shape)
		}
	}
	return nil
}

func checkBinding(g *graph.Graph, want graph.TensorInfo) error {
	got, err := g.Info(want.Name)
	if err != nil {
		return err
	}
	if got.DType != want.DType || !got.Shape.Equal(want.Shape) {
		return fmt.Errorf("tensor %s is %s %s, bound as %s %s", want.Name, got.DType, got.Shape, want.DType, want.Shape)
	}
	return nil
}

// CheckOutput reports ErrOutputExists when dir exists and overwrite is off.
func CheckOutput(dir string, overwrite bool) error {
	if overwrite {
		return nil
	}
	if _, err := os.Lstat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrOutputExists, dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Write stores a under dir. Files go to a staging directory next to dir
// that is renamed into place once complete, so dir is never left half
// written. With overwrite an existing dir is replaced at commit; failing to
// delete the replaced copy afterwards is logged, not returned.
func Write(ctx context.Context, dir string, a *Artifact, overwrite bool) error {
	if err := CheckOutput(dir, overwrite); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Meta.ID == "" {
		a.Meta.ID = uuid.NewString()
	}
	a.Meta.Version = formatVersion
	if len(a.Meta.Tags) == 0 {
		a.Meta.Tags = []string{TagServe}
	}

	dir = filepath.Clean(dir)
	parent, base := filepath.Dir(dir), filepath.Base(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	stage := filepath.Join(parent, "."+base+".staging-"+uuid.NewString())
	if err := writeTree(stage, a); err != nil {
		_ = os.RemoveAll(stage)
		return err
	}
	old, err := commit(stage, dir, overwrite)
	if err != nil {
		_ = os.RemoveAll(stage)
		return err
	}
	a.Dir = dir
	if old != "" {
		if err := removeAll(old); err != nil {
			logger.FromContext(ctx).Warn("replaced artifact not removed", "path", old, "err", err)
		}
	}
	return nil
}

func writeTree(stage string, a *Artifact) error {
	if err := os.MkdirAll(filepath.Join(stage, VariablesDir), 0o755); err != nil {
		return err
	}
	meta, err := json.MarshalIndent(a.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta graph: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, MetaFile), append(meta, '\n'), 0o644); err != nil {
		return err
	}
	vars := a.Variables
	if vars == nil {
		vars = map[string]graph.Tensor{}
	}
	if err := tcfstore.Create(filepath.Join(stage, VariablesDir, VariablesFile), tcfstore.Contents{
		Metadata: []byte(fmt.Sprintf(`{"id":%q}`, a.Meta.ID)),
		Tensors:  vars,
	}); err != nil {
		return fmt.Errorf("write variables: %w", err)
	}
	return nil
}

var removeAll = os.RemoveAll

// commit renames stage to dir. It returns the path the previous dir was
// moved to, if any; the caller deletes it.
func commit(stage, dir string, overwrite bool) (string, error) {
	var old string
	if overwrite {
		if _, err := os.Lstat(dir); err == nil {
			old = filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".old-"+uuid.NewString())
			if err := os.Rename(dir, old); err != nil {
				return "", err
			}
		}
	}
	if err := os.Rename(stage, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrOutputExists, dir)
		}
		return "", err
	}
	return old, nil
}

// Load reads and validates the artifact in dir.
func Load(dir string) (*Artifact, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, dir)
	}
	raw, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrArtifactNotFound, dir, MetaFile)
		}
		return nil, err
	}
	a := &Artifact{Dir: dir}
	if err := json.Unmarshal(raw, &a.Meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArtifact, MetaFile, err)
	}
	if a.Meta.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, a.Meta.Version)
	}
	if a.Meta.Config == nil {
		a.Meta.Config = graph.NewConfig()
	}

	f, err := tcfstore.Open(filepath.Join(dir, VariablesDir, VariablesFile))
	if err != nil {
		return nil, fmt.Errorf("%w: variables: %w", ErrInvalidArtifact, err)
	}
	defer func() { _ = f.Close() }()
	if a.Variables, err = f.Tensors(); err != nil {
		return nil, fmt.Errorf("%w: variables: %w", ErrInvalidArtifact, err)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the names of the artifact directories directly under root.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), MetaFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
