// Package checkpoint loads trained generator checkpoints into parameter
// bundles. Pickled network tuples and safetensors files are supported.
package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/logger"
	"github.com/samcharles93/ganport/internal/safetensors"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointFormat   = errors.New("invalid checkpoint format")
)

// Bundle is the decoded content of a checkpoint. It is not modified after
// Load returns.
type Bundle struct {
	Name      string
	BuildFunc string
	Config    *graph.Config
	Params    map[string]graph.Tensor
	Auxiliary []string
	Source    string
}

// ParamNames returns parameter names in sorted order.
func (b *Bundle) ParamNames() []string {
	names := make([]string, 0, len(b.Params))
	for n := range b.Params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParamBytes is the total size of all parameter payloads.
func (b *Bundle) ParamBytes() int64 {
	var n int64
	for _, t := range b.Params {
		n += int64(len(t.Data))
	}
	return n
}

type Loader struct {
	// CacheDir holds downloaded checkpoints. Empty uses the user cache dir.
	CacheDir string
	Client   *http.Client
}

func NewLoader(cacheDir string) *Loader {
	return &Loader{CacheDir: cacheDir, Client: http.DefaultClient}
}

// Load fetches source and decodes it. No bundle is returned unless the
// whole checkpoint decodes.
func (l *Loader) Load(ctx context.Context, source string) (*Bundle, error) {
	log := logger.FromContext(ctx)
	path, err := l.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, source)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", source, err)
	}
	b, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	b.Source = source
	log.Info("checkpoint loaded", "source", source, "network", b.Name, "params", len(b.Params), "bytes", b.ParamBytes())
	return b, nil
}

// Decode detects the checkpoint format from its leading bytes.
func Decode(data []byte) (*Bundle, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x80:
		return decodePickle(data)
	case safetensors.Sniff(data):
		f, err := safetensors.Parse(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCheckpointFormat, err)
		}
		return decodeSafetensors(f)
	default:
		return nil, fmt.Errorf("%w: unrecognised file header", ErrCheckpointFormat)
	}
}
