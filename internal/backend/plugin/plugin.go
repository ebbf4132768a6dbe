// Package plugin maps backend tags to loadable implementations and keeps
// one loaded handle per resolved path.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/ref"
	"github.com/samcharles93/ganport/internal/logger"
)

var (
	ErrPluginNotFound = errors.New("backend plugin not found")
	ErrPluginLoad     = errors.New("backend plugin failed to load")
	ErrPluginBusy     = errors.New("backend plugin in use")
)

const builtinScheme = "builtin:"

// Constructor creates a backend. Native plugins export one as NewBackend.
type Constructor func() (backend.Backend, error)

// Handle is a loaded backend. Handles are shared by reference and never
// copied.
type Handle struct {
	Tag         backend.Tag
	Path        string
	Fingerprint string
	Backend     backend.Backend

	refs atomic.Int64
}

// Retain marks the handle as used by one more execution context.
func (h *Handle) Retain() { h.refs.Add(1) }

// Release undoes one Retain.
func (h *Handle) Release() {
	if h.refs.Add(-1) < 0 {
		panic("plugin: handle released more times than retained")
	}
}

func (h *Handle) Refs() int64 { return h.refs.Load() }

func (h *Handle) Builtin() bool { return strings.HasPrefix(h.Path, builtinScheme) }

type Registry struct {
	dir      string
	opener   Opener
	builtins map[backend.Tag]Constructor
	native   []backend.Tag

	mu      sync.Mutex
	handles map[string]*Handle
	group   singleflight.Group
}

type Option func(*Registry)

// WithDir sets the directory searched for native plugins.
func WithDir(dir string) Option {
	return func(r *Registry) { r.dir = dir }
}

func WithOpener(o Opener) Option {
	return func(r *Registry) { r.opener = o }
}

// WithBuiltin registers a compiled-in backend under tag.
func WithBuiltin(tag backend.Tag, ctor Constructor) Option {
	return func(r *Registry) { r.builtins[tag] = ctor }
}

// NewRegistry returns a registry with the ref backend compiled in and cuda
// expected as a native plugin.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		dir:    DefaultDir(),
		opener: GoPluginOpener{},
		builtins: map[backend.Tag]Constructor{
			backend.Ref: func() (backend.Backend, error) { return ref.New(), nil },
		},
		native:  []backend.Tag{backend.CUDA},
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultDir is the plugin directory next to the running executable.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "plugins"
	}
	return filepath.Join(filepath.Dir(exe), "plugins")
}

func (r *Registry) Dir() string { return r.dir }

// Fingerprint identifies the build a native plugin must match.
func Fingerprint() string {
	return runtime.GOOS + "_" + runtime.GOARCH + "-" + runtime.Version()
}

// Path maps a resolved tag to its artifact path. The mapping is pure.
func (r *Registry) Path(tag backend.Tag) string {
	if _, ok := r.builtins[tag]; ok {
		return builtinScheme + string(tag)
	}
	return filepath.Join(r.dir, fmt.Sprintf("ganport-%s-%s.so", tag, Fingerprint()))
}

// Load returns the handle for tag, loading it on first use. Concurrent
// loads of one path share a single open. Load does not retain the handle,
// so an Unload racing with the caller may drop it from the cache; use
// Acquire when the handle is about to back an execution context.
func (r *Registry) Load(ctx context.Context, tag backend.Tag) (*Handle, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: empty backend tag", ErrPluginNotFound)
	}
	path := r.Path(tag)

	r.mu.Lock()
	if h, ok := r.handles[path]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(path, func() (any, error) {
		r.mu.Lock()
		if h, ok := r.handles[path]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		h, err := r.open(tag, path)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.handles[path] = h
		r.mu.Unlock()
		logger.FromContext(ctx).Debug("backend loaded", "tag", tag, "path", path, "fingerprint", h.Fingerprint)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Acquire loads tag and retains the handle while holding the registry
// lock, so Unload reports ErrPluginBusy until the caller calls Release.
func (r *Registry) Acquire(ctx context.Context, tag backend.Tag) (*Handle, error) {
	for {
		h, err := r.Load(ctx, tag)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.handles[h.Path] == h {
			h.Retain()
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()
		// unloaded between Load and the lock; load again
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *Registry) open(tag backend.Tag, path string) (*Handle, error) {
	var ctor Constructor
	fingerprint := Fingerprint()
	if builtin, ok := r.builtins[tag]; ok {
		ctor = builtin
		fingerprint += " " + ref.Fingerprint()
	} else {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s backend expected at %s", ErrPluginNotFound, tag, path)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrPluginLoad, path, err)
		}
		c, err := r.opener.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPluginLoad, path, err)
		}
		ctor = c
	}

	b, err := construct(ctor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPluginLoad, path, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s: constructor returned nil backend", ErrPluginLoad, path)
	}
	return &Handle{Tag: tag, Path: path, Fingerprint: fingerprint, Backend: b}, nil
}

func construct(ctor Constructor) (b backend.Backend, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("constructor panicked: %v", rec)
		}
	}()
	return ctor()
}

// Unload drops the cached handle for tag. It refuses while any execution
// context still holds the handle.
func (r *Registry) Unload(tag backend.Tag) error {
	path := r.Path(tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[path]
	if !ok {
		return nil
	}
	if n := h.Refs(); n > 0 {
		return fmt.Errorf("%w: %s has %d active contexts", ErrPluginBusy, tag, n)
	}
	delete(r.handles, path)
	return nil
}

// Availability describes one known backend.
type Availability struct {
	Tag     backend.Tag `json:"tag"`
	Path    string      `json:"path"`
	Builtin bool        `json:"builtin"`
	Present bool        `json:"present"`
	Loaded  bool        `json:"loaded"`
}

// Available lists compiled-in and native backends, plus any plugin files
// for this build found in the plugin directory.
func (r *Registry) Available() []Availability {
	tags := make(map[backend.Tag]struct{})
	for t := range r.builtins {
		tags[t] = struct{}{}
	}
	for _, t := range r.native {
		tags[t] = struct{}{}
	}
	suffix := "-" + Fingerprint() + ".so"
	if entries, err := os.ReadDir(r.dir); err == nil {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, "ganport-") || !strings.HasSuffix(name, suffix) {
				continue
			}
			if t := strings.TrimSuffix(strings.TrimPrefix(name, "ganport-"), suffix); t != "" {
				tags[backend.Tag(t)] = struct{}{}
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Availability, 0, len(tags))
	for t := range tags {
		a := Availability{Tag: t, Path: r.Path(t)}
		_, a.Builtin = r.builtins[t]
		if a.Builtin {
			a.Present = true
		} else if _, err := os.Stat(a.Path); err == nil {
			a.Present = true
		}
		_, a.Loaded = r.handles[a.Path]
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
