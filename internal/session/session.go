// Package session provides the scoped execution context that binds one
// graph to one loaded backend and owns its device memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/plugin"
	"github.com/samcharles93/ganport/internal/graph"
	"github.com/samcharles93/ganport/internal/logger"
)

var (
	ErrContextInit = errors.New("execution context init failed")
	ErrReleased    = errors.New("execution context released")
	ErrNoVariable  = errors.New("variable not allocated")
)

type variable struct {
	dtype graph.DType
	shape graph.Shape
	buf   backend.Buffer
}

// Session is exclusively owned by the scope that acquired it.
type Session struct {
	g      *graph.Graph
	handle *plugin.Handle
	dev    backend.Device
	log    logger.Logger

	mu       sync.Mutex
	vars     map[string]*variable
	order    []string
	released bool
}

// Acquire opens a device on the handle's backend. When it fails nothing
// needs releasing.
func Acquire(ctx context.Context, g *graph.Graph, h *plugin.Handle) (*Session, error) {
	if g == nil || h == nil {
		return nil, fmt.Errorf("%w: graph and backend handle are required", ErrContextInit)
	}
	dev, err := h.Backend.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrContextInit, h.Tag, err)
	}
	h.Retain()
	log := logger.FromContext(ctx).With("backend", h.Tag, "device", dev.Name())
	log.Debug("execution context acquired")
	return &Session{
		g:      g,
		handle: h,
		dev:    dev,
		log:    log,
		vars:   make(map[string]*variable),
	}, nil
}

// Do acquires a session, runs fn and releases the session on every path.
// Release errors are joined with fn's error.
func Do(ctx context.Context, g *graph.Graph, h *plugin.Handle, fn func(*Session) error) (err error) {
	s, err := Acquire(ctx, g, h)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(s)
}

func (s *Session) Graph() *graph.Graph     { return s.g }
func (s *Session) Handle() *plugin.Handle  { return s.handle }
func (s *Session) Kernels() graph.Kernels  { return s.handle.Backend }
func (s *Session) BackendTag() backend.Tag { return s.handle.Tag }

// Alloc reserves device memory for a named variable.
func (s *Session) Alloc(name string, dtype graph.DType, shape graph.Shape) error {
	n, err := shape.NumElements()
	if err != nil {
		return fmt.Errorf("alloc %s: %w", name, err)
	}
	if dtype.Size() == 0 {
		return fmt.Errorf("alloc %s: unsupported dtype %q", name, dtype)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	if _, dup := s.vars[name]; dup {
		return fmt.Errorf("alloc %s: already allocated", name)
	}
	buf, err := s.dev.Alloc(int(n) * dtype.Size())
	if err != nil {
		return fmt.Errorf("alloc %s: %w", name, err)
	}
	s.vars[name] = &variable{dtype: dtype, shape: shape.Clone(), buf: buf}
	s.order = append(s.order, name)
	return nil
}

func (s *Session) lookup(name string) (*variable, error) {
	if s.released {
		return nil, ErrReleased
	}
	v, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoVariable, name)
	}
	return v, nil
}

// Upload copies host bytes into a variable.
func (s *Session) Upload(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.lookup(name)
	if err != nil {
		return err
	}
	if err := v.buf.Write(data); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Download copies a variable back to host memory.
func (s *Session) Download(name string) (graph.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.lookup(name)
	if err != nil {
		return graph.Tensor{}, err
	}
	data := make([]byte, v.buf.Size())
	if err := v.buf.Read(data); err != nil {
		return graph.Tensor{}, fmt.Errorf("download %s: %w", name, err)
	}
	return graph.Tensor{DType: v.dtype, Shape: v.shape.Clone(), Data: data}, nil
}

// Variables lists allocated variables in allocation order.
func (s *Session) Variables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Release frees every buffer, closes the device and drops the handle
// reference. Only the first call does work.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.vars[s.order[i]].buf.Free(); err != nil {
			errs = append(errs, fmt.Errorf("free %s: %w", s.order[i], err))
		}
	}
	s.vars = nil
	s.order = nil
	if err := s.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}
	s.handle.Release()
	s.log.Debug("execution context released")
	return errors.Join(errs...)
}
