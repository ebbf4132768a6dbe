// Package ref is the reference backend: host memory and primitive ops only.
package ref

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/samcharles93/ganport/internal/backend"
)

var ErrOutOfMemory = errors.New("ref: out of memory")

type Option func(*Backend)

// WithMemoryLimit caps the bytes a single device may hold. Zero means no cap.
func WithMemoryLimit(n int64) Option {
	return func(b *Backend) { b.limit = n }
}

type Backend struct {
	limit int64
}

func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return backend.Ref.String() }

func (b *Backend) Kernels() []string { return nil }

func (b *Backend) HasKernel(string) bool { return false }

func (b *Backend) Open(ctx context.Context) (backend.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &device{limit: b.limit, live: make(map[*buffer]struct{})}, nil
}

// Fingerprint describes the host CPU, for example "x86-64-v3 AMD EPYC (avx2,fma3)".
func Fingerprint() string {
	var parts []string
	if lvl := cpuid.CPU.X64Level(); lvl > 0 {
		parts = append(parts, fmt.Sprintf("x86-64-v%d", lvl))
	}
	if name := strings.TrimSpace(cpuid.CPU.BrandName); name != "" {
		parts = append(parts, name)
	}
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "asimd"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	if len(feats) > 0 {
		parts = append(parts, "("+strings.Join(feats, ",")+")")
	}
	if len(parts) == 0 {
		return "generic"
	}
	return strings.Join(parts, " ")
}

type device struct {
	mu     sync.Mutex
	limit  int64
	used   int64
	live   map[*buffer]struct{}
	closed bool
}

func (d *device) Name() string { return "host" }

func (d *device) Alloc(size int) (backend.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("ref: invalid allocation size %d", size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("ref: device closed")
	}
	if d.limit > 0 && d.used+int64(size) > d.limit {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, d.used, d.limit)
	}
	b := &buffer{dev: d, data: make([]byte, size)}
	d.used += int64(size)
	d.live[b] = struct{}{}
	return b, nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("ref: device already closed")
	}
	d.closed = true
	if n := len(d.live); n > 0 {
		d.live = nil
		d.used = 0
		return fmt.Errorf("ref: device closed with %d live buffers", n)
	}
	return nil
}

func (d *device) release(b *buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[b]; !ok {
		return errors.New("ref: buffer already freed")
	}
	delete(d.live, b)
	d.used -= int64(len(b.data))
	return nil
}

type buffer struct {
	dev  *device
	data []byte
}

func (b *buffer) Size() int { return len(b.data) }

func (b *buffer) Write(src []byte) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("ref: write of %d bytes into %d byte buffer", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *buffer) Read(dst []byte) error {
	if len(dst) != len(b.data) {
		return fmt.Errorf("ref: read of %d bytes from %d byte buffer", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (b *buffer) Free() error {
	if err := b.dev.release(b); err != nil {
		return err
	}
	b.data = nil
	return nil
}
