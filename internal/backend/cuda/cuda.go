//go:build cuda

// Package cuda is the accelerated backend. It is compiled into the cuda
// plugin and provides the fused StyleGAN kernels.
package cuda

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/ganport/internal/backend"
	"github.com/samcharles93/ganport/internal/backend/cuda/native"
	"github.com/samcharles93/ganport/internal/stylegan"
)

var kernels = []string{stylegan.KernelFusedBiasAct, stylegan.KernelUpFirDn2D}

type Backend struct {
	device int
}

// New checks that a device is present. Native failures, including panics
// raised while probing the driver, are returned as errors.
func New() (b *Backend, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			b, err = nil, cudaExecutionError(rec)
		}
	}()
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, ErrNoDevice
	}
	return &Backend{}, nil
}

func (b *Backend) Name() string {
	return backend.CUDA.String()
}

func (b *Backend) Kernels() []string {
	return append([]string(nil), kernels...)
}

func (b *Backend) HasKernel(op string) bool {
	for _, k := range kernels {
		if k == op {
			return true
		}
	}
	return false
}

func (b *Backend) Open(ctx context.Context) (backend.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := native.SetDevice(b.device); err != nil {
		return nil, fmt.Errorf("cuda set device %d: %w", b.device, err)
	}
	stream, err := native.NewStream()
	if err != nil {
		return nil, fmt.Errorf("cuda stream create failed: %w", err)
	}
	return &device{id: b.device, stream: stream, live: make(map[*buffer]struct{})}, nil
}

type device struct {
	mu     sync.Mutex
	id     int
	stream native.Stream
	live   map[*buffer]struct{}
	closed bool
}

func (d *device) Name() string { return fmt.Sprintf("cuda:%d", d.id) }

func (d *device) Alloc(size int) (backend.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("cuda: invalid allocation size %d", size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("cuda: device closed")
	}
	b := &buffer{dev: d, size: size}
	if size > 0 {
		mem, err := native.AllocDevice(int64(size))
		if err != nil {
			if free, total, ierr := native.MemInfo(); ierr == nil {
				return nil, fmt.Errorf("cuda alloc %d bytes (%d of %d free): %w", size, free, total, err)
			}
			return nil, fmt.Errorf("cuda alloc %d bytes: %w", size, err)
		}
		b.mem = mem
	}
	d.live[b] = struct{}{}
	return b, nil
}

// Close frees any buffers still live and destroys the stream.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("cuda: device already closed")
	}
	d.closed = true
	var errs []error
	if n := len(d.live); n > 0 {
		for b := range d.live {
			errs = append(errs, b.mem.Free())
		}
		errs = append(errs, fmt.Errorf("cuda: device closed with %d live buffers", n))
		d.live = nil
	}
	errs = append(errs, d.stream.Synchronize(), d.stream.Destroy())
	return errors.Join(errs...)
}

func (d *device) release(b *buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[b]; !ok {
		return errors.New("cuda: buffer already freed")
	}
	delete(d.live, b)
	return b.mem.Free()
}

type buffer struct {
	dev  *device
	mem  native.DeviceBuffer
	size int
}

func (b *buffer) Size() int { return b.size }

func (b *buffer) Write(src []byte) error {
	if len(src) != b.size {
		return fmt.Errorf("cuda: write of %d bytes into %d byte buffer", len(src), b.size)
	}
	return native.MemcpyH2D(b.mem, src, b.dev.stream)
}

func (b *buffer) Read(dst []byte) error {
	if len(dst) != b.size {
		return fmt.Errorf("cuda: read of %d bytes from %d byte buffer", len(dst), b.size)
	}
	return native.MemcpyD2H(dst, b.mem, b.dev.stream)
}

func (b *buffer) Free() error {
	return b.dev.release(b)
}
