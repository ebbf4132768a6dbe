// Package backend defines the numeric backend contract and the selector
// that decides which backend a call runs on.
package backend

import (
	"context"
	"strings"
)

// Tag identifies a backend implementation. The selector stores any value
// verbatim; the plugin registry decides whether it can be loaded.
type Tag string

const (
	CUDA Tag = "cuda"
	Ref  Tag = "ref"
)

// DefaultTag is the backend a fresh selector starts with.
const DefaultTag = CUDA

func (t Tag) String() string { return string(t) }

// Backend is a loaded numeric implementation.
type Backend interface {
	Name() string
	// Kernels lists the fused operations the backend implements natively.
	Kernels() []string
	HasKernel(op string) bool
	// Open acquires a device context. The caller must Close it.
	Open(ctx context.Context) (Device, error)
}

// Device owns native memory for one execution context.
type Device interface {
	Name() string
	Alloc(size int) (Buffer, error)
	Close() error
}

// Buffer is a device allocation of fixed size.
type Buffer interface {
	Size() int
	Write(src []byte) error
	Read(dst []byte) error
	Free() error
}

// Normalize trims and lower-cases user input. An empty result means unset.
func Normalize(name string) Tag {
	return Tag(strings.ToLower(strings.TrimSpace(name)))
}
