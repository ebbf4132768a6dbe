//go:build cuda

package cuda

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCudaExecutionErrorWrapsError(t *testing.T) {
	boom := errors.New("boom")
	err := cudaExecutionError(boom)
	if !strings.Contains(err.Error(), "cuda execution failed") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("missing wrapped error: %v", err)
	}
}

func TestCudaExecutionErrorValue(t *testing.T) {
	err := cudaExecutionError("panic text")
	if !strings.Contains(err.Error(), "panic text") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestBackendBufferRoundTrip(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Skipf("cuda unavailable: %v", err)
	}
	if !b.HasKernel("FusedBiasAct") || b.HasKernel("MatMul") {
		t.Fatalf("kernels = %v", b.Kernels())
	}
	dev, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	buf, err := dev.Alloc(16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	in := []byte("0123456789abcdef")
	if err := buf.Write(in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make([]byte, 16)
	if err := buf.Read(out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("got %q", out)
	}
	if err := buf.Free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := buf.Free(); err == nil {
		t.Fatalf("double free not reported")
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
