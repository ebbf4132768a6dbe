//go:build cuda

// Package native wraps the parts of the CUDA runtime the cuda backend
// needs: device discovery, streams, device memory and copies.
package native

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart when building with the cuda tag.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);

#define GANPORT_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define GANPORT_CUDA_MEMCPY_DEVICE_TO_HOST 2

static const char* ganportCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int ganportCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int ganportCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int ganportCudaMemGetInfo(unsigned long long* free, unsigned long long* total) {
	return (int)cudaMemGetInfo(free, total);
}

static int ganportCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int ganportCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int ganportCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int ganportCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int ganportCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int ganportCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, src, size, kind, stream);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type Stream struct {
	ptr C.cudaStream_t
}

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.ganportCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(device int) error {
	return cudaErr(C.ganportCudaSetDevice(C.int(device)))
}

// MemInfo returns free and total memory of the current device in bytes.
func MemInfo() (free, total uint64, err error) {
	var f, t C.ulonglong
	if err := cudaErr(C.ganportCudaMemGetInfo(&f, &t)); err != nil {
		return 0, 0, err
	}
	return uint64(f), uint64(t), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.ganportCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.ganportCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.ganportCudaStreamSynchronize(s.ptr))
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.ganportCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.ganportCudaFree(b.ptr))
}

// MemcpyH2D copies src to the device and waits for the copy on stream.
func MemcpyH2D(dst DeviceBuffer, src []byte, stream Stream) error {
	if len(src) == 0 {
		return nil
	}
	if err := cudaErr(C.ganportCudaMemcpyAsync(dst.ptr, unsafe.Pointer(&src[0]), C.ulonglong(len(src)), C.GANPORT_CUDA_MEMCPY_HOST_TO_DEVICE, stream.ptr)); err != nil {
		return err
	}
	return stream.Synchronize()
}

// MemcpyD2H copies device memory into dst and waits for the copy on stream.
func MemcpyD2H(dst []byte, src DeviceBuffer, stream Stream) error {
	if len(dst) == 0 {
		return nil
	}
	if err := cudaErr(C.ganportCudaMemcpyAsync(unsafe.Pointer(&dst[0]), src.ptr, C.ulonglong(len(dst)), C.GANPORT_CUDA_MEMCPY_DEVICE_TO_HOST, stream.ptr)); err != nil {
		return err
	}
	return stream.Synchronize()
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.ganportCudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}
