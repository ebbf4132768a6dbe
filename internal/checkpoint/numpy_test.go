package checkpoint

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"

	"github.com/samcharles93/ganport/internal/graph"
)

func TestNDArrayFortranOrder(t *testing.T) {
	t.Parallel()
	// [[1 2 3] [4 5 6]] stored column-major.
	a := &ndarray{
		shape:   []int64{2, 3},
		dtype:   &dtype{code: "i4", order: '<'},
		fortran: true,
		raw:     i32s(1, 4, 2, 5, 3, 6),
	}
	got, err := a.tensor()
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	if diff := cmp.Diff(i32s(1, 2, 3, 4, 5, 6), got.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestNDArrayBigEndianAndWidening(t *testing.T) {
	t.Parallel()
	be := make([]byte, 8)
	binary.BigEndian.PutUint32(be, math.Float32bits(1.5))
	binary.BigEndian.PutUint32(be[4:], math.Float32bits(-2))

	f16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(f16, float16.Fromfloat32(0.25).Bits())
	binary.LittleEndian.PutUint16(f16[2:], float16.Fromfloat32(-3).Bits())

	f64 := make([]byte, 16)
	binary.LittleEndian.PutUint64(f64, math.Float64bits(0.5))
	binary.LittleEndian.PutUint64(f64[8:], math.Float64bits(8))

	tests := []struct {
		name string
		a    *ndarray
		want []float32
	}{
		{"big endian f4", &ndarray{shape: []int64{2}, dtype: &dtype{code: "f4", order: '>'}, raw: be}, []float32{1.5, -2}},
		{"f2", &ndarray{shape: []int64{2}, dtype: &dtype{code: "f2", order: '<'}, raw: f16}, []float32{0.25, -3}},
		{"f8", &ndarray{shape: []int64{2}, dtype: &dtype{code: "f8", order: '<'}, raw: f64}, []float32{0.5, 8}},
	}
	for _, tt := range tests {
		got, err := tt.a.tensor()
		if err != nil {
			t.Fatalf("%s: tensor: %v", tt.name, err)
		}
		if got.DType != graph.Float32 {
			t.Fatalf("%s: dtype = %s", tt.name, got.DType)
		}
		vals, err := got.Float32s()
		if err != nil {
			t.Fatalf("%s: Float32s: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, vals); diff != "" {
			t.Fatalf("%s: values mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestNDArrayRejectsBadInput(t *testing.T) {
	t.Parallel()
	short := &ndarray{shape: []int64{3}, dtype: &dtype{code: "f4", order: '<'}, raw: make([]byte, 8)}
	if _, err := short.tensor(); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	cplx := &ndarray{shape: []int64{1}, dtype: &dtype{code: "c8", order: '<'}, raw: make([]byte, 8)}
	if _, err := cplx.tensor(); err == nil {
		t.Fatalf("expected unsupported dtype error")
	}
}

func i32s(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}
