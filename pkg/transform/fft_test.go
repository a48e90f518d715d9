package transform

import (
	"math/cmplx"
	"testing"

	"mdhrecon/pkg/volume"
)

const tolerance = 1e-4

func near(a, b complex64) bool {
	return cmplx.Abs(complex128(a-b)) < tolerance
}

func TestInverseOfDeltaIsConstant(t *testing.T) {
	v := volume.New(4, 4, 2)
	v.Set(0, 0, 0, 1)

	out := Inverse(v, true)
	want := complex64(complex(1.0/32, 0))
	for i, z := range out.Data {
		if !near(z, want) {
			t.Fatalf("voxel %d = %v, want %v", i, z, want)
		}
	}
	if v.At(0, 0, 0) != 1 || v.At(1, 0, 0) != 0 {
		t.Errorf("Inverse modified its input")
	}
}

func TestInverse2DKeepsSlicesApart(t *testing.T) {
	v := volume.New(4, 2, 2)
	v.Set(0, 0, 1, 8)

	out := Inverse(v, false)
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			if !near(out.At(i, j, 0), 0) {
				t.Fatalf("slice 0 at (%d,%d) = %v, want 0", i, j, out.At(i, j, 0))
			}
			if !near(out.At(i, j, 1), 1) {
				t.Fatalf("slice 1 at (%d,%d) = %v, want 1", i, j, out.At(i, j, 1))
			}
		}
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	for _, is3D := range []bool{true, false} {
		v := volume.New(8, 4, 3)
		for i := range v.Data {
			v.Data[i] = complex(float32(i%7)-3, float32(i%5))
		}
		back := Inverse(Forward(v, is3D), is3D)
		for i := range v.Data {
			if !near(v.Data[i], back.Data[i]) {
				t.Fatalf("is3D=%v voxel %d: got %v, want %v", is3D, i, back.Data[i], v.Data[i])
			}
		}
	}
}

func TestSingleSampleAxes(t *testing.T) {
	v := volume.New(1, 1, 1)
	v.Data[0] = 3 - 2i
	out := Inverse(v, true)
	if out.Data[0] != 3-2i {
		t.Errorf("got %v, want 3-2i", out.Data[0])
	}
}
