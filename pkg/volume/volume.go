// Package volume provides the dense 3-D complex working volume extracted from
// the k-space store, together with its zero-pad and shift operations.
package volume

import (
	"fmt"
	"math/cmplx"

	"mdhrecon/internal/models"
	"mdhrecon/pkg/dimension"
)

// Volume is a dense rows × cols × slices complex volume. Rows is the readout
// axis and varies fastest in Data.
type Volume struct {
	Rows   int
	Cols   int
	Slices int

	// Data holds the samples at Index(i, j, k)
	Data []complex64
}

// New allocates a zeroed volume.
func New(rows, cols, slices int) *Volume {
	return &Volume{
		Rows:   rows,
		Cols:   cols,
		Slices: slices,
		Data:   make([]complex64, rows*cols*slices),
	}
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return len(v.Data)
}

// Strides returns the element distance between neighbours along rows, cols
// and slices.
func (v *Volume) Strides() (row, col, slice int) {
	return 1, v.Rows, v.Rows * v.Cols
}

// Index returns the offset of voxel (i, j, k) in Data.
func (v *Volume) Index(i, j, k int) int {
	return i + v.Rows*(j+v.Cols*k)
}

// At returns voxel (i, j, k).
func (v *Volume) At(i, j, k int) complex64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores z at voxel (i, j, k).
func (v *Volume) Set(i, j, k int, z complex64) {
	v.Data[v.Index(i, j, k)] = z
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	c := &Volume{Rows: v.Rows, Cols: v.Cols, Slices: v.Slices, Data: make([]complex64, len(v.Data))}
	copy(c.Data, v.Data)
	return c
}

// SameShape reports whether v and o have identical extents.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Rows == o.Rows && v.Cols == o.Cols && v.Slices == o.Slices
}

// Equal reports whether v and o have the same shape and samples.
func (v *Volume) Equal(o *Volume) bool {
	if !v.SameShape(o) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// String returns the extents for log messages.
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%d", v.Rows, v.Cols, v.Slices)
}

// Magnitudes returns |z| for every voxel in Data order.
func (v *Volume) Magnitudes() []float64 {
	out := make([]float64, len(v.Data))
	for i, z := range v.Data {
		out[i] = cmplx.Abs(complex128(z))
	}
	return out
}

// Embed returns a zeroed rows × cols × slices volume holding v with its
// first voxel at off.
func (v *Volume) Embed(rows, cols, slices int, off models.ZeroPad) (*Volume, error) {
	if off.Row < 0 || off.Col < 0 || off.Slice < 0 ||
		off.Row+v.Rows > rows || off.Col+v.Cols > cols || off.Slice+v.Slices > slices {
		return nil, fmt.Errorf("cannot embed %s at %+v in %dx%dx%d", v, off, rows, cols, slices)
	}
	out := New(rows, cols, slices)
	for k := 0; k < v.Slices; k++ {
		for j := 0; j < v.Cols; j++ {
			src := v.Data[v.Index(0, j, k) : v.Index(0, j, k)+v.Rows]
			copy(out.Data[out.Index(off.Row, j+off.Col, k+off.Slice):], src)
		}
	}
	return out, nil
}

// ZeroPad returns v centred in a volume whose axes are padded to powers of
// two, together with the offsets used.
func (v *Volume) ZeroPad() (*Volume, models.ZeroPad) {
	rows, cols, slices, off := dimension.PadExtents(v.Rows, v.Cols, v.Slices)
	out, err := v.Embed(rows, cols, slices, off)
	if err != nil {
		// PadExtents never shrinks an axis
		panic(err)
	}
	return out, off
}
