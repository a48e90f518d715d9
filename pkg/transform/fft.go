// Package transform dispatches the Fourier transforms of a working volume to
// gonum's complex FFT.
package transform

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"mdhrecon/pkg/volume"
)

// Inverse returns the inverse Fourier transform of v normalised by 1/N. A 3-D
// acquisition is transformed along all three axes, a 2-D acquisition slice by
// slice along readout and phase encode only. v is not modified.
func Inverse(v *volume.Volume, is3D bool) *volume.Volume {
	return apply(v, is3D, true)
}

// Forward returns the unnormalised forward Fourier transform of v over the
// same axes as Inverse.
func Forward(v *volume.Volume, is3D bool) *volume.Volume {
	return apply(v, is3D, false)
}

func apply(v *volume.Volume, is3D, inverse bool) *volume.Volume {
	out := v.Clone()
	rs, cs, ss := out.Strides()
	n := 1

	// readout fibres
	f := newFibre(out.Rows, inverse)
	for k := 0; k < out.Slices; k++ {
		for j := 0; j < out.Cols; j++ {
			f.run(out.Data, out.Index(0, j, k), rs)
		}
	}
	n *= out.Rows

	// phase-encode fibres
	f = newFibre(out.Cols, inverse)
	for k := 0; k < out.Slices; k++ {
		for i := 0; i < out.Rows; i++ {
			f.run(out.Data, out.Index(i, 0, k), cs)
		}
	}
	n *= out.Cols

	if is3D {
		f = newFibre(out.Slices, inverse)
		for j := 0; j < out.Cols; j++ {
			for i := 0; i < out.Rows; i++ {
				f.run(out.Data, out.Index(i, j, 0), ss)
			}
		}
		n *= out.Slices
	}

	if inverse && n > 1 {
		scale := complex(float32(1/float64(n)), 0)
		for i := range out.Data {
			out.Data[i] *= scale
		}
	}
	return out
}

// fibre transforms strided 1-D runs of a fixed length.
type fibre struct {
	fft     *fourier.CmplxFFT
	buf     []complex128
	inverse bool
}

func newFibre(n int, inverse bool) *fibre {
	return &fibre{
		fft:     fourier.NewCmplxFFT(n),
		buf:     make([]complex128, n),
		inverse: inverse,
	}
}

func (f *fibre) run(data []complex64, base, stride int) {
	if len(f.buf) < 2 {
		return
	}
	for i := range f.buf {
		f.buf[i] = complex128(data[base+i*stride])
	}
	if f.inverse {
		f.fft.Sequence(f.buf, f.buf)
	} else {
		f.fft.Coefficients(f.buf, f.buf)
	}
	for i, z := range f.buf {
		data[base+i*stride] = complex64(z)
	}
}
