package volume

// Direction selects the half swap performed by a shift. Its value is the
// signed pivot offset applied to odd-length axes.
type Direction int

const (
	// IFFTShift moves the zero frequency from the centre to the corner.
	IFFTShift Direction = -1
	// FFTShift moves the zero frequency from the corner to the centre.
	FFTShift Direction = 1
)

func (d Direction) String() string {
	if d == FFTShift {
		return "fftshift"
	}
	return "ifftshift"
}

// Pivot returns the number of leading samples moved to the back of an axis of
// length n: ceil(n/2) for FFTShift and floor(n/2) for IFFTShift.
func Pivot(n int, d Direction) int {
	return (n + int(d)*(n%2)) / 2
}

// ShiftIndex returns the position index i moves to under an ifft-shift of an
// axis of length n.
func ShiftIndex(n, i int) int {
	return (i + n - n/2) % n
}

func destinations(n int, d Direction) []int {
	p := Pivot(n, d)
	dst := make([]int, n)
	for i := range dst {
		dst[i] = (i + n - p) % n
	}
	return dst
}

// Shift returns a new volume holding v shifted along all three axes.
func (v *Volume) Shift(d Direction) *Volume {
	out := New(v.Rows, v.Cols, v.Slices)
	di := destinations(v.Rows, d)
	dj := destinations(v.Cols, d)
	dk := destinations(v.Slices, d)
	for k := 0; k < v.Slices; k++ {
		for j := 0; j < v.Cols; j++ {
			base := out.Index(0, dj[j], dk[k])
			src := v.Index(0, j, k)
			for i := 0; i < v.Rows; i++ {
				out.Data[base+di[i]] = v.Data[src+i]
			}
		}
	}
	return out
}

// ShiftInPlace shifts v along all three axes without allocating a second
// volume. Each axis is rotated by three reversals.
func (v *Volume) ShiftInPlace(d Direction) {
	rs, cs, ss := v.Strides()
	// readout fibres
	for k := 0; k < v.Slices; k++ {
		for j := 0; j < v.Cols; j++ {
			v.rotate(v.Index(0, j, k), rs, v.Rows, Pivot(v.Rows, d))
		}
	}
	// phase-encode fibres
	for k := 0; k < v.Slices; k++ {
		for i := 0; i < v.Rows; i++ {
			v.rotate(v.Index(i, 0, k), cs, v.Cols, Pivot(v.Cols, d))
		}
	}
	// slice fibres
	for j := 0; j < v.Cols; j++ {
		for i := 0; i < v.Rows; i++ {
			v.rotate(v.Index(i, j, 0), ss, v.Slices, Pivot(v.Slices, d))
		}
	}
}

// rotate left-rotates the n-element fibre starting at base by p positions.
func (v *Volume) rotate(base, stride, n, p int) {
	if p == 0 || p == n {
		return
	}
	v.reverse(base, stride, 0, p)
	v.reverse(base, stride, p, n)
	v.reverse(base, stride, 0, n)
}

func (v *Volume) reverse(base, stride, lo, hi int) {
	for a, b := lo, hi-1; a < b; a, b = a+1, b-1 {
		ia, ib := base+a*stride, base+b*stride
		v.Data[ia], v.Data[ib] = v.Data[ib], v.Data[ia]
	}
}
