// Package dimension describes the extents of the k-space store: the readout,
// phase-encode and phase-correct line counts, the ordinal lists for slices,
// repetitions and echoes, and the zero padding that inflates them to powers
// of two.
package dimension

import (
	"fmt"
	"math/bits"

	"mdhrecon/internal/models"
)

// List is an ordered set of disk-space indices. The position of an index in
// the list is its memory-space index.
type List []int

// IndexOf returns the zero-based position of v in l.
func (l List) IndexOf(v int) (int, bool) {
	for i, x := range l {
		if x == v {
			return i, true
		}
	}
	return -1, false
}

// Contains reports whether v is in l.
func (l List) Contains(v int) bool {
	_, ok := l.IndexOf(v)
	return ok
}

// Validate rejects empty lists and duplicated indices.
func (l List) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("empty index list")
	}
	seen := make(map[int]struct{}, len(l))
	for _, v := range l {
		if v < 0 {
			return fmt.Errorf("negative index %d", v)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("index %d listed twice", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Range returns the inclusive list start..end. An end of 0 yields [0].
func Range(start, end int) List {
	if end == 0 || end < start {
		return List{0}
	}
	l := make(List, 0, end-start+1)
	for i := start; i <= end; i++ {
		l = append(l, i)
	}
	return l
}

// Seq returns the list 0..n-1.
func Seq(n int) List {
	l := make(List, n)
	for i := range l {
		l[i] = i
	}
	return l
}

// IsPowerOfTwo reports whether n has exactly one bit set.
func IsPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}

// PadLength returns the zero padded length of an axis of n samples and the
// offset of the first original sample. Powers of two are returned unchanged
// with a zero offset. Otherwise the length is the smallest power of two
// greater than n and the offset is floor((length-n)/2); for odd n the extra
// zero sits after the data.
func PadLength(n int) (length, offset int) {
	if n <= 0 || IsPowerOfTwo(n) {
		return n, 0
	}
	length = 1 << bits.Len(uint(n))
	return length, (length - n) / 2
}

// PadExtents applies PadLength to the three spatial axes.
func PadExtents(rows, cols, slices int) (padRows, padCols, padSlices int, off models.ZeroPad) {
	padRows, off.Row = PadLength(rows)
	padCols, off.Col = PadLength(cols)
	padSlices, off.Slice = PadLength(slices)
	return padRows, padCols, padSlices, off
}

// Interleave maps a raw 2-D slice index r to its anatomical position in a
// slice stack of depth slices that carries padSlice zero slices on each side.
// Odd positions are acquired first: r < half maps to 2r+1, the rest to
// 2(r-half), with half = (slices-2*padSlice)/2.
func Interleave(r, slices, padSlice int) int {
	half := (slices - 2*padSlice) / 2
	if r < half {
		return 2*r + 1
	}
	return 2 * (r - half)
}
