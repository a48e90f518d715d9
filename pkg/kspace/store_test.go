package kspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/volume"
)

func newStore(t *testing.T, dims models.Dims, additional bool) *Store {
	t.Helper()
	s, err := New("kspace", dims, additional, logging.Discard())
	require.NoError(t, err)
	return s
}

func TestNewRejectsEmptyExtent(t *testing.T) {
	_, err := New("kspace", models.Dims{ReadOut: 4, PhaseEncode: 4, Slices: 0, Repetitions: 1, Echoes: 1}, false, nil)
	require.ErrorIs(t, err, errs.ErrGeometry)
}

func TestStridesAndIndex(t *testing.T) {
	s := newStore(t, models.Dims{ReadOut: 4, PhaseEncode: 3, Slices: 2, Repetitions: 2, Echoes: 3}, false)
	require.Equal(t, [5]int{1, 4, 12, 24, 48}, s.Strides())
	require.Equal(t, 3+4*2+12*1+24*1+48*2, s.Index(3, 2, 1, 1, 2))
	require.Contains(t, s.String(), "4x3x2x2x3")
}

func TestSetAndExtract(t *testing.T) {
	require := require.New(t)
	s := newStore(t, models.Dims{ReadOut: 4, PhaseEncode: 2, Slices: 2, Repetitions: 1, Echoes: 2}, false)

	c := models.Coord{Line: 1, Slice: 1, Repetition: 0, Echo: 1}
	for i := 0; i < 4; i++ {
		s.Set(i, c, complex(float32(i), 1))
	}
	require.Equal([]complex64{0 + 1i, 1 + 1i, 2 + 1i, 3 + 1i}, s.Line(c))

	v, err := s.Extract(0, 1)
	require.NoError(err)
	require.Equal(4, v.Rows)
	require.Equal(2, v.Cols)
	require.Equal(2, v.Slices)
	require.Equal(complex64(2+1i), v.At(2, 1, 1))

	// copy-on-write: later stores do not leak into the extracted volume
	s.Set(2, c, 9)
	require.Equal(complex64(2+1i), v.At(2, 1, 1))

	other, err := s.Extract(0, 0)
	require.NoError(err)
	for _, z := range other.Data {
		require.Zero(z)
	}

	_, err = s.Extract(1, 0)
	require.ErrorIs(err, errs.ErrGeometry)
}

func TestLifecycle(t *testing.T) {
	require := require.New(t)
	s := newStore(t, models.Dims{ReadOut: 2, PhaseEncode: 2, Slices: 2, Repetitions: 1, Echoes: 1}, false)

	_, err := s.Current()
	require.ErrorIs(err, errs.ErrNoVolume)

	s.Construct()
	v, err := s.Current()
	require.NoError(err)
	require.Equal(1, v.Len())

	s.Destruct()
	s.Destruct()
	_, err = s.Current()
	require.ErrorIs(err, errs.ErrNoVolume)

	s.Replace(volume.New(2, 2, 5))
	require.Equal(5, s.SliceLines())
}

func TestZeroPadUpdatesSliceLines(t *testing.T) {
	require := require.New(t)
	s := newStore(t, models.Dims{ReadOut: 6, PhaseEncode: 4, Slices: 12, Repetitions: 1, Echoes: 1}, false)
	s.Set(0, models.Coord{}, 5)

	_, err := s.Extract(0, 0)
	require.NoError(err)
	off, err := s.ZeroPad()
	require.NoError(err)
	require.Equal(models.ZeroPad{Row: 1, Col: 0, Slice: 2}, off)
	require.Equal(16, s.SliceLines())

	v, err := s.Current()
	require.NoError(err)
	require.Equal(8, v.Rows)
	require.Equal(complex64(5), v.At(1, 0, 2))

	// already a power of two: nothing changes
	off, err = s.ZeroPad()
	require.NoError(err)
	require.Equal(models.ZeroPad{}, off)
	same, _ := s.Current()
	require.Same(v, same)
}

func TestShiftPolicies(t *testing.T) {
	require := require.New(t)
	s := newStore(t, models.Dims{ReadOut: 4, PhaseEncode: 4, Slices: 2, Repetitions: 1, Echoes: 1}, false)
	for i := 0; i < 4; i++ {
		s.Set(i, models.Coord{Line: 1}, complex(float32(i+1), 0))
	}
	orig, err := s.Extract(0, 0)
	require.NoError(err)
	want := orig.Clone()

	require.NoError(s.Shift(volume.FFTShift, false))
	copied, _ := s.Current()
	require.NotSame(orig, copied)
	require.NoError(s.Shift(volume.IFFTShift, true))
	back, _ := s.Current()
	require.Same(copied, back)
	require.True(want.Equal(back))
}

func TestSideDataAndCounters(t *testing.T) {
	require := require.New(t)
	dims := models.Dims{ReadOut: 2, PhaseEncode: 3, Slices: 2, Repetitions: 2, Echoes: 2}

	plain := newStore(t, dims, false)
	require.False(plain.HasSideData())
	plain.SetSideData(models.Coord{}, true, 5)
	r, ts := plain.SideData(models.Coord{})
	require.False(r)
	require.Zero(ts)

	s := newStore(t, dims, true)
	c := models.Coord{Line: 2, Slice: 1, Repetition: 1, Echo: 1}
	s.SetSideData(c, true, 1234)
	r, ts = s.SideData(c)
	require.True(r)
	require.Equal(uint32(1234), ts)
	r, _ = s.SideData(models.Coord{Line: 1, Slice: 1, Repetition: 1, Echo: 1})
	require.False(r)

	require.Equal(0, s.NextLine(1, 0, 1))
	require.Equal(1, s.NextLine(1, 0, 1))
	require.Equal(0, s.NextLine(0, 0, 1))
	require.Equal(2, s.LineCount(1, 0, 1))

	s.Set(0, c, 3)
	s.Reset()
	require.Zero(s.At(0, c))
	require.Zero(s.LineCount(1, 0, 1))
	r, ts = s.SideData(c)
	require.False(r)
	require.Zero(ts)
}

func TestContains(t *testing.T) {
	s := newStore(t, models.Dims{ReadOut: 2, PhaseEncode: 3, Slices: 2, Repetitions: 1, Echoes: 1}, false)
	require.True(t, s.Contains(models.Coord{Line: 2, Slice: 1}))
	require.False(t, s.Contains(models.Coord{Line: 3}))
	require.False(t, s.Contains(models.Coord{Slice: -1}))
	require.False(t, s.Contains(models.Coord{Echo: 1}))
}

func TestOutsideNamesAxis(t *testing.T) {
	s := newStore(t, models.Dims{ReadOut: 2, PhaseEncode: 3, Slices: 2, Repetitions: 2, Echoes: 1}, false)
	for _, tc := range []struct {
		c    models.Coord
		axis models.Axis
	}{
		{models.Coord{Line: 3}, models.PhaseEncode},
		{models.Coord{Line: 3, Slice: 5}, models.PhaseEncode},
		{models.Coord{Slice: -1}, models.Slice},
		{models.Coord{Repetition: 2}, models.Repetition},
		{models.Coord{Echo: 1}, models.Echo},
	} {
		axis, outside := s.Outside(tc.c)
		require.True(t, outside, "%+v", tc.c)
		require.Equal(t, tc.axis, axis, "%+v", tc.c)
	}
	_, outside := s.Outside(models.Coord{Line: 2, Slice: 1, Repetition: 1})
	require.False(t, outside)
	require.Equal(t, "phase-encode", models.PhaseEncode.String())
}
