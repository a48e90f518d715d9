// Package kspace holds the dense 5-D k-space store filled by the unpacker and
// manages the single 3-D working volume extracted from it.
package kspace

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/dimension"
	"mdhrecon/pkg/volume"
)

// Store is a readout × phaseEncode × slice × repetition × echo complex array
// with optional per-line side data.
type Store struct {
	name    string
	dims    models.Dims
	strides [5]int
	data    []complex64

	// side data over line × slice × repetition × echo
	reflect   []bool
	timeStamp []uint32

	// running line counter over slice × repetition × echo
	lineCount []int

	current    *volume.Volume
	sliceLines int
	log        logging.Logger
}

// New allocates a zeroed store. Side arrays are only allocated when
// additional is set.
func New(name string, dims models.Dims, additional bool, log logging.Logger) (*Store, error) {
	if !dims.Valid() {
		return nil, errs.New("Store", "New", fmt.Sprintf("%s: invalid extents %+v", name, dims),
			errs.CodeGeometry, errs.ErrGeometry)
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &Store{
		name:       name,
		dims:       dims,
		data:       make([]complex64, dims.Len()),
		lineCount:  make([]int, dims.Slices*dims.Repetitions*dims.Echoes),
		sliceLines: dims.Slices,
		log:        log,
	}
	s.strides[0] = 1
	s.strides[1] = dims.ReadOut
	s.strides[2] = s.strides[1] * dims.PhaseEncode
	s.strides[3] = s.strides[2] * dims.Slices
	s.strides[4] = s.strides[3] * dims.Repetitions
	if additional {
		n := dims.PhaseEncode * dims.Slices * dims.Repetitions * dims.Echoes
		s.reflect = make([]bool, n)
		s.timeStamp = make([]uint32, n)
	}
	log.Debugf("%s: allocated %s", name, s)
	return s, nil
}

// Name returns the store label used in log messages.
func (s *Store) Name() string {
	return s.name
}

// Dims returns the store extents.
func (s *Store) Dims() models.Dims {
	return s.dims
}

// String describes the extents and memory footprint.
func (s *Store) String() string {
	d := s.dims
	return fmt.Sprintf("%dx%dx%dx%dx%d (%s)", d.ReadOut, d.PhaseEncode, d.Slices, d.Repetitions, d.Echoes,
		humanize.Bytes(uint64(len(s.data))*8))
}

// Strides returns the element strides of the five axes.
func (s *Store) Strides() [5]int {
	return s.strides
}

// Index returns the offset of a sample in the dense array.
func (s *Store) Index(readout, line, slice, rep, echo int) int {
	return readout*s.strides[0] + line*s.strides[1] + slice*s.strides[2] + rep*s.strides[3] + echo*s.strides[4]
}

// Outside returns the first axis on which c falls outside the store.
func (s *Store) Outside(c models.Coord) (models.Axis, bool) {
	d := s.dims
	for _, a := range []struct {
		axis   models.Axis
		at, to int
	}{
		{models.PhaseEncode, c.Line, d.PhaseEncode},
		{models.Slice, c.Slice, d.Slices},
		{models.Repetition, c.Repetition, d.Repetitions},
		{models.Echo, c.Echo, d.Echoes},
	} {
		if a.at < 0 || a.at >= a.to {
			return a.axis, true
		}
	}
	return 0, false
}

// Contains reports whether c addresses a line inside the store.
func (s *Store) Contains(c models.Coord) bool {
	_, outside := s.Outside(c)
	return !outside
}

// At returns one sample.
func (s *Store) At(readout int, c models.Coord) complex64 {
	return s.data[s.Index(readout, c.Line, c.Slice, c.Repetition, c.Echo)]
}

// Set stores one sample.
func (s *Store) Set(readout int, c models.Coord, z complex64) {
	s.data[s.Index(readout, c.Line, c.Slice, c.Repetition, c.Echo)] = z
}

// Line returns the readout fibre at c. The slice aliases the store.
func (s *Store) Line(c models.Coord) []complex64 {
	i := s.Index(0, c.Line, c.Slice, c.Repetition, c.Echo)
	return s.data[i : i+s.dims.ReadOut]
}

func (s *Store) sideIndex(c models.Coord) int {
	d := s.dims
	return c.Line + d.PhaseEncode*(c.Slice+d.Slices*(c.Repetition+d.Repetitions*c.Echo))
}

// HasSideData reports whether reflect and time stamp arrays were allocated.
func (s *Store) HasSideData() bool {
	return s.reflect != nil
}

// SetSideData records the reflect bit and time stamp of the line at c.
func (s *Store) SetSideData(c models.Coord, reflect bool, timeStamp uint32) {
	if s.reflect == nil {
		return
	}
	i := s.sideIndex(c)
	s.reflect[i] = reflect
	s.timeStamp[i] = timeStamp
}

// SideData returns the reflect bit and time stamp recorded for c.
func (s *Store) SideData(c models.Coord) (reflect bool, timeStamp uint32) {
	if s.reflect == nil {
		return false, 0
	}
	i := s.sideIndex(c)
	return s.reflect[i], s.timeStamp[i]
}

func (s *Store) counterIndex(slice, rep, echo int) int {
	return slice + s.dims.Slices*(rep+s.dims.Repetitions*echo)
}

// NextLine returns the next free line of (slice, rep, echo) and advances the
// counter.
func (s *Store) NextLine(slice, rep, echo int) int {
	i := s.counterIndex(slice, rep, echo)
	n := s.lineCount[i]
	s.lineCount[i]++
	return n
}

// LineCount returns how many lines NextLine handed out for (slice, rep, echo).
func (s *Store) LineCount(slice, rep, echo int) int {
	return s.lineCount[s.counterIndex(slice, rep, echo)]
}

// Reset zeroes the dense array, the side data and the line counters, and
// drops the current volume.
func (s *Store) Reset() {
	clear(s.data)
	clear(s.reflect)
	clear(s.timeStamp)
	clear(s.lineCount)
	s.sliceLines = s.dims.Slices
	s.current = nil
}

// Extract copies the (rep, echo) volume into a new current volume.
func (s *Store) Extract(rep, echo int) (*volume.Volume, error) {
	d := s.dims
	if rep < 0 || rep >= d.Repetitions || echo < 0 || echo >= d.Echoes {
		return nil, errs.New("Store", "Extract",
			fmt.Sprintf("%s: repetition %d echo %d outside %dx%d", s.name, rep, echo, d.Repetitions, d.Echoes),
			errs.CodeGeometry, errs.ErrGeometry)
	}
	v := volume.New(d.ReadOut, d.PhaseEncode, d.Slices)
	start := s.Index(0, 0, 0, rep, echo)
	copy(v.Data, s.data[start:start+s.strides[3]])
	s.current = v
	s.sliceLines = d.Slices
	return v, nil
}

// Construct installs a 1×1×1 placeholder as the current volume.
func (s *Store) Construct() {
	s.current = volume.New(1, 1, 1)
}

// Destruct releases the current volume. Calling it twice is harmless.
func (s *Store) Destruct() {
	s.current = nil
}

// Current returns the current volume.
func (s *Store) Current() (*volume.Volume, error) {
	if s.current == nil {
		return nil, errs.New("Store", "Current", s.name, errs.CodeGeneric, errs.ErrNoVolume)
	}
	return s.current, nil
}

// Replace installs v as the current volume.
func (s *Store) Replace(v *volume.Volume) {
	s.current = v
	s.sliceLines = v.Slices
}

// SliceLines returns the slice depth of the current volume.
func (s *Store) SliceLines() int {
	return s.sliceLines
}

// ZeroPad replaces the current volume by a copy centred in power-of-two extents.
func (s *Store) ZeroPad() (models.ZeroPad, error) {
	v, err := s.Current()
	if err != nil {
		return models.ZeroPad{}, err
	}
	if dimension.IsPowerOfTwo(v.Rows) && dimension.IsPowerOfTwo(v.Cols) && dimension.IsPowerOfTwo(v.Slices) {
		return models.ZeroPad{}, nil
	}
	padded, off := v.ZeroPad()
	s.log.Debugf("%s: zero padded %s to %s", s.name, v, padded)
	s.Replace(padded)
	return off, nil
}

// Shift shifts the current volume, in place or into a replacement copy.
func (s *Store) Shift(d volume.Direction, inPlace bool) error {
	v, err := s.Current()
	if err != nil {
		return err
	}
	if inPlace {
		v.ShiftInPlace(d)
		return nil
	}
	s.Replace(v.Shift(d))
	return nil
}
