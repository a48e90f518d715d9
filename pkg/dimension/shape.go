package dimension

import (
	"fmt"

	"mdhrecon/internal/endian"
	"mdhrecon/internal/errs"
	"mdhrecon/internal/models"
)

// Policy holds the unpack policy flags.
type Policy struct {
	// ByteOrder of written images
	ByteOrder endian.Order

	// PadAndShift pads the store eagerly at resolution time and stores every
	// sample at its ifft-shifted position
	PadAndShift bool

	// AdditionalData records the reflect bit and time stamp of every line
	AdditionalData bool

	// ReadOutCrop keeps the middle half of the readout axis on output
	ReadOutCrop bool

	// PhaseCorrect keeps phase-correction lines in their own store
	PhaseCorrect bool

	// ShiftInPlace rotates volumes in place instead of shifting into a copy
	ShiftInPlace bool
}

// Shape describes the dense k-space store to build for a run.
type Shape struct {
	ReadOut      int
	PhaseEncode  int
	PhaseCorrect int

	Slices      List
	Repetitions List
	Echoes      List

	Is3D    bool
	Policy  Policy
	Targets models.Targets

	// Pad is filled by Resolve when Policy.PadAndShift is set
	Pad models.ZeroPad

	acquired int
	resolved bool
}

// Resolve validates the shape, collapses targeted lists to a single entry
// and, under PadAndShift, inflates the spatial extents to powers of two.
// When padding makes the slice stack deeper than the configured list, the
// list is replaced by 0..depth-1. Resolve may be called once.
func (s *Shape) Resolve() error {
	if s.resolved {
		return nil
	}
	if s.ReadOut <= 0 || s.PhaseEncode <= 0 {
		return errs.New("Shape", "Resolve",
			fmt.Sprintf("readout %d and phase encode %d must be positive", s.ReadOut, s.PhaseEncode),
			errs.CodeConfig, errs.ErrConfig)
	}
	for _, l := range []struct {
		name string
		list List
	}{{"slice", s.Slices}, {"repetition", s.Repetitions}, {"echo", s.Echoes}} {
		if err := l.list.Validate(); err != nil {
			return errs.New("Shape", "Resolve", l.name+" list", errs.CodeConfig,
				fmt.Errorf("%w: %v", errs.ErrConfig, err))
		}
	}

	if s.Targets.Repetition != models.Any {
		s.Repetitions = List{s.Targets.Repetition}
	}
	if s.Targets.Echo != models.Any {
		s.Echoes = List{s.Targets.Echo}
	}

	s.acquired = len(s.Slices)
	if s.Policy.PadAndShift {
		rows, cols, slices, pad := PadExtents(s.ReadOut, s.PhaseEncode, len(s.Slices))
		s.ReadOut, s.PhaseEncode = rows, cols
		s.Pad = pad
		if slices > len(s.Slices) {
			s.Slices = Seq(slices)
		}
	}
	s.resolved = true
	return nil
}

// Resolved reports whether Resolve has run.
func (s *Shape) Resolved() bool {
	return s.resolved
}

// Dims returns the extents of the main k-space store.
func (s *Shape) Dims() models.Dims {
	return models.Dims{
		ReadOut:     s.ReadOut,
		PhaseEncode: s.PhaseEncode,
		Slices:      len(s.Slices),
		Repetitions: len(s.Repetitions),
		Echoes:      len(s.Echoes),
	}
}

// PhaseCorrectDims returns the extents of the phase-correction store. The
// phase-correct lines always sit in echo slot 1, so at least two echo slots
// are kept.
func (s *Shape) PhaseCorrectDims() models.Dims {
	d := s.Dims()
	d.PhaseEncode = max(s.PhaseCorrect, 1)
	d.Echoes = max(d.Echoes, 2)
	return d
}

// SliceOf returns the slice-or-partition disk index of a record: the
// partition for 3-D acquisitions, the interleave corrected slice for 2-D.
// The interleave is taken over the acquired slice count, which equals
// depth-2*pad whenever the acquired count is even.
func (s *Shape) SliceOf(slice, partition int) int {
	if s.Is3D {
		return partition
	}
	n := s.acquired
	if n == 0 {
		n = len(s.Slices)
	}
	return Interleave(slice, n, 0)
}
