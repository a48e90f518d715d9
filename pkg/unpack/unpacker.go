package unpack

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/dimension"
	"mdhrecon/pkg/kspace"
	"mdhrecon/pkg/mdh"
	"mdhrecon/pkg/volume"
)

// Stats counts what happened to the records of one pass.
type Stats struct {
	Records      int // data records read
	Accepted     int // records stored
	Rejected     int // records refused by the mapper
	PhaseCorrect int // phase-correction lines stored
	Dropped      int // records mapped but not storable
}

// Unpacker routes the records of a raw stream into a k-space store and an
// optional phase-correction store.
type Unpacker struct {
	shape        *dimension.Shape
	kspace       *kspace.Store
	phaseCorrect *kspace.Store
	mapper       *Mapper
	log          logging.Logger

	seen  []bool
	stats Stats
}

// New returns an unpacker for a resolved shape. pc may be nil, in which case
// phase-correction lines are discarded.
func New(shape *dimension.Shape, ks, pc *kspace.Store, log logging.Logger) (*Unpacker, error) {
	if !shape.Resolved() {
		return nil, errs.New("Unpacker", "New", "shape not resolved", errs.CodeConfig, errs.ErrConfig)
	}
	if ks == nil {
		return nil, errs.New("Unpacker", "New", "no k-space store", errs.CodeConfig, errs.ErrConfig)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Unpacker{
		shape:        shape,
		kspace:       ks,
		phaseCorrect: pc,
		mapper:       NewMapper(shape, log),
		log:          log,
		seen:         make([]bool, len(shape.Echoes)),
	}, nil
}

// Mapper returns the index mapper in use.
func (u *Unpacker) Mapper() *Mapper {
	return u.mapper
}

// Stats returns the counters of the last pass.
func (u *Unpacker) Stats() Stats {
	return u.stats
}

// UnpackFile opens path and unpacks it.
func (u *Unpacker) UnpackFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errs.New("Unpacker", "UnpackFile", fmt.Sprintf("cannot open %q", path), errs.CodeIO, err)
	}
	defer f.Close()
	return u.Unpack(bufio.NewReaderSize(f, 1<<20))
}

// Unpack reads every record up to ACQEND and returns the number of records
// stored.
func (u *Unpacker) Unpack(r io.Reader) (int, error) {
	tlog := logging.NewTimeLog(u.log)
	u.stats = Stats{}
	clear(u.seen)

	rd, err := mdh.NewReader(r)
	if err != nil {
		return 0, err
	}
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return u.stats.Accepted, err
		}
		u.stats.Records++
		if err := u.record(rec); err != nil {
			return u.stats.Accepted, err
		}
	}

	if u.shape.Targets.Echo == models.Any && slices.Contains(u.seen, false) {
		var missing []int
		for i, ok := range u.seen {
			if !ok {
				missing = append(missing, u.shape.Echoes[i])
			}
		}
		u.log.Warningf("the raw data contains fewer echoes than configured: echoes %v never seen", missing)
	}
	tlog.Infof("%s: read %d records, stored %d (%d phase correct), rejected %d, dropped %d",
		u.kspace.Name(), u.stats.Records, u.stats.Accepted, u.stats.PhaseCorrect,
		u.stats.Rejected, u.stats.Dropped)
	return u.stats.Accepted, nil
}

func (u *Unpacker) record(rec *mdh.Record) error {
	h := &rec.Header
	disk := u.shape.SliceOf(int(h.LC.Slice), int(h.LC.Partition))
	rep, echo, slice, ok := u.mapper.MapToMemory(int(h.ChannelID), int(h.LC.Repetition), int(h.LC.Echo), disk)
	if !ok {
		u.stats.Rejected++
		return nil
	}

	limit := u.shape.ReadOut - u.shape.Pad.Row
	if len(rec.Samples) > limit {
		return errs.New("Unpacker", "Unpack",
			fmt.Sprintf("%d samples do not fit a readout of %d (%s)", len(rec.Samples), limit, h),
			errs.CodeStream, errs.ErrInvalidSamples)
	}

	if h.Reflect() {
		slices.Reverse(rec.Samples)
	}

	c := models.Coord{
		Line:       int(h.LC.Line) + u.shape.Pad.Col,
		Slice:      slice + u.shape.Pad.Slice,
		Repetition: rep,
		Echo:       echo,
	}
	var stored bool
	if h.PhaseCorrect() {
		stored = u.unpackPhaseCorrect(h, rec.Samples, c)
	} else {
		stored = u.unpackKSpace(h, rec.Samples, c)
	}
	if stored {
		u.seen[echo] = true
		u.stats.Accepted++
	} else {
		u.stats.Dropped++
	}
	return nil
}

// readoutIndex returns the store position of sample i.
func (u *Unpacker) readoutIndex(i int) int {
	i += u.shape.Pad.Row
	if u.shape.Policy.PadAndShift {
		return volume.ShiftIndex(u.shape.ReadOut, i)
	}
	return i
}

func (u *Unpacker) store(s *kspace.Store, h *mdh.Header, samples []complex64, c models.Coord) {
	for i, z := range samples {
		s.Set(u.readoutIndex(i), c, z)
	}
	s.SetSideData(c, h.Reflect(), h.TimeStamp)
}

func (u *Unpacker) unpackKSpace(h *mdh.Header, samples []complex64, c models.Coord) bool {
	if u.shape.Policy.PadAndShift {
		c.Line = volume.ShiftIndex(u.shape.PhaseEncode, c.Line)
		c.Slice = volume.ShiftIndex(len(u.shape.Slices), c.Slice)
	}
	if axis, outside := u.kspace.Outside(c); outside {
		u.log.Warningf("dropping line outside the k-space store on the %s axis at %+v (%s)", axis, c, h)
		return false
	}
	u.store(u.kspace, h, samples, c)
	return true
}

// unpackPhaseCorrect stores a phase-correction line at the next free line of
// its (slice, repetition) in echo slot 1.
func (u *Unpacker) unpackPhaseCorrect(h *mdh.Header, samples []complex64, c models.Coord) bool {
	if u.phaseCorrect == nil {
		u.log.Debugf("phase correction disabled, dropping %s", h)
		return false
	}
	c.Echo = 1
	if u.shape.Policy.PadAndShift {
		c.Slice = volume.ShiftIndex(len(u.shape.Slices), c.Slice)
	}
	c.Line = 0
	if axis, outside := u.phaseCorrect.Outside(c); outside {
		u.log.Warningf("dropping phase correction line outside the store on the %s axis at %+v (%s)", axis, c, h)
		return false
	}
	c.Line = u.phaseCorrect.NextLine(c.Slice, c.Repetition, c.Echo)
	if c.Line >= u.phaseCorrect.Dims().PhaseEncode {
		u.log.Warningf("more than %d phase correction lines for slice %d repetition %d, dropping %s",
			u.phaseCorrect.Dims().PhaseEncode, c.Slice, c.Repetition, h)
		return false
	}
	u.store(u.phaseCorrect, h, samples, c)
	u.stats.PhaseCorrect++
	return true
}
