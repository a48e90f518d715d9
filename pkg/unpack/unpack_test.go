package unpack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/dimension"
	"mdhrecon/pkg/kspace"
	"mdhrecon/pkg/mdh"
	"mdhrecon/pkg/volume"
)

type rawRecord struct {
	line, slice, partition, echo, rep, channel int
	mask                                       uint32
	timeStamp                                  uint32
	samples                                    []complex64
}

func stream(t *testing.T, recs []rawRecord, end bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := mdh.NewWriter(&buf, nil)
	require.NoError(t, err)
	for _, r := range recs {
		var h mdh.Header
		h.SamplesInScan = uint16(len(r.samples))
		h.LC.Line = uint16(r.line)
		h.LC.Slice = uint16(r.slice)
		h.LC.Partition = uint16(r.partition)
		h.LC.Echo = uint16(r.echo)
		h.LC.Repetition = uint16(r.rep)
		h.ChannelID = uint32(r.channel)
		h.EvalInfoMask[0] = r.mask
		h.TimeStamp = r.timeStamp
		require.NoError(t, w.WriteRecord(&h, r.samples))
	}
	if end {
		require.NoError(t, w.WriteEnd())
	}
	return &buf
}

func payload(seed float32, n int) []complex64 {
	p := make([]complex64, n)
	for i := range p {
		p[i] = complex(seed+float32(i), -seed)
	}
	return p
}

type fixture struct {
	shape *dimension.Shape
	ks    *kspace.Store
	pc    *kspace.Store
	u     *Unpacker
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, shape *dimension.Shape, withPC bool) *fixture {
	t.Helper()
	require.NoError(t, shape.Resolve())
	logs := &bytes.Buffer{}
	log := logging.New(logs, logging.DebugMode)

	ks, err := kspace.New("kspace", shape.Dims(), shape.Policy.AdditionalData, log)
	require.NoError(t, err)
	var pc *kspace.Store
	if withPC {
		pc, err = kspace.New("phase-correct", shape.PhaseCorrectDims(), shape.Policy.AdditionalData, log)
		require.NoError(t, err)
	}
	u, err := New(shape, ks, pc, log)
	require.NoError(t, err)
	return &fixture{shape: shape, ks: ks, pc: pc, u: u, logs: logs}
}

func twoSliceShape() *dimension.Shape {
	return &dimension.Shape{
		ReadOut:     4,
		PhaseEncode: 1,
		Slices:      dimension.Seq(2),
		Repetitions: dimension.Seq(1),
		Echoes:      dimension.Seq(2),
		Targets:     models.AllTargets(),
	}
}

func TestEndToEndTwoSlicesTwoEchoes(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, twoSliceShape(), false)

	recs := []rawRecord{
		{slice: 0, echo: 0, samples: payload(10, 4)},
		{slice: 0, echo: 1, samples: payload(20, 4)},
		{slice: 1, echo: 0, samples: payload(30, 4)},
		{slice: 1, echo: 1, samples: payload(40, 4)},
	}
	n, err := f.u.Unpack(stream(t, recs, true))
	require.NoError(err)
	require.Equal(4, n)
	require.Equal(Stats{Records: 4, Accepted: 4}, f.u.Stats())

	v, err := f.ks.Extract(0, 1)
	require.NoError(err)
	// raw slice 0 of a 2-slice interleaved stack is stored at slice 1
	for i, z := range recs[1].samples {
		require.Equal(z, v.At(i, 0, 1))
	}
	for i, z := range recs[3].samples {
		require.Equal(z, v.At(i, 0, 0))
	}
	require.NotContains(f.logs.String(), "WARNING")
}

func TestMapToMemory(t *testing.T) {
	shape := &dimension.Shape{
		ReadOut: 4, PhaseEncode: 4,
		Slices:      dimension.List{0, 2, 4},
		Repetitions: dimension.List{3, 1},
		Echoes:      dimension.List{5, 0},
		Targets:     models.AllTargets(),
	}
	require.NoError(t, shape.Resolve())
	var logs bytes.Buffer
	m := NewMapper(shape, logging.New(&logs, logging.DebugMode))

	rep, echo, slice, ok := m.MapToMemory(7, 1, 5, 4)
	require.True(t, ok)
	require.Equal(t, []int{1, 0, 2}, []int{rep, echo, slice})

	_, _, _, ok = m.MapToMemory(0, 2, 5, 4)
	require.False(t, ok)
	require.Contains(t, logs.String(), "repetition 2 not in repetition list")

	_, _, _, ok = m.MapToMemory(0, 1, 1, 4)
	require.False(t, ok)
	require.Contains(t, logs.String(), "echo 1 not in echo list")

	_, _, _, ok = m.MapToMemory(0, 1, 5, 3)
	require.False(t, ok)
	require.Contains(t, logs.String(), "slice 3 not in slice list")
}

func TestMapToMemoryTargets(t *testing.T) {
	shape := twoSliceShape()
	shape.Targets = models.Targets{Channel: 2, Echo: 1, Repetition: 0}
	require.NoError(t, shape.Resolve())
	var logs bytes.Buffer
	m := NewMapper(shape, logging.New(&logs, logging.DebugMode))

	_, _, _, ok := m.MapToMemory(3, 0, 1, 0)
	require.False(t, ok)

	rep, echo, slice, ok := m.MapToMemory(2, 0, 1, 1)
	require.True(t, ok)
	require.Equal(t, []int{0, 0, 1}, []int{rep, echo, slice})

	_, _, _, ok = m.MapToMemory(2, 0, 0, 1)
	require.False(t, ok)
	require.Empty(t, logs.String(), "target mismatches are silent")
}

func TestReflectAndSideData(t *testing.T) {
	require := require.New(t)
	shape := twoSliceShape()
	shape.Is3D = true
	shape.Policy.AdditionalData = true
	f := newFixture(t, shape, false)

	samples := payload(1, 4)
	want := []complex64{samples[3], samples[2], samples[1], samples[0]}
	n, err := f.u.Unpack(stream(t, []rawRecord{
		{partition: 1, echo: 0, mask: mdh.MaskReflect, timeStamp: 77, samples: samples},
	}, true))
	require.NoError(err)
	require.Equal(1, n)

	c := models.Coord{Slice: 1}
	require.Equal(want, f.ks.Line(c))
	reflect, ts := f.ks.SideData(c)
	require.True(reflect)
	require.Equal(uint32(77), ts)
}

func TestChannelTargetAndMisses(t *testing.T) {
	require := require.New(t)
	shape := twoSliceShape()
	shape.Targets.Channel = 1
	f := newFixture(t, shape, false)

	n, err := f.u.Unpack(stream(t, []rawRecord{
		{channel: 0, samples: payload(1, 4)},
		{channel: 1, echo: 4, samples: payload(2, 4)},
		{channel: 1, samples: payload(3, 4)},
	}, true))
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(Stats{Records: 3, Accepted: 1, Rejected: 2}, f.u.Stats())
	require.Contains(f.logs.String(), "echo 4 not in echo list")
	require.Contains(f.logs.String(), "fewer echoes than configured: echoes [1] never seen")
}

func TestNoRecordsForTarget(t *testing.T) {
	shape := twoSliceShape()
	shape.Targets = models.Targets{Channel: models.Any, Echo: 1, Repetition: 0}
	f := newFixture(t, shape, false)

	n, err := f.u.Unpack(stream(t, []rawRecord{{echo: 0, samples: payload(1, 4)}}, true))
	require.NoError(t, err)
	require.Zero(t, n)
	require.NotContains(t, f.logs.String(), "fewer echoes")
}

func TestPhaseCorrectLines(t *testing.T) {
	require := require.New(t)
	shape := twoSliceShape()
	shape.Is3D = true
	shape.Echoes = dimension.Seq(1)
	shape.PhaseCorrect = 2
	f := newFixture(t, shape, true)

	pcRec := func(seed float32) rawRecord {
		return rawRecord{partition: 1, echo: 0, line: 9, mask: mdh.MaskPhaseCor, samples: payload(seed, 4)}
	}
	n, err := f.u.Unpack(stream(t, []rawRecord{pcRec(1), pcRec(2), pcRec(3)}, true))
	require.NoError(err)
	require.Equal(2, n)
	require.Equal(2, f.u.Stats().PhaseCorrect)
	require.Equal(1, f.u.Stats().Dropped)
	require.Contains(f.logs.String(), "more than 2 phase correction lines")

	require.Equal(2, f.pc.Dims().Echoes)
	require.Equal(payload(1, 4), f.pc.Line(models.Coord{Line: 0, Slice: 1, Echo: 1}))
	require.Equal(payload(2, 4), f.pc.Line(models.Coord{Line: 1, Slice: 1, Echo: 1}))

	// nothing reached the main store
	v, err := f.ks.Extract(0, 0)
	require.NoError(err)
	for _, z := range v.Data {
		require.Zero(z)
	}
}

func TestPhaseCorrectDisabled(t *testing.T) {
	shape := twoSliceShape()
	f := newFixture(t, shape, false)
	n, err := f.u.Unpack(stream(t, []rawRecord{
		{mask: mdh.MaskPhaseCor, samples: payload(1, 4)},
	}, true))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Contains(t, f.logs.String(), "phase correction disabled")
}

func TestLineOutsideStoreNamesAxis(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, twoSliceShape(), false)

	n, err := f.u.Unpack(stream(t, []rawRecord{
		{line: 0, samples: payload(1, 4)},
		{line: 3, samples: payload(2, 4)},
	}, true))
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(Stats{Records: 2, Accepted: 1, Dropped: 1}, f.u.Stats())
	require.Contains(f.logs.String(), "dropping line outside the k-space store on the phase-encode axis")
}

func TestEagerPadAndShift(t *testing.T) {
	require := require.New(t)
	shape := &dimension.Shape{
		ReadOut:     6,
		PhaseEncode: 3,
		Slices:      dimension.Seq(1),
		Repetitions: dimension.Seq(1),
		Echoes:      dimension.Seq(1),
		Is3D:        true,
		Targets:     models.AllTargets(),
	}
	shape.Policy.PadAndShift = true
	f := newFixture(t, shape, false)
	require.Equal(models.ZeroPad{Row: 1, Col: 0, Slice: 0}, shape.Pad)

	var recs []rawRecord
	for line := 0; line < 3; line++ {
		recs = append(recs, rawRecord{line: line, samples: payload(float32(10*line), 6)})
	}
	n, err := f.u.Unpack(stream(t, recs, true))
	require.NoError(err)
	require.Equal(3, n)

	// the stored volume is the ifft-shift of the centred, zero padded volume
	lazy := volume.New(6, 3, 1)
	for line, r := range recs {
		for i, z := range r.samples {
			lazy.Set(i, line, 0, z)
		}
	}
	padded, _ := lazy.ZeroPad()
	want := padded.Shift(volume.IFFTShift)

	got, err := f.ks.Extract(0, 0)
	require.NoError(err)
	require.True(want.Equal(got))
}

func TestEagerMatchesLazyWithInterleavedSlicePadding(t *testing.T) {
	require := require.New(t)
	newShape := func(eager bool) *dimension.Shape {
		s := &dimension.Shape{
			ReadOut:     6,
			PhaseEncode: 5,
			Slices:      dimension.Seq(6),
			Repetitions: dimension.Seq(1),
			Echoes:      dimension.Seq(1),
			Targets:     models.AllTargets(),
		}
		s.Policy.PadAndShift = eager
		return s
	}

	var recs []rawRecord
	for slice := 0; slice < 6; slice++ {
		for line := 0; line < 5; line++ {
			recs = append(recs, rawRecord{line: line, slice: slice, samples: payload(float32(100*slice+10*line), 6)})
		}
	}

	eager := newFixture(t, newShape(true), false)
	require.Equal(models.ZeroPad{Row: 1, Col: 1, Slice: 1}, eager.shape.Pad)
	n, err := eager.u.Unpack(stream(t, recs, true))
	require.NoError(err)
	require.Equal(30, n)

	lazy := newFixture(t, newShape(false), false)
	n, err = lazy.u.Unpack(stream(t, recs, true))
	require.NoError(err)
	require.Equal(30, n)

	_, err = lazy.ks.Extract(0, 0)
	require.NoError(err)
	off, err := lazy.ks.ZeroPad()
	require.NoError(err)
	require.Equal(eager.shape.Pad, off)
	require.NoError(lazy.ks.Shift(volume.IFFTShift, false))
	want, err := lazy.ks.Current()
	require.NoError(err)

	got, err := eager.ks.Extract(0, 0)
	require.NoError(err)
	require.Equal([]int{8, 8, 8}, []int{got.Rows, got.Cols, got.Slices})
	require.True(want.Equal(got))
	require.NotContains(eager.logs.String(), "WARNING")
}

func TestTooManySamplesIsFatal(t *testing.T) {
	f := newFixture(t, twoSliceShape(), false)
	_, err := f.u.Unpack(stream(t, []rawRecord{{samples: payload(1, 5)}}, true))
	require.ErrorIs(t, err, errs.ErrInvalidSamples)
}

func TestUnexpectedEndIsFatal(t *testing.T) {
	f := newFixture(t, twoSliceShape(), false)
	n, err := f.u.Unpack(stream(t, []rawRecord{{samples: payload(1, 4)}}, false))
	require.ErrorIs(t, err, errs.ErrUnexpectedEnd)
	require.Equal(t, 1, n)
}

func TestUnpackFileMissing(t *testing.T) {
	f := newFixture(t, twoSliceShape(), false)
	_, err := f.u.UnpackFile(t.TempDir() + "/absent.dat")
	require.Error(t, err)
	require.Equal(t, errs.CodeIO, errs.Code(err))
}

func TestNewRequiresResolvedShape(t *testing.T) {
	_, err := New(twoSliceShape(), nil, nil, nil)
	require.ErrorIs(t, err, errs.ErrConfig)
}
