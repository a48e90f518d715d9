package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/user"
	"slices"
	"strings"
	"time"

	"mdhrecon/internal/endian"
	"mdhrecon/internal/errs"
	"mdhrecon/pkg/volume"
)

const (
	// AnalyzeHeaderSize is the size of an Analyze 7.5 .hdr file.
	AnalyzeHeaderSize = 348

	// DefaultIntensityScale maps raw magnitudes into the int16 range.
	DefaultIntensityScale = 1e12

	analyzeExtents  = 16384
	analyzeDataType = 4 // signed short
	analyzeBitPix   = 16
	ctimeLayout     = "Mon Jan _2 15:04:05 2006"
)

// AnalyzeHeader mirrors the 348-byte dsr structure.
type AnalyzeHeader struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	HKeyUn0      byte

	Dim        [8]int16
	Unused     [7]int16
	Datatype   int16
	Bitpix     int16
	DimUn0     int16
	Pixdim     [8]float32
	Funused    [6]float32
	Compressed float32
	Verified   float32
	Glmax      int32
	Glmin      int32

	Descrip    [80]byte
	AuxFile    [24]byte
	Orient     int8
	Originator [10]byte
	Generated  [10]byte
	Scannum    [10]byte
	PatientID  [10]byte
	ExpDate    [10]byte
	ExpTime    [10]byte
	HistUn0    [3]byte
	Views      int32
	VolsAdded  int32
	StartField int32
	FieldSkip  int32
	Omax, Omin int32
	Smax, Smin int32
}

type hdrField struct {
	off int
	ptr any
}

// fields lists every header field with its byte offset.
func (h *AnalyzeHeader) fields() []hdrField {
	return []hdrField{
		{0, &h.SizeofHdr},
		{4, h.DataType[:]},
		{14, h.DBName[:]},
		{32, &h.Extents},
		{36, &h.SessionError},
		{38, &h.Regular},
		{39, &h.HKeyUn0},

		{40, h.Dim[:]},
		{56, h.Unused[:]},
		{70, &h.Datatype},
		{72, &h.Bitpix},
		{74, &h.DimUn0},
		{76, h.Pixdim[:]},
		{108, h.Funused[:]},
		{132, &h.Compressed},
		{136, &h.Verified},
		{140, &h.Glmax},
		{144, &h.Glmin},

		{148, h.Descrip[:]},
		{228, h.AuxFile[:]},
		{252, &h.Orient},
		{253, h.Originator[:]},
		{263, h.Generated[:]},
		{273, h.Scannum[:]},
		{283, h.PatientID[:]},
		{293, h.ExpDate[:]},
		{303, h.ExpTime[:]},
		{313, h.HistUn0[:]},
		{316, &h.Views},
		{320, &h.VolsAdded},
		{324, &h.StartField},
		{328, &h.FieldSkip},
		{332, &h.Omax},
		{336, &h.Omin},
		{340, &h.Smax},
		{344, &h.Smin},
	}
}

// MarshalOrder encodes h in byte order o.
func (h *AnalyzeHeader) MarshalOrder(o endian.Order) []byte {
	e := o.Engine()
	b := make([]byte, AnalyzeHeaderSize)
	for _, f := range h.fields() {
		p := b[f.off:]
		switch v := f.ptr.(type) {
		case *int32:
			e.PutUint32(p, uint32(*v))
		case *int16:
			e.PutUint16(p, uint16(*v))
		case *float32:
			e.PutUint32(p, math.Float32bits(*v))
		case *byte:
			p[0] = *v
		case *int8:
			p[0] = byte(*v)
		case []int16:
			for i, x := range v {
				e.PutUint16(p[2*i:], uint16(x))
			}
		case []float32:
			for i, x := range v {
				e.PutUint32(p[4*i:], math.Float32bits(x))
			}
		case []byte:
			copy(p, v)
		}
	}
	return b
}

// UnmarshalOrder decodes b in byte order o.
func (h *AnalyzeHeader) UnmarshalOrder(b []byte, o endian.Order) error {
	if len(b) < AnalyzeHeaderSize {
		return fmt.Errorf("analyze header needs %d bytes, got %d", AnalyzeHeaderSize, len(b))
	}
	e := o.Engine()
	for _, f := range h.fields() {
		p := b[f.off:]
		switch v := f.ptr.(type) {
		case *int32:
			*v = int32(e.Uint32(p))
		case *int16:
			*v = int16(e.Uint16(p))
		case *float32:
			*v = math.Float32frombits(e.Uint32(p))
		case *byte:
			*v = p[0]
		case *int8:
			*v = int8(p[0])
		case []int16:
			for i := range v {
				v[i] = int16(e.Uint16(p[2*i:]))
			}
		case []float32:
			for i := range v {
				v[i] = math.Float32frombits(e.Uint32(p[4*i:]))
			}
		case []byte:
			copy(v, p)
		}
	}
	return nil
}

// DecodeAnalyzeHeader reads a .hdr stream, detecting the byte order from
// sizeof_hdr.
func DecodeAnalyzeHeader(r io.Reader) (*AnalyzeHeader, endian.Order, error) {
	b := make([]byte, AnalyzeHeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, endian.Little, fmt.Errorf("reading analyze header: %w", err)
	}
	o := endian.Little
	if binary.LittleEndian.Uint32(b) != AnalyzeHeaderSize {
		if binary.BigEndian.Uint32(b) != AnalyzeHeaderSize {
			return nil, o, fmt.Errorf("not an analyze header: sizeof_hdr %x", b[:4])
		}
		o = endian.Big
	}
	h := &AnalyzeHeader{}
	return h, o, h.UnmarshalOrder(b, o)
}

// Text returns a NUL terminated header string field.
func Text(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ImageStats summarises an encoded Analyze image.
type ImageStats struct {
	Min, Max int32
	Overflow bool // some magnitude exceeded the int16 range before scaling
}

// Analyze writes magnitude volumes as Analyze 7.5 .img/.hdr pairs.
type Analyze struct {
	env       Env
	VoxelDims [3]float32
	Orient    int8
	Scale     float64
	Flip      bool

	// Now and Originator fill the header history fields.
	Now        func() time.Time
	Originator string
}

// NewAnalyze returns an Analyze writer. A zero scale selects
// DefaultIntensityScale.
func NewAnalyze(env Env, voxelDims []float64, orient int, scale float64, flip bool) (*Analyze, error) {
	if len(voxelDims) != 3 {
		return nil, errs.New("Analyze", "NewAnalyze",
			fmt.Sprintf("%d voxel dimensions given, need 3", len(voxelDims)), errs.CodeGeometry, errs.ErrGeometry)
	}
	if scale == 0 {
		scale = DefaultIntensityScale
	}
	a := &Analyze{
		env:        env,
		Orient:     int8(orient),
		Scale:      scale,
		Flip:       flip,
		Now:        time.Now,
		Originator: currentUser(),
	}
	for i, d := range voxelDims {
		a.VoxelDims[i] = float32(d)
	}
	return a, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// normalise scales a magnitude into int16, rounding half up and clamping.
func (a *Analyze) normalise(q float64) int16 {
	x := a.Scale*q + 0.5
	switch {
	case math.IsNaN(x):
		return 0
	case x >= math.MaxInt16:
		return math.MaxInt16
	case x <= math.MinInt16:
		return math.MinInt16
	}
	return int16(x)
}

// EncodeImage writes the scaled magnitudes of v: slices ascending, readout
// ascending (or reversed when flipped) and columns ascending.
func (a *Analyze) EncodeImage(w io.Writer, v *volume.Volume) (ImageStats, error) {
	e := a.env.Order.Engine()
	stats := ImageStats{Min: math.MaxInt16}

	start, end := a.env.ReadOutRange(v.Rows)
	lines := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		lines = append(lines, i)
	}
	if a.Flip {
		slices.Reverse(lines)
	}

	buf := make([]byte, 0, 2*v.Cols)
	for k := 0; k < v.Slices; k++ {
		for _, i := range lines {
			buf = buf[:0]
			for j := 0; j < v.Cols; j++ {
				z := v.At(i, j, k)
				q := math.Hypot(float64(real(z)), float64(imag(z)))
				if q > math.MaxInt16 {
					stats.Overflow = true
				}
				n := a.normalise(q)
				stats.Min = min(stats.Min, int32(n))
				stats.Max = max(stats.Max, int32(n))
				buf = e.AppendUint16(buf, uint16(n))
			}
			if _, err := w.Write(buf); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// Header builds the .hdr record for v.
func (a *Analyze) Header(v *volume.Volume, stats ImageStats) *AnalyzeHeader {
	h := &AnalyzeHeader{
		SizeofHdr: AnalyzeHeaderSize,
		Extents:   analyzeExtents,
		Regular:   'r',
		Datatype:  analyzeDataType,
		Bitpix:    analyzeBitPix,
		Orient:    a.Orient,
		Glmin:     stats.Min,
		Glmax:     stats.Max,
	}
	h.Dim[0] = 4
	h.Dim[1] = int16(v.Cols)
	h.Dim[2] = int16(a.env.ReadOutLines(v.Rows))
	h.Dim[3] = int16(v.Slices)
	h.Dim[4] = 1
	copy(h.Pixdim[1:4], a.VoxelDims[:])

	stamp := a.Now().Format(ctimeLayout)
	copy(h.ExpDate[:], strings.ReplaceAll(stamp[:10], " ", ""))
	copy(h.ExpTime[:9], stamp[11:20])
	copy(h.Generated[:9], stamp[20:])
	copy(h.Originator[:9], a.Originator)
	return h
}

// Save writes base+".img" and base+".hdr". An overflow is reported in the
// returned stats and is not an error.
func (a *Analyze) Save(base string, v *volume.Volume) (ImageStats, error) {
	f, err := os.Create(base + ".img")
	if err != nil {
		return ImageStats{}, errs.New("Analyze", "Save", fmt.Sprintf("cannot create %q", base+".img"), errs.CodeIO, err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)
	stats, err := a.EncodeImage(bw, v)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		return stats, errs.New("Analyze", "Save", fmt.Sprintf("writing %q", base+".img"), errs.CodeIO, err)
	}

	hdr := a.Header(v, stats).MarshalOrder(a.env.Order)
	if err := os.WriteFile(base+".hdr", hdr, 0o644); err != nil {
		return stats, errs.New("Analyze", "Save", fmt.Sprintf("writing %q", base+".hdr"), errs.CodeIO, err)
	}
	return stats, nil
}
