package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"

	"mdhrecon/internal/endian"
	"mdhrecon/internal/errs"
	"mdhrecon/pkg/volume"
)

const (
	// MGHHeaderSize is the byte length of the MGH header before the payload.
	MGHHeaderSize = 284

	mghVersion = 1
	mghFloat   = 3
	mghUsed    = 3*4 + 4*3*4
	mghUnused  = 256 - 2 - mghUsed
)

// MGH writes volumes in the MGH format understood by FreeSurfer tools.
type MGH struct {
	env       Env
	vox2ras   *mat.Dense
	params    []float64
	numEchoes int
	echo      int
}

// NewMGH checks the geometry and returns an MGH writer.
//
// Parameters:
//   - env: Byte order and readout crop shared with the Analyze writer
//   - vox2ras: 4x4 voxel to scanner transform
//   - params: [TR, flip, TI, TE_0 .. TE_numEchoes-1]
//   - numEchoes: Number of echo times held in params
//
// Returns:
//   - An MGH writer with echo 0 selected
//   - An error wrapping errs.ErrGeometry when vox2ras or params do not fit
func NewMGH(env Env, vox2ras mat.Matrix, params []float64, numEchoes int) (*MGH, error) {
	if vox2ras == nil {
		return nil, errs.New("MGH", "NewMGH", "no vox2ras matrix", errs.CodeGeometry, errs.ErrGeometry)
	}
	if r, c := vox2ras.Dims(); r != 4 || c != 4 {
		return nil, errs.New("MGH", "NewMGH",
			fmt.Sprintf("vox2ras matrix is %dx%d, not 4x4", r, c), errs.CodeGeometry, errs.ErrGeometry)
	}
	if numEchoes < 1 || len(params) != 3+numEchoes {
		return nil, errs.New("MGH", "NewMGH",
			fmt.Sprintf("%d MRI parameters given, %d echoes need %d", len(params), numEchoes, 3+numEchoes),
			errs.CodeGeometry, errs.ErrGeometry)
	}
	return &MGH{
		env:       env,
		vox2ras:   mat.DenseCopyOf(vox2ras),
		params:    append([]float64(nil), params...),
		numEchoes: numEchoes,
	}, nil
}

// SetEcho selects which echo time goes into the trailer.
func (m *MGH) SetEcho(echo int) error {
	if echo < 0 || echo >= m.numEchoes {
		return errs.New("MGH", "SetEcho",
			fmt.Sprintf("echo %d outside %d configured echo times", echo, m.numEchoes),
			errs.CodeGeometry, errs.ErrGeometry)
	}
	m.echo = echo
	return nil
}

// Echo returns the selected echo.
func (m *MGH) Echo() int {
	return m.echo
}

// Trailer returns [TR/1000, flip in radians, TI/1000, TE/1000] for the
// selected echo.
func (m *MGH) Trailer() [4]float32 {
	return [4]float32{
		float32(m.params[0] / 1000),
		float32(m.params[1] * math.Pi / 180),
		float32(m.params[2] / 1000),
		float32(m.params[3+m.echo] / 1000),
	}
}

// Geometry holds the orientation fields of an MGH header.
type Geometry struct {
	Spacing [3]float32
	DirCos  [9]float32 // column-major
	Centre  [3]float32
}

// Geometry derives the orientation fields of an MGH header from vox2ras.
//
// Parameters:
//   - width, height, depth: Extents of the written volume
//
// Returns:
//   - Spacing as the column norms of the 3x3 block, the normalised columns
//     as direction cosines, and the scanner position of the centre voxel
func (m *MGH) Geometry(width, height, depth int) Geometry {
	var g Geometry
	block := m.vox2ras.Slice(0, 3, 0, 3)
	for j := 0; j < 3; j++ {
		col := mat.Col(nil, j, block)
		norm := mat.Norm(mat.NewVecDense(3, col), 2)
		g.Spacing[j] = float32(norm)
		for i, x := range col {
			if norm != 0 {
				x /= norm
			}
			g.DirCos[3*j+i] = float32(x)
		}
	}

	crs := mat.NewVecDense(4, []float64{float64(width / 2), float64(height / 2), float64(depth / 2), 1})
	var xyz mat.VecDense
	xyz.MulVec(m.vox2ras, crs)
	for i := range g.Centre {
		g.Centre[i] = float32(xyz.AtVec(i))
	}
	return g
}

// Encode writes component c of v to w.
func (m *MGH) Encode(w io.Writer, v *volume.Volume, c Component) error {
	e := m.env.Order.Engine()
	width, height, depth := v.Cols, m.env.ReadOutLines(v.Rows), v.Slices
	g := m.Geometry(width, height, depth)

	hdr := make([]byte, 0, MGHHeaderSize)
	for _, x := range []int32{mghVersion, int32(width), int32(height), int32(depth), 1, mghFloat, 1} {
		hdr = e.AppendUint32(hdr, uint32(x))
	}
	hdr = e.AppendUint16(hdr, 1)
	hdr = appendFloats(e, hdr, g.Spacing[:]...)
	hdr = appendFloats(e, hdr, g.DirCos[:]...)
	hdr = appendFloats(e, hdr, g.Centre[:]...)
	hdr = append(hdr, make([]byte, mghUnused)...)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	start, end := m.env.ReadOutRange(v.Rows)
	buf := make([]byte, 0, 4*v.Cols)
	for k := v.Slices - 1; k >= 0; k-- {
		for i := start; i < end; i++ {
			buf = buf[:0]
			for j := v.Cols - 1; j >= 0; j-- {
				buf = e.AppendUint32(buf, math.Float32bits(c.Value(v.At(i, j, k))))
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}

	t := m.Trailer()
	_, err := w.Write(appendFloats(e, nil, t[:]...))
	return err
}

// Save writes component c of v to path. A ".mgz" path is gzip compressed.
func (m *MGH) Save(path string, v *volume.Volume, c Component) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New("MGH", "Save", fmt.Sprintf("cannot create %q", path), errs.CodeIO, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bw
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".mgz") {
		zw = gzip.NewWriter(bw)
		w = zw
	}
	if err := m.Encode(w, v, c); err != nil {
		return errs.New("MGH", "Save", fmt.Sprintf("writing %q", path), errs.CodeIO, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return errs.New("MGH", "Save", fmt.Sprintf("compressing %q", path), errs.CodeIO, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return errs.New("MGH", "Save", fmt.Sprintf("writing %q", path), errs.CodeIO, err)
	}
	return f.Close()
}

func appendFloats(e endian.Engine, b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = e.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// MGHImage is a decoded MGH stream.
type MGHImage struct {
	Order                endian.Order
	Width, Height, Depth int
	Type                 int32
	Geometry             Geometry
	Data                 []float32 // in file order
	Trailer              [4]float32
}

// At returns the voxel at column j, written readout line i and slice k,
// undoing the reversed slice and column order of the payload.
func (im *MGHImage) At(i, j, k int) float32 {
	kk := im.Depth - 1 - k
	jj := im.Width - 1 - j
	return im.Data[jj+im.Width*(i+im.Height*kk)]
}

// DecodeMGH parses an uncompressed MGH stream. The byte order is detected
// from the version field.
func DecodeMGH(r io.Reader) (*MGHImage, error) {
	hdr := make([]byte, MGHHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("reading MGH header: %w", err)
	}
	im := &MGHImage{Order: endian.Little}
	if binary.LittleEndian.Uint32(hdr) != mghVersion {
		if binary.BigEndian.Uint32(hdr) != mghVersion {
			return nil, fmt.Errorf("not an MGH stream: version field %x", hdr[:4])
		}
		im.Order = endian.Big
	}
	e := im.Order.Engine()
	field := func(n int) int32 { return int32(e.Uint32(hdr[4*n:])) }
	im.Width, im.Height, im.Depth = int(field(1)), int(field(2)), int(field(3))
	im.Type = field(5)

	floats := func(b []byte, dst []float32) {
		for i := range dst {
			dst[i] = math.Float32frombits(e.Uint32(b[4*i:]))
		}
	}
	off := 7*4 + 2
	floats(hdr[off:], im.Geometry.Spacing[:])
	floats(hdr[off+12:], im.Geometry.DirCos[:])
	floats(hdr[off+48:], im.Geometry.Centre[:])
	if !bytes.Equal(hdr[off+mghUsed:], make([]byte, mghUnused)) {
		return nil, fmt.Errorf("MGH header padding is not zero")
	}

	n := im.Width * im.Height * im.Depth
	body := make([]byte, 4*n+16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading MGH payload: %w", err)
	}
	im.Data = make([]float32, n)
	floats(body, im.Data)
	floats(body[4*n:], im.Trailer[:])
	return im, nil
}
