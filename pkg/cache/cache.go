// Package cache stores extracted k-space volumes between runs so that the
// unpack pass can be skipped.
//
// A cache file is a fixed little-endian header followed by the (optionally
// compressed) volume payload:
//
//	magic "MDHV" | version u16 | compression u8 | reserved u8 |
//	rows u32 | cols u32 | slices u32 | raw length u64 | xxhash64 u64 |
//	payload length u64 | payload
package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/pkg/volume"
)

// Ext is the file extension of cache files.
const Ext = ".mdhv"

const (
	version    = 1
	headerSize = 4 + 2 + 1 + 1 + 3*4 + 3*8

	// maxExtent bounds each volume axis read from a header
	maxExtent = 1 << 14
)

var magic = [4]byte{'M', 'D', 'H', 'V'}

// ErrChecksum reports a payload that does not match its stored hash.
var ErrChecksum = errors.New("cache checksum mismatch")

// Key identifies one extracted volume.
type Key struct {
	Channel, Echo, Repetition int
}

// Cache reads and writes volumes below a directory.
type Cache struct {
	dir         string
	runID       string
	compression Compression
	log         logging.Logger
}

// New returns a cache rooted at dir. Files are prefixed with runID.
func New(dir, runID string, c Compression, log logging.Logger) *Cache {
	if log == nil {
		log = logging.Discard()
	}
	return &Cache{dir: dir, runID: runID, compression: c, log: log}
}

// Path returns the file that holds k.
func (c *Cache) Path(k Key) string {
	name := fmt.Sprintf("%s_extracted_channel%d_echo%d_rep%d%s", c.runID, k.Channel, k.Echo, k.Repetition, Ext)
	return filepath.Join(c.dir, name)
}

// Save writes v under k, replacing any existing file.
func (c *Cache) Save(k Key, v *volume.Volume) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errs.New("Cache", "Save", fmt.Sprintf("cannot create %q", c.dir), errs.CodeIO, err)
	}
	path := c.Path(k)
	f, err := os.Create(path)
	if err != nil {
		return errs.New("Cache", "Save", fmt.Sprintf("cannot create %q", path), errs.CodeIO, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	n, err := Encode(bw, v, c.compression)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		return errs.New("Cache", "Save", fmt.Sprintf("writing %q", path), errs.CodeIO, err)
	}
	c.log.Debugf("cached %s as %s (%s, %s)", v, path, c.compression, humanize.Bytes(uint64(n)))
	return nil
}

// Load reads the volume stored under k.
func (c *Cache) Load(k Key) (*volume.Volume, error) {
	path := c.Path(k)
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New("Cache", "Load", fmt.Sprintf("cannot open %q", path), errs.CodeIO, err)
	}
	defer f.Close()
	v, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errs.New("Cache", "Load", fmt.Sprintf("reading %q", path), errs.CodeIO, err)
	}
	c.log.Debugf("loaded %s from %s", v, path)
	return v, nil
}

// Encode writes v to w and returns the number of bytes written.
func Encode(w io.Writer, v *volume.Volume, comp Compression) (int, error) {
	codec, err := comp.Codec()
	if err != nil {
		return 0, err
	}
	raw := make([]byte, 0, 8*len(v.Data))
	for _, z := range v.Data {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(real(z)))
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(imag(z)))
	}
	payload, err := codec.Compress(raw)
	if err != nil {
		return 0, fmt.Errorf("%s compression failed: %w", comp, err)
	}

	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, magic[:]...)
	hdr = binary.LittleEndian.AppendUint16(hdr, version)
	hdr = append(hdr, byte(comp), 0)
	for _, d := range []int{v.Rows, v.Cols, v.Slices} {
		hdr = binary.LittleEndian.AppendUint32(hdr, uint32(d))
	}
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(raw)))
	hdr = binary.LittleEndian.AppendUint64(hdr, xxhash.Sum64(raw))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(payload)))

	if _, err := w.Write(hdr); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return len(hdr), err
	}
	return len(hdr) + len(payload), nil
}

// Decode reads a volume written by Encode.
func Decode(r io.Reader) (*volume.Volume, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("reading cache header: %w", err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) {
		return nil, fmt.Errorf("not a cache file: magic %q", hdr[:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != version {
		return nil, fmt.Errorf("unsupported cache version %d", v)
	}
	comp := Compression(hdr[6])
	codec, err := comp.Codec()
	if err != nil {
		return nil, err
	}
	rows := int(binary.LittleEndian.Uint32(hdr[8:]))
	cols := int(binary.LittleEndian.Uint32(hdr[12:]))
	slices := int(binary.LittleEndian.Uint32(hdr[16:]))
	rawLen := binary.LittleEndian.Uint64(hdr[20:])
	sum := binary.LittleEndian.Uint64(hdr[28:])
	payloadLen := binary.LittleEndian.Uint64(hdr[36:])

	if rows <= 0 || cols <= 0 || slices <= 0 || rows > maxExtent || cols > maxExtent || slices > maxExtent {
		return nil, fmt.Errorf("cache header describes %dx%dx%d", rows, cols, slices)
	}
	n := rows * cols * slices
	if rawLen != uint64(8*n) {
		return nil, fmt.Errorf("cache header describes %dx%dx%d with %d bytes", rows, cols, slices, rawLen)
	}
	// payloadLen is untrusted, so the buffer grows only as bytes arrive
	var buf bytes.Buffer
	if n, err := io.Copy(&buf, io.LimitReader(r, int64(payloadLen))); err != nil {
		return nil, fmt.Errorf("reading cache payload: %w", err)
	} else if uint64(n) != payloadLen {
		return nil, fmt.Errorf("reading cache payload: %w: got %d of %d bytes", io.ErrUnexpectedEOF, n, payloadLen)
	}
	payload := buf.Bytes()
	raw, err := codec.Decompress(payload, int(rawLen))
	if err != nil {
		return nil, err
	}
	if len(raw) != int(rawLen) {
		return nil, fmt.Errorf("%s payload decompressed to %d bytes, want %d", comp, len(raw), rawLen)
	}
	if xxhash.Sum64(raw) != sum {
		return nil, ErrChecksum
	}

	v := volume.New(rows, cols, slices)
	for i := range v.Data {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[8*i+4:]))
		v.Data[i] = complex(re, im)
	}
	return v, nil
}
