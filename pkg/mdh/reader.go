package mdh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"mdhrecon/internal/errs"
)

// Record is one decoded header with its complex payload. Samples is only
// valid until the next call to Next.
type Record struct {
	Header  Header
	Samples []complex64
}

// Reader iterates the records of a raw stream, reusing one payload buffer.
type Reader struct {
	r        io.Reader
	preamble []byte
	hdr      [HeaderSize]byte
	raw      []byte
	rec      Record
	count    int
	done     bool
}

// NewReader reads the leading offset field and skips to the first record.
// The skipped bytes are kept and available through Preamble.
func NewReader(r io.Reader) (*Reader, error) {
	var off [4]byte
	if _, err := io.ReadFull(r, off[:]); err != nil {
		return nil, errs.New("Reader", "NewReader", "reading first header offset", errs.CodeStream,
			fmt.Errorf("%w: %w", errs.ErrUnexpectedEnd, err))
	}
	start := int32(le.Uint32(off[:]))
	if start < 4 {
		return nil, errs.New("Reader", "NewReader", fmt.Sprintf("invalid first header offset %d", start),
			errs.CodeStream, nil)
	}
	// the offset is untrusted, so the preamble grows only as bytes arrive
	var preamble bytes.Buffer
	preamble.Write(off[:])
	if _, err := io.CopyN(&preamble, r, int64(start)-4); err != nil {
		return nil, errs.New("Reader", "NewReader", fmt.Sprintf("seeking to offset %d", start), errs.CodeStream,
			fmt.Errorf("%w: %w", errs.ErrUnexpectedEnd, err))
	}
	return &Reader{r: r, preamble: preamble.Bytes()}, nil
}

// Preamble returns the bytes preceding the first record, offset field included.
func (r *Reader) Preamble() []byte {
	return r.preamble
}

// Count returns the number of data records returned so far.
func (r *Reader) Count() int {
	return r.count
}

// Next returns the next data record. It returns io.EOF once the ACQEND record
// is reached. A stream that ends before ACQEND yields errs.ErrUnexpectedEnd and
// a record without samples yields errs.ErrInvalidSamples.
func (r *Reader) Next() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return nil, errs.New("Reader", "Next", fmt.Sprintf("reading header of record %d", r.count),
			errs.CodeStream, fmt.Errorf("%w: %w", errs.ErrUnexpectedEnd, err))
	}
	h := &r.rec.Header
	if err := h.UnmarshalBinary(r.hdr[:]); err != nil {
		return nil, errs.New("Reader", "Next", "decoding header", errs.CodeStream, err)
	}
	if h.AcqEnd() {
		r.done = true
		return nil, io.EOF
	}
	if h.SamplesInScan == 0 {
		return nil, errs.New("Reader", "Next", fmt.Sprintf("record %d (%s)", r.count, h),
			errs.CodeStream, errs.ErrInvalidSamples)
	}
	if err := r.readPayload(h); err != nil {
		return nil, err
	}

	n := int(h.SamplesInScan)
	if cap(r.rec.Samples) < n {
		r.rec.Samples = make([]complex64, n)
	}
	r.rec.Samples = r.rec.Samples[:n]
	for i := range r.rec.Samples {
		re := math.Float32frombits(le.Uint32(r.raw[8*i:]))
		im := math.Float32frombits(le.Uint32(r.raw[8*i+4:]))
		r.rec.Samples[i] = complex(re, im)
	}
	r.count++
	return &r.rec, nil
}

// ReadRaw returns the next header and its undecoded payload without
// interpreting the evaluation mask. It returns io.EOF at a clean end of input.
// The payload slice is reused by the following call.
func (r *Reader) ReadRaw() (*Header, []byte, error) {
	n, err := io.ReadFull(r.r, r.hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, nil, io.EOF
		}
		return nil, nil, errs.New("Reader", "ReadRaw", "truncated header", errs.CodeStream,
			fmt.Errorf("%w: %w", errs.ErrUnexpectedEnd, err))
	}
	h := &r.rec.Header
	if err := h.UnmarshalBinary(r.hdr[:]); err != nil {
		return nil, nil, errs.New("Reader", "ReadRaw", "decoding header", errs.CodeStream, err)
	}
	if err := r.readPayload(h); err != nil {
		return nil, nil, err
	}
	return h, r.raw, nil
}

func (r *Reader) readPayload(h *Header) error {
	size := h.PayloadSize()
	if cap(r.raw) < size {
		r.raw = make([]byte, size)
	}
	r.raw = r.raw[:size]
	if _, err := io.ReadFull(r.r, r.raw); err != nil {
		return errs.New("Reader", "readPayload", fmt.Sprintf("payload of %s", h),
			errs.CodeStream, fmt.Errorf("%w: %w", errs.ErrUnexpectedEnd, err))
	}
	return nil
}
