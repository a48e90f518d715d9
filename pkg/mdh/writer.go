package mdh

import (
	"fmt"
	"io"
	"math"
)

// Writer produces a raw stream readable by Reader.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter writes preamble and returns a Writer positioned at the first
// record. A nil preamble writes a bare offset field pointing just past itself.
func NewWriter(w io.Writer, preamble []byte) (*Writer, error) {
	if preamble == nil {
		preamble = le.AppendUint32(nil, 4)
	}
	if len(preamble) < 4 || int(le.Uint32(preamble)) != len(preamble) {
		return nil, fmt.Errorf("preamble offset field does not match its length %d", len(preamble))
	}
	if _, err := w.Write(preamble); err != nil {
		return nil, err
	}
	return &Writer{w: w}, nil
}

// WriteRecord writes h followed by samples. SamplesInScan must match len(samples).
func (w *Writer) WriteRecord(h *Header, samples []complex64) error {
	if int(h.SamplesInScan) != len(samples) {
		return fmt.Errorf("header announces %d samples, got %d", h.SamplesInScan, len(samples))
	}
	w.buf = w.buf[:0]
	w.buf, _ = h.AppendBinary(w.buf)
	for _, s := range samples {
		w.buf = le.AppendUint32(w.buf, math.Float32bits(real(s)))
		w.buf = le.AppendUint32(w.buf, math.Float32bits(imag(s)))
	}
	_, err := w.w.Write(w.buf)
	return err
}

// WriteRaw writes h followed by an already encoded payload.
func (w *Writer) WriteRaw(h *Header, payload []byte) error {
	if h.PayloadSize() != len(payload) {
		return fmt.Errorf("header announces %d payload bytes, got %d", h.PayloadSize(), len(payload))
	}
	w.buf = w.buf[:0]
	w.buf, _ = h.AppendBinary(w.buf)
	w.buf = append(w.buf, payload...)
	_, err := w.w.Write(w.buf)
	return err
}

// WriteEnd writes the terminating ACQEND record.
func (w *Writer) WriteEnd() error {
	var h Header
	h.Set(MaskAcqEnd, true)
	return w.WriteRecord(&h, nil)
}
