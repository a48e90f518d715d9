// Package mdh decodes and encodes the measurement data header (MDH) records
// of a raw scanner acquisition stream.
//
// A stream starts with an int32 byte offset to the first record. Every record
// is a fixed 128-byte header followed by SamplesInScan complex samples stored
// as interleaved little-endian float32 (re, im) pairs. The stream ends with a
// record whose evaluation mask carries the ACQEND bit.
package mdh

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HeaderSize is the on-disk size of a record header in bytes.
const HeaderSize = 128

// Evaluation mask bits (word 0).
const (
	MaskAcqEnd     uint32 = 1 << 0
	MaskRTFeedback uint32 = 1 << 1
	MaskHPFeedback uint32 = 1 << 2
	MaskOnline     uint32 = 1 << 3
	MaskOffline    uint32 = 1 << 4
	MaskPhaseCor   uint32 = 1 << 21
	MaskReflect    uint32 = 1 << 24
)

// LoopCounter is the 14-field loop counter block.
type LoopCounter struct {
	Line        uint16
	Acquisition uint16
	Slice       uint16
	Partition   uint16
	Echo        uint16
	Phase       uint16
	Repetition  uint16
	Set         uint16
	Seg         uint16
	Ida         uint16
	Idb         uint16
	Idc         uint16
	Idd         uint16
	Ide         uint16
}

// CutOff holds the pre and post cut-off sample counts.
type CutOff struct {
	Pre  uint16
	Post uint16
}

// SlicePos is the slice position vector.
type SlicePos struct {
	Sag float32
	Cor float32
	Tra float32
}

// Header is a decoded record header.
type Header struct {
	DMALength          uint32
	MeasUID            int32
	ScanCounter        uint32
	TimeStamp          uint32
	PMUTimeStamp       uint32
	EvalInfoMask       [2]uint32
	SamplesInScan      uint16
	UsedChannels       uint16
	LC                 LoopCounter
	CutOff             CutOff
	KSpaceCentreColumn uint16
	Dummy              uint16
	ReadOutOffcentre   float32
	TimeSinceLastRF    uint32
	KSpaceCentreLineNo uint16
	KSpaceCentrePartNo uint16
	IceProgramPara     [4]uint16
	FreePara           [4]uint16
	SlicePos           SlicePos
	Quaternion         [4]float32
	ChannelID          uint32
}

// Field offsets inside the 128-byte header.
const (
	offDMALength          = 0
	offMeasUID            = 4
	offScanCounter        = 8
	offTimeStamp          = 12
	offPMUTimeStamp       = 16
	offEvalInfoMask       = 20
	offSamplesInScan      = 28
	offUsedChannels       = 30
	offLoopCounter        = 32
	offCutOff             = 60
	offKSpaceCentreColumn = 64
	offDummy              = 66
	offReadOutOffcentre   = 68
	offTimeSinceLastRF    = 72
	offKSpaceCentreLineNo = 76
	offKSpaceCentrePartNo = 78
	offIceProgramPara     = 80
	offFreePara           = 88
	offSlicePos           = 96
	offQuaternion         = 108
	offChannelID          = 124
)

var le = binary.LittleEndian

// Has reports whether every bit of mask is set in word 0 of the evaluation mask.
func (h *Header) Has(mask uint32) bool {
	return h.EvalInfoMask[0]&mask == mask
}

// Set sets or clears mask in word 0 of the evaluation mask.
func (h *Header) Set(mask uint32, on bool) {
	if on {
		h.EvalInfoMask[0] |= mask
	} else {
		h.EvalInfoMask[0] &^= mask
	}
}

// AcqEnd reports whether this is the terminating record.
func (h *Header) AcqEnd() bool { return h.Has(MaskAcqEnd) }

// Reflect reports whether the payload was acquired in reverse order.
func (h *Header) Reflect() bool { return h.Has(MaskReflect) }

// PhaseCorrect reports whether the record is a phase-correction line.
func (h *Header) PhaseCorrect() bool { return h.Has(MaskPhaseCor) }

// PayloadSize is the number of payload bytes following the header.
func (h *Header) PayloadSize() int {
	return int(h.SamplesInScan) * 2 * 4
}

// String returns a short description for log messages.
func (h *Header) String() string {
	return fmt.Sprintf("scan %d line %d slice %d partition %d echo %d rep %d channel %d samples %d",
		h.ScanCounter, h.LC.Line, h.LC.Slice, h.LC.Partition, h.LC.Echo, h.LC.Repetition,
		h.ChannelID, h.SamplesInScan)
}

func (lc *LoopCounter) fields() [14]*uint16 {
	return [14]*uint16{
		&lc.Line, &lc.Acquisition, &lc.Slice, &lc.Partition, &lc.Echo, &lc.Phase,
		&lc.Repetition, &lc.Set, &lc.Seg, &lc.Ida, &lc.Idb, &lc.Idc, &lc.Idd, &lc.Ide,
	}
}

// UnmarshalBinary decodes a header from the first HeaderSize bytes of p.
func (h *Header) UnmarshalBinary(p []byte) error {
	if len(p) < HeaderSize {
		return fmt.Errorf("short record header: %d bytes", len(p))
	}
	h.DMALength = le.Uint32(p[offDMALength:])
	h.MeasUID = int32(le.Uint32(p[offMeasUID:]))
	h.ScanCounter = le.Uint32(p[offScanCounter:])
	h.TimeStamp = le.Uint32(p[offTimeStamp:])
	h.PMUTimeStamp = le.Uint32(p[offPMUTimeStamp:])
	h.EvalInfoMask[0] = le.Uint32(p[offEvalInfoMask:])
	h.EvalInfoMask[1] = le.Uint32(p[offEvalInfoMask+4:])
	h.SamplesInScan = le.Uint16(p[offSamplesInScan:])
	h.UsedChannels = le.Uint16(p[offUsedChannels:])
	for i, f := range h.LC.fields() {
		*f = le.Uint16(p[offLoopCounter+2*i:])
	}
	h.CutOff.Pre = le.Uint16(p[offCutOff:])
	h.CutOff.Post = le.Uint16(p[offCutOff+2:])
	h.KSpaceCentreColumn = le.Uint16(p[offKSpaceCentreColumn:])
	h.Dummy = le.Uint16(p[offDummy:])
	h.ReadOutOffcentre = math.Float32frombits(le.Uint32(p[offReadOutOffcentre:]))
	h.TimeSinceLastRF = le.Uint32(p[offTimeSinceLastRF:])
	h.KSpaceCentreLineNo = le.Uint16(p[offKSpaceCentreLineNo:])
	h.KSpaceCentrePartNo = le.Uint16(p[offKSpaceCentrePartNo:])
	for i := range h.IceProgramPara {
		h.IceProgramPara[i] = le.Uint16(p[offIceProgramPara+2*i:])
	}
	for i := range h.FreePara {
		h.FreePara[i] = le.Uint16(p[offFreePara+2*i:])
	}
	h.SlicePos.Sag = math.Float32frombits(le.Uint32(p[offSlicePos:]))
	h.SlicePos.Cor = math.Float32frombits(le.Uint32(p[offSlicePos+4:]))
	h.SlicePos.Tra = math.Float32frombits(le.Uint32(p[offSlicePos+8:]))
	for i := range h.Quaternion {
		h.Quaternion[i] = math.Float32frombits(le.Uint32(p[offQuaternion+4*i:]))
	}
	h.ChannelID = le.Uint32(p[offChannelID:])
	return nil
}

// MarshalBinary encodes the header into a new HeaderSize slice.
func (h *Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// AppendBinary appends the encoded header to p.
func (h *Header) AppendBinary(p []byte) ([]byte, error) {
	start := len(p)
	p = append(p, make([]byte, HeaderSize)...)
	b := p[start:]
	le.PutUint32(b[offDMALength:], h.DMALength)
	le.PutUint32(b[offMeasUID:], uint32(h.MeasUID))
	le.PutUint32(b[offScanCounter:], h.ScanCounter)
	le.PutUint32(b[offTimeStamp:], h.TimeStamp)
	le.PutUint32(b[offPMUTimeStamp:], h.PMUTimeStamp)
	le.PutUint32(b[offEvalInfoMask:], h.EvalInfoMask[0])
	le.PutUint32(b[offEvalInfoMask+4:], h.EvalInfoMask[1])
	le.PutUint16(b[offSamplesInScan:], h.SamplesInScan)
	le.PutUint16(b[offUsedChannels:], h.UsedChannels)
	lc := h.LC
	for i, f := range lc.fields() {
		le.PutUint16(b[offLoopCounter+2*i:], *f)
	}
	le.PutUint16(b[offCutOff:], h.CutOff.Pre)
	le.PutUint16(b[offCutOff+2:], h.CutOff.Post)
	le.PutUint16(b[offKSpaceCentreColumn:], h.KSpaceCentreColumn)
	le.PutUint16(b[offDummy:], h.Dummy)
	le.PutUint32(b[offReadOutOffcentre:], math.Float32bits(h.ReadOutOffcentre))
	le.PutUint32(b[offTimeSinceLastRF:], h.TimeSinceLastRF)
	le.PutUint16(b[offKSpaceCentreLineNo:], h.KSpaceCentreLineNo)
	le.PutUint16(b[offKSpaceCentrePartNo:], h.KSpaceCentrePartNo)
	for i, v := range h.IceProgramPara {
		le.PutUint16(b[offIceProgramPara+2*i:], v)
	}
	for i, v := range h.FreePara {
		le.PutUint16(b[offFreePara+2*i:], v)
	}
	le.PutUint32(b[offSlicePos:], math.Float32bits(h.SlicePos.Sag))
	le.PutUint32(b[offSlicePos+4:], math.Float32bits(h.SlicePos.Cor))
	le.PutUint32(b[offSlicePos+8:], math.Float32bits(h.SlicePos.Tra))
	for i, v := range h.Quaternion {
		le.PutUint32(b[offQuaternion+4*i:], math.Float32bits(v))
	}
	le.PutUint32(b[offChannelID:], h.ChannelID)
	return p, nil
}
