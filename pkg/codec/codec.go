// Package codec writes reconstructed volumes as MGH (optionally gzipped to
// MGZ) and Analyze 7.5 images.
package codec

import (
	"fmt"
	"math"
	"strings"

	"mdhrecon/internal/endian"
)

// Component selects the part of each complex voxel that is written.
type Component int

const (
	Real Component = iota
	Imag
	Magnitude
	Phase
)

var componentNames = [...]string{"real", "imag", "mag", "phase"}

// String returns the file name suffix of c.
func (c Component) String() string {
	if c < 0 || int(c) >= len(componentNames) {
		return fmt.Sprintf("component(%d)", int(c))
	}
	return componentNames[c]
}

// ParseComponent is the inverse of Component.String. "imaginary" and
// "magnitude" are accepted as well.
func ParseComponent(s string) (Component, error) {
	switch strings.ToLower(s) {
	case "real":
		return Real, nil
	case "imag", "imaginary":
		return Imag, nil
	case "mag", "magnitude":
		return Magnitude, nil
	case "phase":
		return Phase, nil
	}
	return 0, fmt.Errorf("unknown component %q", s)
}

// Value extracts c from z. The phase is atan(im/re) and 0 when re is 0.
func (c Component) Value(z complex64) float32 {
	re, im := float64(real(z)), float64(imag(z))
	switch c {
	case Imag:
		return float32(im)
	case Magnitude:
		return float32(math.Sqrt(re*re + im*im))
	case Phase:
		if re == 0 {
			return 0
		}
		return float32(math.Atan(im / re))
	}
	return float32(re)
}

// Env carries the run settings shared by both writers.
type Env struct {
	Order       endian.Order
	ReadOutCrop bool
}

// ReadOutRange returns the half-open readout interval written for a volume
// with rows readout samples: the middle half when cropping, else all of it.
func (e Env) ReadOutRange(rows int) (start, end int) {
	if !e.ReadOutCrop {
		return 0, rows
	}
	return rows / 4, int(0.75 * float64(rows))
}

// ReadOutLines returns the readout extent recorded in image headers. It is
// always the length of ReadOutRange.
func (e Env) ReadOutLines(rows int) int {
	start, end := e.ReadOutRange(rows)
	return end - start
}
