// Package preview exports magnitude slices of a reconstructed volume as
// images for quick visual checks.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"mdhrecon/pkg/volume"
)

// Format is the image encoding of exported slices.
type Format string

const (
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
)

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == BMP {
		return ".bmp"
	}
	return ".jpg"
}

// ParseFormat accepts "jpeg", "jpg" and "bmp"; "" means JPEG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "jpeg", "jpg":
		return JPEG, nil
	case "bmp":
		return BMP, nil
	}
	return "", fmt.Errorf("invalid preview format: %s (must be jpeg or bmp)", s)
}

// Viewer renders slices of a volume's magnitude, scaled so that the
// brightest voxel is white.
type Viewer struct {
	mag                []float64
	rows, cols, slices int
	peak               float64
}

// NewViewer creates a viewer for v.
func NewViewer(v *volume.Volume) *Viewer {
	mag := v.Magnitudes()
	var peak float64
	for _, m := range mag {
		peak = max(peak, m)
	}
	return &Viewer{mag: mag, rows: v.Rows, cols: v.Cols, slices: v.Slices, peak: peak}
}

func (v *Viewer) gray(i, j, k int) color.Gray {
	if v.peak == 0 {
		return color.Gray{}
	}
	m := v.mag[i+v.rows*(j+v.cols*k)]
	return color.Gray{Y: uint8(255*m/v.peak + 0.5)}
}

// Extent returns the number of slices along axis: "x" is readout, "y" phase
// encode and "z" the slice axis.
func (v *Viewer) Extent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.rows, nil
	case "y":
		return v.cols, nil
	case "z":
		return v.slices, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice returns the plane at position along axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.Extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside axis %s of length %d", position, axis, n)
	}

	var img *image.Gray
	switch strings.ToLower(axis) {
	case "x":
		// phase encode across, slices down
		img = image.NewGray(image.Rect(0, 0, v.cols, v.slices))
		for k := 0; k < v.slices; k++ {
			for j := 0; j < v.cols; j++ {
				img.SetGray(j, k, v.gray(position, j, k))
			}
		}
	case "y":
		// slices across, readout down
		img = image.NewGray(image.Rect(0, 0, v.slices, v.rows))
		for i := 0; i < v.rows; i++ {
			for k := 0; k < v.slices; k++ {
				img.SetGray(k, i, v.gray(i, position, k))
			}
		}
	default:
		// phase encode across, readout down
		img = image.NewGray(image.Rect(0, 0, v.cols, v.rows))
		for i := 0; i < v.rows; i++ {
			for j := 0; j < v.cols; j++ {
				img.SetGray(j, i, v.gray(i, j, position))
			}
		}
	}
	return img, nil
}

// SaveSlice writes img to filename in format f.
func SaveSlice(img image.Image, filename string, f Format) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if f == BMP {
		err = bmp.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence writes every plane along axis to outputDir as
// slice_<axis>_<nnn> and returns the number of files written.
func (v *Viewer) SaveSliceSequence(axis, outputDir string, f Format) (int, error) {
	n, err := v.Extent(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, err
	}
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}
		name := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", strings.ToLower(axis), pos, f.Ext()))
		if err := SaveSlice(img, name, f); err != nil {
			return pos, err
		}
	}
	return n, nil
}
