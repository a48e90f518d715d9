// Package config provides configuration loading and management for mdhrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"mdhrecon/internal/endian"
	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/cache"
	"mdhrecon/pkg/codec"
	"mdhrecon/pkg/dimension"
)

// OutputFormat selects the image files written per volume.
type OutputFormat string

const (
	// MGHRealImag writes the real and imaginary parts as two MGH files.
	MGHRealImag OutputFormat = "mgh-realimag"
	// MGHMagPhase writes magnitude and phase as two MGH files.
	MGHMagPhase OutputFormat = "mgh-magphase"
	// Analyze75 writes a scaled magnitude .img/.hdr pair.
	Analyze75 OutputFormat = "analyze75"
)

// Components returns the MGH components written for f, or nil for Analyze.
func (f OutputFormat) Components() []codec.Component {
	switch f {
	case MGHRealImag:
		return []codec.Component{codec.Real, codec.Imag}
	case MGHMagPhase:
		return []codec.Component{codec.Magnitude, codec.Phase}
	}
	return nil
}

// Valid reports whether f is a known format.
func (f OutputFormat) Valid() bool {
	return f == MGHRealImag || f == MGHMagPhase || f == Analyze75
}

// ListSpec is an ordinal list given either as explicit values or as an
// inclusive range. A range with end 0 is the single entry [0].
type ListSpec struct {
	Values []int `yaml:"values,omitempty"`
	Start  int   `yaml:"start"`
	End    int   `yaml:"end"`
}

// List returns the explicit values, or the range when none are given.
func (l ListSpec) List() dimension.List {
	if len(l.Values) > 0 {
		return append(dimension.List(nil), l.Values...)
	}
	return dimension.Range(l.Start, l.End)
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input stream
	Input struct {
		// MeasFile is the raw measurement stream
		MeasFile string `yaml:"measFile"`

		// Is3D selects partition encoding and a 3-D transform
		Is3D bool `yaml:"is3D"`

		// Channels is the number of receive channels to reconstruct
		Channels int `yaml:"channels"`
	} `yaml:"input"`

	// Dimensions of the acquisition
	Dimensions struct {
		ReadOut      int      `yaml:"readOut"`
		PhaseEncode  int      `yaml:"phaseEncode"`
		PhaseCorrect int      `yaml:"phaseCorrect"`
		Slices       ListSpec `yaml:"slices"`
		Repetitions  ListSpec `yaml:"repetitions"`
		Echoes       ListSpec `yaml:"echoes"`
	} `yaml:"dimensions"`

	// Unpack policy
	Unpack struct {
		PadAndShift    bool         `yaml:"unpackWithPadAndShift"`
		AdditionalData bool         `yaml:"packAdditionalData"`
		ReadOutCrop    bool         `yaml:"readOutCrop"`
		PhaseCorrect   bool         `yaml:"phaseCorrect"`
		ShiftInPlace   bool         `yaml:"shiftInPlace"`
		ByteOrder      endian.Order `yaml:"byteOrder"`
	} `yaml:"unpack"`

	// Output images
	Output struct {
		Dir    string       `yaml:"dir"`
		RunID  string       `yaml:"runID"`
		Format OutputFormat `yaml:"format"`

		// Gzip writes .mgz instead of .mgh
		Gzip bool `yaml:"gzip"`

		MGH struct {
			Vox2Ras [][]float64 `yaml:"vox2ras"`

			// MRIParameters is [TR, flip angle, TI, TE per echo]
			MRIParameters []float64 `yaml:"mriParameters"`
		} `yaml:"mgh"`

		Analyze struct {
			VoxelDimensions []float64 `yaml:"voxelDimensions"`
			Orientation     int       `yaml:"orientation"`
			IntensityScale  float64   `yaml:"intensityScale"`
			ReadOutFlip     bool      `yaml:"readOutFlip"`
		} `yaml:"analyze"`
	} `yaml:"output"`

	// Cache of extracted k-space volumes
	Cache struct {
		Dir         string            `yaml:"dir"`
		Compression cache.Compression `yaml:"compression"`
	} `yaml:"cache"`

	// Preview slices of reconstructed volumes
	Preview struct {
		Enabled bool     `yaml:"enabled"`
		Dir     string   `yaml:"dir"`
		Format  string   `yaml:"format"`
		Axes    []string `yaml:"axes"`
	} `yaml:"preview"`

	Log logging.LogConfig `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Channels = 1

	cfg.Dimensions.ReadOut = 256
	cfg.Dimensions.PhaseEncode = 256

	cfg.Unpack.ByteOrder = endian.Little

	cfg.Output.Dir = "."
	cfg.Output.RunID = "mdhrecon"
	cfg.Output.Format = MGHRealImag
	cfg.Output.MGH.Vox2Ras = [][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	cfg.Output.MGH.MRIParameters = []float64{2000, 90, 0, 30}
	cfg.Output.Analyze.VoxelDimensions = []float64{1, 1, 1}
	cfg.Output.Analyze.IntensityScale = codec.DefaultIntensityScale

	cfg.Cache.Dir = "cache"
	cfg.Cache.Compression = cache.Zstd

	cfg.Preview.Dir = "preview"
	cfg.Preview.Format = "jpeg"
	cfg.Preview.Axes = []string{"z"}

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

func invalid(format string, args ...any) error {
	return errs.New("Config", "Validate", fmt.Sprintf(format, args...), errs.CodeConfig, errs.ErrConfig)
}

// Validate checks the settings a run cannot start without. The input file
// is checked by the caller since cached runs do not read it.
func (c *Config) Validate() error {
	if c.Input.Channels < 1 {
		return invalid("channel count %d must be at least 1", c.Input.Channels)
	}
	if c.Output.Format == "" {
		return invalid("no output format given")
	}
	if !c.Output.Format.Valid() {
		return invalid("unknown output format %q", c.Output.Format)
	}
	if c.Dimensions.ReadOut <= 0 || c.Dimensions.PhaseEncode <= 0 {
		return invalid("readOut %d and phaseEncode %d must be positive", c.Dimensions.ReadOut, c.Dimensions.PhaseEncode)
	}
	if c.Dimensions.PhaseCorrect < 0 {
		return invalid("phaseCorrect %d must not be negative", c.Dimensions.PhaseCorrect)
	}
	for _, axis := range c.Preview.Axes {
		if !slices.Contains([]string{"x", "y", "z"}, axis) {
			return invalid("invalid preview axis %q", axis)
		}
	}
	return nil
}

// Policy returns the unpack policy flags.
func (c *Config) Policy() dimension.Policy {
	return dimension.Policy{
		ByteOrder:      c.Unpack.ByteOrder,
		PadAndShift:    c.Unpack.PadAndShift,
		AdditionalData: c.Unpack.AdditionalData,
		ReadOutCrop:    c.Unpack.ReadOutCrop,
		PhaseCorrect:   c.Unpack.PhaseCorrect,
		ShiftInPlace:   c.Unpack.ShiftInPlace,
	}
}

// Shape returns an unresolved store shape for the given targets.
func (c *Config) Shape(targets models.Targets) *dimension.Shape {
	return &dimension.Shape{
		ReadOut:      c.Dimensions.ReadOut,
		PhaseEncode:  c.Dimensions.PhaseEncode,
		PhaseCorrect: c.Dimensions.PhaseCorrect,
		Slices:       c.Dimensions.Slices.List(),
		Repetitions:  c.Dimensions.Repetitions.List(),
		Echoes:       c.Dimensions.Echoes.List(),
		Is3D:         c.Input.Is3D,
		Policy:       c.Policy(),
		Targets:      targets,
	}
}

// Env returns the settings shared by the image writers.
func (c *Config) Env() codec.Env {
	return codec.Env{Order: c.Unpack.ByteOrder, ReadOutCrop: c.Unpack.ReadOutCrop}
}

// Vox2Ras returns the configured affine. Rows of unequal length are an
// error; the 4x4 requirement is enforced by the MGH writer.
func (c *Config) Vox2Ras() (*mat.Dense, error) {
	rows := c.Output.MGH.Vox2Ras
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errs.New("Config", "Vox2Ras", "no vox2ras matrix", errs.CodeGeometry, errs.ErrGeometry)
	}
	n := len(rows[0])
	flat := make([]float64, 0, len(rows)*n)
	for i, r := range rows {
		if len(r) != n {
			return nil, errs.New("Config", "Vox2Ras",
				fmt.Sprintf("vox2ras row %d has %d entries, want %d", i, len(r), n),
				errs.CodeGeometry, errs.ErrGeometry)
		}
		flat = append(flat, r...)
	}
	return mat.NewDense(len(rows), n, flat), nil
}
