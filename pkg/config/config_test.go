package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mdhrecon/internal/endian"
	"mdhrecon/internal/errs"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/cache"
	"mdhrecon/pkg/codec"
	"mdhrecon/pkg/dimension"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mdhrecon.yaml")
	cfg := DefaultConfig()
	cfg.Input.MeasFile = "meas.out"
	cfg.Unpack.ByteOrder = endian.Big
	cfg.Cache.Compression = cache.LZ4
	cfg.Dimensions.Echoes = ListSpec{Values: []int{0, 2}}
	require.NoError(t, SaveConfig(cfg, path))

	back, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, back)

	require.NoError(t, CreateDefaultConfigFile(path))
	back, err = LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), back)
}

func TestLoadOptionSpellings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdhrecon.yaml")
	doc := `
input:
  measFile: scan.dat
  channels: 4
dimensions:
  readOut: 128
  phaseEncode: 96
  slices: {start: 0, end: 11}
  echoes: {values: [1, 3]}
unpack:
  byteOrder: 1
  unpackWithPadAndShift: true
output:
  format: analyze75
cache:
  compression: s2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, endian.Big, cfg.Unpack.ByteOrder)
	require.Equal(t, cache.S2, cfg.Cache.Compression)
	require.Equal(t, Analyze75, cfg.Output.Format)
	require.Equal(t, dimension.Seq(12), cfg.Dimensions.Slices.List())
	require.Equal(t, dimension.List{1, 3}, cfg.Dimensions.Echoes.List())
	require.Equal(t, dimension.List{0}, cfg.Dimensions.Repetitions.List())

	shape := cfg.Shape(models.AllTargets())
	require.True(t, shape.Policy.PadAndShift)
	require.Equal(t, 128, shape.ReadOut)
	require.Equal(t, codec.Env{Order: endian.Big}, cfg.Env())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no channels":    func(c *Config) { c.Input.Channels = 0 },
		"no format":      func(c *Config) { c.Output.Format = "" },
		"unknown format": func(c *Config) { c.Output.Format = "nifti" },
		"bad readout":    func(c *Config) { c.Dimensions.ReadOut = 0 },
		"bad pc lines":   func(c *Config) { c.Dimensions.PhaseCorrect = -1 },
		"bad axis":       func(c *Config) { c.Preview.Axes = []string{"q"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Input.MeasFile = "meas.out"
			mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, errs.ErrConfig)
			require.Equal(t, errs.CodeConfig, errs.Code(err))
		})
	}
}

func TestVox2Ras(t *testing.T) {
	cfg := DefaultConfig()
	m, err := cfg.Vox2Ras()
	require.NoError(t, err)
	r, c := m.Dims()
	require.Equal(t, []int{4, 4}, []int{r, c})
	require.Equal(t, 1.0, m.At(3, 3))

	cfg.Output.MGH.Vox2Ras = [][]float64{{1, 0, 0}, {0, 1}}
	_, err = cfg.Vox2Ras()
	require.ErrorIs(t, err, errs.ErrGeometry)

	cfg.Output.MGH.Vox2Ras = nil
	_, err = cfg.Vox2Ras()
	require.ErrorIs(t, err, errs.ErrGeometry)
}

func TestOutputFormatComponents(t *testing.T) {
	require.Equal(t, []codec.Component{codec.Real, codec.Imag}, MGHRealImag.Components())
	require.Equal(t, []codec.Component{codec.Magnitude, codec.Phase}, MGHMagPhase.Components())
	require.Nil(t, Analyze75.Components())
}
