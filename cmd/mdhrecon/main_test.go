package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mdhrecon/internal/errs"
	"mdhrecon/pkg/config"
	"mdhrecon/pkg/mdh"
)

// setup writes a one-slice 2x2 stream with two channels and a matching
// configuration file.
func setup(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()

	var buf bytes.Buffer
	w, err := mdh.NewWriter(&buf, nil)
	require.NoError(t, err)
	for channel := 0; channel < 2; channel++ {
		for line := 0; line < 2; line++ {
			var h mdh.Header
			h.SamplesInScan = 2
			h.ChannelID = uint32(channel)
			h.LC.Line = uint16(line)
			require.NoError(t, w.WriteRecord(&h, []complex64{1, complex(0, 1)}))
		}
	}
	require.NoError(t, w.WriteEnd())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meas.dat"), buf.Bytes(), 0o644))

	cfg := config.DefaultConfig()
	cfg.Input.Channels = 2
	cfg.Dimensions.ReadOut = 2
	cfg.Dimensions.PhaseEncode = 2
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Log.Logfile = filepath.Join(dir, "mdhrecon.log")
	configPath = filepath.Join(dir, "mdhrecon.yaml")
	require.NoError(t, config.SaveConfig(cfg, configPath))
	return dir, configPath
}

func TestRunReconstructsEveryChannel(t *testing.T) {
	dir, configPath := setup(t)
	out := filepath.Join(dir, "out")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", configPath, "-in", filepath.Join(dir, "meas.dat"), "-out", out, "-run-id", "scan"},
		&stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "- Volumes: 2")

	for _, name := range []string{"scan_channel0_echo0_rep0-real.mgh", "scan_channel1_echo0_rep0-imag.mgh"} {
		_, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err)
	}
}

func TestRunMissingChannelExitsOne(t *testing.T) {
	dir, configPath := setup(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", configPath, "-in", filepath.Join(dir, "meas.dat"), "-out", dir, "-channel", "5"},
		&stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stdout.String(), "Channels without records: [5]")
}

func TestRunPreprocessRoundTrip(t *testing.T) {
	dir, configPath := setup(t)
	in := filepath.Join(dir, "meas.dat")
	out := filepath.Join(dir, "out")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-config", configPath, "-in", in, "-preprocess-save"}, &stdout, &stderr))
	require.NoError(t, os.Remove(in))
	require.Equal(t, 0, run([]string{"-config", configPath, "-out", out, "-preprocess-load"}, &stdout, &stderr),
		stderr.String())

	_, err := os.Stat(filepath.Join(out, "mdhrecon_channel1_echo0_rep0-real.mgh"))
	require.NoError(t, err)
}

func TestRunRejectsLoneEchoTarget(t *testing.T) {
	dir, configPath := setup(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", configPath, "-in", filepath.Join(dir, "meas.dat"), "-echo", "0"}, &stdout, &stderr)
	require.Equal(t, errs.CodeConfig, code)
	require.Contains(t, stderr.String(), "echo and repetition targets must be given together")
}

func TestRunWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mdhrecon.yaml")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-config", path, "-write-config"}, &stdout, &stderr))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
}

func TestRunMissingInput(t *testing.T) {
	dir, configPath := setup(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", configPath, "-in", filepath.Join(dir, "absent.dat")}, &stdout, &stderr)
	require.Equal(t, errs.CodeIO, code)
}
