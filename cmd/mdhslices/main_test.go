package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mdhrecon/internal/errs"
	"mdhrecon/pkg/mdh"
)

func testStream(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := mdh.NewWriter(&buf, nil)
	require.NoError(t, err)
	for slice := 0; slice < 2; slice++ {
		for echo := 0; echo < 2; echo++ {
			var h mdh.Header
			h.SamplesInScan = 1
			h.LC.Slice = uint16(slice)
			h.LC.Line = 3
			h.LC.Echo = uint16(echo)
			h.SlicePos = mdh.SlicePos{Sag: 1.5, Cor: -2, Tra: float32(10 * slice)}
			require.NoError(t, w.WriteRecord(&h, []complex64{1}))
		}
	}
	require.NoError(t, w.WriteEnd())
	return buf.Bytes()
}

func TestDumpSlices(t *testing.T) {
	var out bytes.Buffer
	n, err := dumpSlices(bytes.NewReader(testStream(t)), &out, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	want := "    0    3            1.500000           -2.000000            0.000000\n" +
		"    1    3            1.500000           -2.000000           10.000000\n"
	require.Equal(t, want, out.String())
}

func TestDumpSlicesTruncated(t *testing.T) {
	data := testStream(t)
	_, err := dumpSlices(bytes.NewReader(data[:len(data)-mdh.HeaderSize-3]), &bytes.Buffer{}, 0)
	require.ErrorIs(t, err, errs.ErrUnexpectedEnd)
}

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meas.dat")
	require.NoError(t, os.WriteFile(path, testStream(t), 0o644))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-in", path}, &stdout, &stderr))
	require.Equal(t, 2, bytes.Count(stdout.Bytes(), []byte("\n")))

	require.Equal(t, errs.CodeConfig, run(nil, &stdout, &stderr))
	require.Equal(t, errs.CodeIO, run([]string{"-in", path + ".absent"}, &stdout, &stderr))
}
