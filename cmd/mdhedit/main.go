package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"mdhrecon/internal/errs"
	"mdhrecon/pkg/dimension"
	"mdhrecon/pkg/mdh"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mdhedit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inFile := fs.String("in", "", "Raw measurement stream to edit")
	outFile := fs.String("out", "", "Edited stream")
	samples := fs.Int("samples", 512, "Only edit records with this many samples")
	keep := dimension.List{0}
	fs.Func("keep", "Comma separated echoes that stay online (default 0)", func(s string) error {
		l, err := parseList(s)
		keep = l
		return err
	})
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return errs.CodeConfig
	}
	if *inFile == "" || *outFile == "" {
		fs.Usage()
		return errs.CodeConfig
	}

	in, err := os.Open(*inFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open input: %v\n", err)
		return errs.CodeIO
	}
	defer in.Close()
	out, err := os.Create(*outFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create output: %v\n", err)
		return errs.CodeIO
	}

	bw := bufio.NewWriter(out)
	st, err := edit(bufio.NewReader(in), bw, *samples, keep)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Edit failed: %v\n", err)
		if code := errs.Code(err); code != errs.CodeGeneric {
			return code
		}
		return errs.CodeIO
	}
	fmt.Fprintf(stdout, "%d records copied, %d matched %d samples, %d set offline\n",
		st.Records, st.Matched, *samples, st.Cleared)
	return 0
}

func parseList(s string) (dimension.List, error) {
	var l dimension.List
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid echo %q", f)
		}
		l = append(l, v)
	}
	return l, nil
}

type editStats struct {
	Records int // copied, ACQEND included
	Matched int // non-ACQEND records with the requested sample count
	Cleared int // matched records whose ONLINE bit was cleared
}

// edit copies the stream from r to w, preamble included, clearing the ONLINE
// bit of every non-ACQEND record with the given sample count whose echo is
// not in keep.
func edit(r io.Reader, w io.Writer, samples int, keep dimension.List) (editStats, error) {
	var st editStats
	mr, err := mdh.NewReader(r)
	if err != nil {
		return st, err
	}
	mw, err := mdh.NewWriter(w, mr.Preamble())
	if err != nil {
		return st, err
	}
	for {
		h, payload, err := mr.ReadRaw()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		if !h.AcqEnd() && int(h.SamplesInScan) == samples {
			st.Matched++
			if !keep.Contains(int(h.LC.Echo)) && h.Has(mdh.MaskOnline) {
				h.Set(mdh.MaskOnline, false)
				st.Cleared++
			}
		}
		if err := mw.WriteRaw(h, payload); err != nil {
			return st, err
		}
		st.Records++
	}
}
