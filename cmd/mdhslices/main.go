package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"mdhrecon/internal/errs"
	"mdhrecon/pkg/mdh"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mdhslices", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inFile := fs.String("in", "", "Raw measurement stream")
	echo := fs.Int("echo", 0, "Target echo")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return errs.CodeConfig
	}
	if *inFile == "" {
		fs.Usage()
		return errs.CodeConfig
	}

	f, err := os.Open(*inFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open input: %v\n", err)
		return errs.CodeIO
	}
	defer f.Close()

	if _, err := dumpSlices(f, stdout, *echo); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return errs.Code(err)
	}
	return 0
}

// dumpSlices prints the slice index, line and slice position of every
// record acquired for echo. It returns the number of lines printed.
func dumpSlices(r io.Reader, w io.Writer, echo int) (int, error) {
	mr, err := mdh.NewReader(r)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		h, _, err := mr.ReadRaw()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if h.AcqEnd() {
			return n, nil
		}
		if int(h.LC.Echo) != echo {
			continue
		}
		p := h.SlicePos
		if _, err := fmt.Fprintf(w, "%5d%5d%20.6f%20.6f%20.6f\n", h.LC.Slice, h.LC.Line, p.Sag, p.Cor, p.Tra); err != nil {
			return n, err
		}
		n++
	}
}
