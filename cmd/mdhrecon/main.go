package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/config"
	"mdhrecon/pkg/reconstruction"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, reconstructs and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mdhrecon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "mdhrecon.yaml", "YAML configuration file")
	measFile := fs.String("in", "", "Raw measurement stream (overrides input.measFile)")
	outDir := fs.String("out", "", "Output directory (overrides output.dir)")
	runID := fs.String("run-id", "", "Prefix of every output file (overrides output.runID)")
	channel := fs.Int("channel", models.Any, "Reconstruct only this channel")
	echo := fs.Int("echo", models.Any, "Reconstruct only this echo (requires -repetition)")
	repetition := fs.Int("repetition", models.Any, "Reconstruct only this repetition (requires -echo)")
	preprocessSave := fs.Bool("preprocess-save", false, "Cache extracted k-space volumes and stop before the transform")
	preprocessLoad := fs.Bool("preprocess-load", false, "Reconstruct from cached k-space volumes")
	logFile := fs.String("log", "", "Rotating log file (default stderr)")
	verbose := fs.Bool("verbose", false, "Log debug messages")
	writeConfig := fs.Bool("write-config", false, "Write the default configuration to -config and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return errs.CodeConfig
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(stderr, "Failed to write configuration: %v\n", err)
			return errs.CodeIO
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", *configPath)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return errs.CodeConfig
	}
	if *measFile != "" {
		cfg.Input.MeasFile = *measFile
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *runID != "" {
		cfg.Output.RunID = *runID
	}
	if *logFile != "" {
		cfg.Log.Logfile = *logFile
	}
	if *verbose {
		cfg.Log.Verbose = true
	}

	log := cfg.Log.NewLogger()
	defer log.Shutdown()

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "MDH RAW K-SPACE RECONSTRUCTION")
	fmt.Fprintln(stdout, "================================")

	params := &reconstruction.Params{
		Config:         cfg,
		Targets:        models.Targets{Channel: *channel, Echo: *echo, Repetition: *repetition},
		PreprocessSave: *preprocessSave,
		PreprocessLoad: *preprocessLoad,
		Log:            log,
	}
	reconstructor, err := reconstruction.NewReconstructor(params)
	if err != nil {
		log.Criticalf("%v", err)
		fmt.Fprintf(stderr, "Reconstruction setup failed: %v\n", err)
		return errs.Code(err)
	}
	shape := reconstructor.Shape()
	fmt.Fprintf(stdout, "Store: %+v (3-D: %t)\n", shape.Dims(), shape.Is3D)

	startTime := time.Now()
	if err := reconstructor.Process(); err != nil {
		log.Criticalf("%v", err)
		fmt.Fprintf(stderr, "Reconstruction failed: %v\n", err)
		return errs.Code(err)
	}
	processingTime := time.Since(startTime)

	summary := reconstructor.Summary()
	fmt.Fprintf(stdout, "\nReconstruction finished in %.2f seconds\n", processingTime.Seconds())
	fmt.Fprintf(stdout, "- Channels: %d\n", summary.Channels)
	fmt.Fprintf(stdout, "- Records: %d\n", summary.Records)
	fmt.Fprintf(stdout, "- Volumes: %d\n", summary.Volumes)
	fmt.Fprintf(stdout, "- Files written: %d (%s)\n", len(summary.Files), humanize.Bytes(summary.Bytes))
	if len(summary.Empty) > 0 {
		fmt.Fprintf(stdout, "- Channels without records: %v\n", summary.Empty)
	}

	if len(summary.Metrics) > 0 {
		fmt.Fprintf(stdout, "\nVolume metrics (magnitude):\n")
		fmt.Fprintf(stdout, "=======================================\n")
		for _, m := range summary.Metrics {
			fmt.Fprintf(stdout, "channel %d echo %d rep %d: mean %.4g, stddev %.4g, peak %.4g, entropy %.3f bits\n",
				m.Channel, m.Echo, m.Repetition, m.Mean, m.StdDev, m.Peak, m.Entropy)
		}
	}
	return reconstructor.ExitCode()
}
