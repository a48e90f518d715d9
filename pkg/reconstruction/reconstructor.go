package reconstruction

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"mdhrecon/internal/errs"
	"mdhrecon/internal/logging"
	"mdhrecon/internal/models"
	"mdhrecon/pkg/cache"
	"mdhrecon/pkg/codec"
	"mdhrecon/pkg/config"
	"mdhrecon/pkg/dimension"
	"mdhrecon/pkg/kspace"
	"mdhrecon/pkg/preview"
	"mdhrecon/pkg/transform"
	"mdhrecon/pkg/unpack"
	"mdhrecon/pkg/volume"
)

// VolumeMetrics summarises the magnitude of one reconstructed volume.
type VolumeMetrics struct {
	Channel, Echo, Repetition int

	Mean    float64
	StdDev  float64
	Peak    float64
	Entropy float64 // bits, over a 256 bin histogram
}

// Summary collects what a run produced.
type Summary struct {
	Channels int
	Records  int
	Volumes  int
	Files    []string
	Bytes    uint64

	// Empty lists the channels whose unpack pass stored no record.
	Empty   []int
	Metrics []VolumeMetrics
}

// Params holds the reconstruction parameters.
type Params struct {
	// Config is the validated run configuration
	Config *config.Config

	// Targets restricts the run to one channel, echo and/or repetition
	Targets models.Targets

	// PreprocessSave caches extracted k-space volumes and stops before the
	// transform
	PreprocessSave bool

	// PreprocessLoad reconstructs from cached volumes instead of the stream
	PreprocessLoad bool

	Log logging.Logger
}

// Reconstructor is the run context: it owns the stores, the writers and the
// per-channel loop.
//
// For every channel the stream is unpacked once, then every (repetition,
// echo) volume goes through:
//  1. extraction (or a cache load)
//  2. zero padding and ifft-shift, unless done while unpacking
//  3. the inverse Fourier transform
//  4. fft-shift
//  5. image output
type Reconstructor struct {
	params *Params
	cfg    *config.Config
	log    logging.Logger

	shape        *dimension.Shape
	echoes       dimension.List // configured echoes, before targeting
	kspace       *kspace.Store
	phaseCorrect *kspace.Store

	mgh     *codec.MGH
	analyze *codec.Analyze
	cache   *cache.Cache

	summary Summary
}

// NewReconstructor checks the configuration, resolves the store shape and
// allocates the stores and writers.
//
// Parameters:
//   - params: Configuration, targets, preprocess mode and logger for the run
//
// Returns:
//   - A Reconstructor ready for Process
//   - An errs.Error carrying the exit code when the configuration or
//     geometry is rejected
func NewReconstructor(params *Params) (*Reconstructor, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, errs.New("Reconstructor", "New", "no configuration", errs.CodeConfig, errs.ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Input.MeasFile == "" && !params.PreprocessLoad {
		return nil, errs.New("Reconstructor", "New", "no measurement file given", errs.CodeConfig, errs.ErrConfig)
	}
	if params.PreprocessSave && params.PreprocessLoad {
		return nil, errs.New("Reconstructor", "New", "preprocess save and load are exclusive",
			errs.CodeConfig, errs.ErrConfig)
	}
	if (params.Targets.Echo == models.Any) != (params.Targets.Repetition == models.Any) {
		return nil, errs.New("Reconstructor", "New", "echo and repetition targets must be given together",
			errs.CodeConfig, errs.ErrConfig)
	}
	log := params.Log
	if log == nil {
		log = logging.Discard()
	}

	r := &Reconstructor{
		params: params,
		cfg:    cfg,
		log:    log,
		shape:  cfg.Shape(params.Targets),
		echoes: cfg.Dimensions.Echoes.List(),
		cache:  cache.New(cfg.Cache.Dir, cfg.Output.RunID, cfg.Cache.Compression, log),
	}
	if err := r.shape.Resolve(); err != nil {
		return nil, err
	}
	if r.shape.Policy.PadAndShift {
		log.Infof("unpacking with pad and shift, offsets %+v", r.shape.Pad)
	}

	var err error
	r.kspace, err = kspace.New("kspace", r.shape.Dims(), r.shape.Policy.AdditionalData, log)
	if err != nil {
		return nil, err
	}
	log.Infof("allocated %s", r.kspace)
	if r.shape.Policy.PhaseCorrect {
		r.phaseCorrect, err = kspace.New("phase-correct", r.shape.PhaseCorrectDims(), r.shape.Policy.AdditionalData, log)
		if err != nil {
			return nil, err
		}
		log.Infof("allocated %s", r.phaseCorrect)
	}

	if params.PreprocessSave {
		return r, nil
	}
	if err := r.newWriters(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reconstructor) newWriters() error {
	env := r.cfg.Env()
	out := r.cfg.Output
	if out.Format == config.Analyze75 {
		a, err := codec.NewAnalyze(env, out.Analyze.VoxelDimensions, out.Analyze.Orientation,
			out.Analyze.IntensityScale, out.Analyze.ReadOutFlip)
		if err != nil {
			return err
		}
		r.analyze = a
		return nil
	}

	vox2ras, err := r.cfg.Vox2Ras()
	if err != nil {
		return err
	}
	if t := r.params.Targets.Echo; t != models.Any && !r.echoes.Contains(t) {
		return errs.New("Reconstructor", "New",
			fmt.Sprintf("echo target %d not in echo list %v", t, r.echoes), errs.CodeConfig, errs.ErrConfig)
	}
	r.mgh, err = codec.NewMGH(env, vox2ras, out.MGH.MRIParameters, len(r.echoes))
	return err
}

// Summary returns what the last Process call produced.
func (r *Reconstructor) Summary() Summary {
	return r.summary
}

// ExitCode is 1 when some channel yielded no records, else 0.
func (r *Reconstructor) ExitCode() int {
	if len(r.summary.Empty) > 0 {
		return 1
	}
	return 0
}

// Shape returns the resolved store shape.
func (r *Reconstructor) Shape() *dimension.Shape {
	return r.shape
}

func (r *Reconstructor) channels() []int {
	if c := r.params.Targets.Channel; c != models.Any {
		return []int{c}
	}
	return dimension.Seq(r.cfg.Input.Channels)
}

// Process runs the complete reconstruction pipeline. For every selected
// channel it unpacks the stream (or loads cached volumes) and then
// transforms and writes each (repetition, echo) volume.
//
// Returns:
//   - nil when every volume was written; channels without records are
//     reported through Summary and ExitCode instead
//   - The first fatal stream, geometry or I/O error
func (r *Reconstructor) Process() error {
	tlog := logging.NewTimeLog(r.log)
	r.summary = Summary{}

	for _, channel := range r.channels() {
		r.summary.Channels++
		if !r.params.PreprocessLoad {
			r.log.Infof("Step 1: unpacking channel %d from %s", channel, r.cfg.Input.MeasFile)
			n, err := r.unpack(channel)
			if err != nil {
				return err
			}
			r.summary.Records += n
			if n == 0 {
				r.log.Errorf("no records found for channel %d, echo %s, repetition %s",
					channel, target(r.params.Targets.Echo), target(r.params.Targets.Repetition))
				r.summary.Empty = append(r.summary.Empty, channel)
				continue
			}
		}

		for ri := range r.shape.Repetitions {
			for ei := range r.shape.Echoes {
				if err := r.reconstructVolume(channel, ri, ei); err != nil {
					return err
				}
			}
		}
	}

	tlog.Infof("processed %d volumes from %d channels, wrote %d files (%s)",
		r.summary.Volumes, r.summary.Channels, len(r.summary.Files), humanize.Bytes(r.summary.Bytes))
	return nil
}

func target(t int) string {
	if t == models.Any {
		return "any"
	}
	return fmt.Sprint(t)
}

func (r *Reconstructor) unpack(channel int) (int, error) {
	r.kspace.Reset()
	if r.phaseCorrect != nil {
		r.phaseCorrect.Reset()
	}
	shape := *r.shape
	shape.Targets.Channel = channel
	u, err := unpack.New(&shape, r.kspace, r.phaseCorrect, r.log)
	if err != nil {
		return 0, err
	}
	return u.UnpackFile(r.cfg.Input.MeasFile)
}

// reconstructVolume takes the (ri, ei) volume of the current channel
// through the remaining steps.
func (r *Reconstructor) reconstructVolume(channel, ri, ei int) error {
	key := cache.Key{Channel: channel, Echo: r.shape.Echoes[ei], Repetition: r.shape.Repetitions[ri]}
	defer r.kspace.Destruct()

	if r.params.PreprocessLoad {
		v, err := r.cache.Load(key)
		if err != nil {
			return err
		}
		r.kspace.Replace(v)
	} else if _, err := r.kspace.Extract(ri, ei); err != nil {
		return err
	}

	if r.params.PreprocessSave {
		v, err := r.kspace.Current()
		if err != nil {
			return err
		}
		r.summary.Volumes++
		return r.cache.Save(key, v)
	}

	inPlace := r.shape.Policy.ShiftInPlace
	if !r.shape.Policy.PadAndShift {
		r.log.Debugf("Step 2: zero padding and ifft-shift of %+v", key)
		if _, err := r.kspace.ZeroPad(); err != nil {
			return err
		}
		if err := r.kspace.Shift(volume.IFFTShift, inPlace); err != nil {
			return err
		}
	}

	if r.mgh != nil {
		if err := r.mgh.SetEcho(r.teIndex(ei)); err != nil {
			return err
		}
	}

	r.log.Debugf("Step 3: inverse transform of %+v", key)
	v, err := r.kspace.Current()
	if err != nil {
		return err
	}
	r.kspace.Replace(transform.Inverse(v, r.shape.Is3D))

	r.log.Debugf("Step 4: fft-shift of %+v", key)
	if err := r.kspace.Shift(volume.FFTShift, inPlace); err != nil {
		return err
	}

	v, err = r.kspace.Current()
	if err != nil {
		return err
	}
	if err := r.save(key, v); err != nil {
		return err
	}
	r.summary.Volumes++
	r.summary.Metrics = append(r.summary.Metrics, metrics(key, v))
	return nil
}

// teIndex returns which configured echo time belongs to echo slot ei.
func (r *Reconstructor) teIndex(ei int) int {
	if t := r.params.Targets.Echo; t != models.Any {
		i, _ := r.echoes.IndexOf(t)
		return i
	}
	return ei
}

func (r *Reconstructor) baseName(k cache.Key) string {
	name := fmt.Sprintf("%s_channel%d_echo%d_rep%d", r.cfg.Output.RunID, k.Channel, k.Echo, k.Repetition)
	return filepath.Join(r.cfg.Output.Dir, name)
}

// save writes the output images of v and, when enabled, its previews.
func (r *Reconstructor) save(k cache.Key, v *volume.Volume) error {
	if err := os.MkdirAll(r.cfg.Output.Dir, 0o755); err != nil {
		return errs.New("Reconstructor", "save", fmt.Sprintf("cannot create %q", r.cfg.Output.Dir), errs.CodeIO, err)
	}
	base := r.baseName(k)
	r.log.Debugf("Step 5: saving %s", base)

	var files []string
	if r.analyze != nil {
		stats, err := r.analyze.Save(base+"-snorm", v)
		if err != nil {
			return err
		}
		if stats.Overflow {
			r.log.Warningf("%s: magnitudes exceed %d, image is clamped", base, math.MaxInt16)
		}
		files = append(files, base+"-snorm.img", base+"-snorm.hdr")
	} else {
		ext := ".mgh"
		if r.cfg.Output.Gzip {
			ext = ".mgz"
		}
		for _, c := range r.cfg.Output.Format.Components() {
			path := fmt.Sprintf("%s-%s%s", base, c, ext)
			if err := r.mgh.Save(path, v, c); err != nil {
				return err
			}
			files = append(files, path)
		}
	}
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil {
			r.summary.Bytes += uint64(fi.Size())
		}
	}
	r.summary.Files = append(r.summary.Files, files...)

	if r.cfg.Preview.Enabled {
		r.savePreviews(k, v)
	}
	return nil
}

// savePreviews writes magnitude slices. Failures only warn.
func (r *Reconstructor) savePreviews(k cache.Key, v *volume.Volume) {
	format, err := preview.ParseFormat(r.cfg.Preview.Format)
	if err != nil {
		r.log.Warningf("skipping previews: %v", err)
		return
	}
	viewer := preview.NewViewer(v)
	dir := filepath.Join(r.cfg.Preview.Dir, filepath.Base(r.baseName(k)))
	for _, axis := range r.cfg.Preview.Axes {
		n, err := viewer.SaveSliceSequence(axis, filepath.Join(dir, axis), format)
		if err != nil {
			r.log.Warningf("failed to save %s-axis previews of %+v: %v", axis, k, err)
			continue
		}
		r.log.Debugf("saved %d %s-axis previews to %s", n, axis, dir)
	}
}

// metrics computes magnitude statistics of v.
func metrics(k cache.Key, v *volume.Volume) VolumeMetrics {
	mag := v.Magnitudes()
	m := VolumeMetrics{Channel: k.Channel, Echo: k.Echo, Repetition: k.Repetition}
	m.Mean, m.StdDev = stat.MeanStdDev(mag, nil)
	if len(mag) < 2 {
		m.StdDev = 0
	}
	for _, x := range mag {
		m.Peak = max(m.Peak, x)
	}
	m.Entropy = entropy(mag, m.Peak)
	return m
}

// entropy returns the Shannon entropy in bits of a 256 bin histogram of
// data over [0, peak].
func entropy(data []float64, peak float64) float64 {
	if len(data) == 0 || peak == 0 {
		return 0
	}
	const numBins = 256
	p := make([]float64, numBins)
	for _, x := range data {
		bin := min(int(x/peak*numBins), numBins-1)
		p[bin]++
	}
	for i := range p {
		p[i] /= float64(len(data))
	}
	return stat.Entropy(p) / math.Ln2
}
