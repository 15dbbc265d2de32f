// Package dataset exposes a directory of labelled videos as a random-access
// collection of (frames tensor, label) pairs. Transformed tensors are
// memoized in a disk cache keyed by file name, so each video is extracted
// and transformed at most once per cache directory.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kikiluvv/deepfake-detection/internal/cache"
	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/labels"
	"github.com/kikiluvv/deepfake-detection/internal/metrics"
	"github.com/kikiluvv/deepfake-detection/internal/pipeline"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

const (
	DefaultMetadataFile = "metadata.json"
	DefaultExtension    = ".mp4"
	// DefaultSequenceLength is the frame count of a five second window at
	// 30 fps keeping every fifth frame.
	DefaultSequenceLength = 30
)

// FrameExtractor decodes the sampled frames of one video.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string) (tensor.FrameSequence, error)
}

// Options configures a Dataset.
type Options struct {
	DataDir string
	// MetadataFile is resolved against DataDir when relative.
	MetadataFile string
	// CacheDir is required.
	CacheDir   string
	ReuseCache bool
	// Filter selects video files by name. Defaults to a .mp4 suffix match.
	Filter    func(name string) bool
	Extractor FrameExtractor
	// Pipeline defaults to pipeline.Default(ImageSize).
	Pipeline  *pipeline.Pipeline
	ImageSize int
	// SequenceLength fixes T for every item, defaulting to
	// DefaultSequenceLength. Longer sequences are truncated and shorter ones
	// padded by repeating the last frame.
	SequenceLength int
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// VideoRecord is one video found at construction.
type VideoRecord struct {
	Filename string
	Path     string
	// Cached reports whether the cache held the entry when the dataset was
	// opened.
	Cached bool
}

// Dataset is safe for concurrent Item calls when its extractor and pipeline
// stages are.
type Dataset struct {
	records   []VideoRecord
	index     *labels.Index
	cache     *cache.Cache
	extractor FrameExtractor
	pipe      *pipeline.Pipeline
	size      int
	seqLen    int
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// HasExtension returns a filter matching names ending in ext, ignoring case.
func HasExtension(ext string) func(string) bool {
	ext = strings.ToLower(ext)
	return func(name string) bool {
		return strings.HasSuffix(strings.ToLower(name), ext)
	}
}

// New scans the data directory, loads the label index and opens the cache.
func New(opts Options) (*Dataset, error) {
	if opts.DataDir == "" {
		return nil, &errs.ConfigurationError{Op: "dataset", Err: errors.New("data directory is required")}
	}
	if opts.Extractor == nil {
		return nil, &errs.ConfigurationError{Op: "dataset", Err: errors.New("frame extractor is required")}
	}
	if opts.MetadataFile == "" {
		opts.MetadataFile = DefaultMetadataFile
	}
	if !filepath.IsAbs(opts.MetadataFile) {
		opts.MetadataFile = filepath.Join(opts.DataDir, opts.MetadataFile)
	}
	if opts.Filter == nil {
		opts.Filter = HasExtension(DefaultExtension)
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = pipeline.DefaultImageSize
	}
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.Default(opts.ImageSize)
	}
	switch {
	case opts.SequenceLength < 0:
		return nil, &errs.ConfigurationError{Op: "dataset", Err: fmt.Errorf("negative sequence length %d", opts.SequenceLength)}
	case opts.SequenceLength == 0:
		opts.SequenceLength = DefaultSequenceLength
	}

	logger := opts.Logger.With().Str("component", "dataset").Logger()

	index, err := labels.Load(opts.MetadataFile)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(opts.CacheDir, opts.ReuseCache,
		cache.WithLogger(opts.Logger),
		cache.WithMetrics(opts.Metrics),
	)
	if err != nil {
		return nil, err
	}

	records, err := scan(opts.DataDir, opts.Filter, c)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("data_dir", opts.DataDir).
		Str("cache_dir", c.Dir()).
		Bool("reuse_cache", opts.ReuseCache).
		Int("videos", len(records)).
		Int("cached", c.Len()).
		Strs("stages", opts.Pipeline.Stages()).
		Msg("dataset opened")

	return &Dataset{
		records:   records,
		index:     index,
		cache:     c,
		extractor: opts.Extractor,
		pipe:      opts.Pipeline,
		size:      opts.ImageSize,
		seqLen:    opts.SequenceLength,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// scan lists regular files in dir accepted by filter, sorted by name.
func scan(dir string, filter func(string) bool, c *cache.Cache) ([]VideoRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &errs.ConfigurationError{Op: "scan", Path: dir, Err: err}
	}

	var out []VideoRecord
	for _, e := range entries {
		if !e.Type().IsRegular() || !filter(e.Name()) {
			continue
		}
		out = append(out, VideoRecord{
			Filename: e.Name(),
			Path:     filepath.Join(dir, e.Name()),
			Cached:   c.Contains(e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Len returns the number of videos.
func (d *Dataset) Len() int { return len(d.records) }

// Records returns a copy of the video list in index order.
func (d *Dataset) Records() []VideoRecord {
	out := make([]VideoRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Cache returns the underlying cache.
func (d *Dataset) Cache() *cache.Cache { return d.cache }

// Labels returns every label in index order.
func (d *Dataset) Labels() ([]int, error) {
	out := make([]int, len(d.records))
	for i, r := range d.records {
		id, err := d.index.Lookup(r.Filename)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// Item returns the transformed frames of video i and its label. A cached
// entry is returned as is; otherwise the video is extracted, transformed and
// stored first.
func (d *Dataset) Item(ctx context.Context, i int) (tensor.Tensor, int, error) {
	if i < 0 || i >= len(d.records) {
		return tensor.Tensor{}, 0, errs.ContractViolation("item", "index %d out of range [0, %d)", i, len(d.records))
	}
	rec := d.records[i]

	label, err := d.index.Lookup(rec.Filename)
	if err != nil {
		d.metrics.IncItemError("configuration")
		return tensor.Tensor{}, 0, err
	}

	t, ok, err := d.cache.Lookup(rec.Filename)
	if err != nil {
		d.metrics.IncItemError("storage")
		return tensor.Tensor{}, 0, err
	}
	if ok {
		if err := d.checkShape(t); err != nil {
			d.metrics.IncItemError("storage")
			return tensor.Tensor{}, 0, &errs.StorageError{Op: "lookup", Key: rec.Filename, Err: err}
		}
		return t, label, nil
	}

	t, err = d.compute(ctx, rec)
	if err != nil {
		d.metrics.IncItemError(errorKind(err))
		return tensor.Tensor{}, 0, err
	}

	if err := d.cache.Store(rec.Filename, t); err != nil {
		d.metrics.IncItemError("storage")
		return tensor.Tensor{}, 0, err
	}
	return t, label, nil
}

func (d *Dataset) compute(ctx context.Context, rec VideoRecord) (tensor.Tensor, error) {
	start := time.Now()

	frames, err := d.extractor.Extract(ctx, rec.Path)
	if err != nil {
		return tensor.Tensor{}, err
	}
	d.metrics.IncExtraction()
	if len(frames) == 0 {
		return tensor.Tensor{}, &errs.DecodeError{Path: rec.Path, Err: errors.New("no frames extracted")}
	}
	frames = FitLength(frames, d.seqLen)

	t, err := d.pipe.ApplySequence(frames)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("transform %s: %w", rec.Filename, err)
	}
	if err := d.checkShape(t); err != nil {
		return tensor.Tensor{}, errs.ContractViolation("item", "%s: %v", rec.Filename, err)
	}

	elapsed := time.Since(start)
	d.metrics.ObserveItemCompute(elapsed.Seconds(), len(frames))
	d.logger.Debug().
		Str("video", rec.Filename).
		Ints("shape", t.Shape).
		Dur("elapsed", elapsed).
		Msg("item computed")
	return t, nil
}

// FitLength truncates or pads seq to n frames, repeating the last frame when
// padding. seq is returned unchanged when n <= 0 or seq is empty.
func FitLength(seq tensor.FrameSequence, n int) tensor.FrameSequence {
	if n <= 0 || len(seq) == 0 || len(seq) == n {
		return seq
	}
	if len(seq) > n {
		return seq[:n]
	}
	out := make(tensor.FrameSequence, n)
	copy(out, seq)
	last := seq[len(seq)-1]
	for i := len(seq); i < n; i++ {
		out[i] = last
	}
	return out
}

func (d *Dataset) checkShape(t tensor.Tensor) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Rank() != 4 || t.Shape[0] != d.seqLen || t.Shape[1] != tensor.Channels || t.Shape[2] != d.size || t.Shape[3] != d.size {
		return fmt.Errorf("shape %v, want (%d, %d, %d, %d)", t.Shape, d.seqLen, tensor.Channels, d.size, d.size)
	}
	return nil
}

// Warm computes and caches every item with up to workers goroutines. The
// first failure cancels the rest.
func (d *Dataset) Warm(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	start := time.Now()
	for i := range d.records {
		if d.cache.Contains(d.records[i].Filename) {
			continue
		}
		i := i
		g.Go(func() error {
			if _, _, err := d.Item(ctx, i); err != nil {
				return fmt.Errorf("%s: %w", d.records[i].Filename, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.logger.Info().
		Int("videos", len(d.records)).
		Int("cached", d.cache.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("cache warmed")
	return nil
}

func errorKind(err error) string {
	switch {
	case errs.IsDecode(err):
		return "decode"
	case errs.IsStorage(err):
		return "storage"
	case errs.IsConfiguration(err):
		return "configuration"
	case errs.IsContractViolation(err):
		return "contract"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
