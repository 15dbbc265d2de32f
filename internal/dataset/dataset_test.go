package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/deepfake-detection/internal/cache"
	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/metrics"
	"github.com/kikiluvv/deepfake-detection/internal/pipeline"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

const testSize = 8

// countingExtractor returns synthetic frames and counts calls per path.
// perVideo overrides frames for the named files.
type countingExtractor struct {
	frames   int
	perVideo map[string]int
	err      error

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
}

func newCountingExtractor(frames int) *countingExtractor {
	return &countingExtractor{frames: frames, calls: make(map[string]int)}
}

func (e *countingExtractor) Extract(_ context.Context, path string) (tensor.FrameSequence, error) {
	e.total.Add(1)
	e.mu.Lock()
	e.calls[filepath.Base(path)]++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	n := e.frames
	if v, ok := e.perVideo[filepath.Base(path)]; ok {
		n = v
	}
	seed := int(filepath.Base(path)[0])
	seq := make(tensor.FrameSequence, n)
	for i := range seq {
		f := tensor.NewFrame(tensor.Channels, 12, 16)
		for j := range f.Pix {
			f.Pix[j] = float64((seed*(i+1) + j) % 256)
		}
		seq[i] = f
	}
	return seq, nil
}

func (e *countingExtractor) callsFor(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

func writeDataDir(t *testing.T, metadata string, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("video"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultMetadataFile), []byte(metadata), 0o644))
	return dir
}

const twoVideos = `{"a.mp4": {"label": "REAL"}, "b.mp4": {"label": "FAKE"}}`

func open(t *testing.T, dataDir, cacheDir string, reuse bool, ex FrameExtractor) *Dataset {
	t.Helper()
	ds, err := New(Options{
		DataDir:    dataDir,
		CacheDir:   cacheDir,
		ReuseCache: reuse,
		Extractor:  ex,
		ImageSize:  testSize,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return ds
}

func TestEndToEndTwoVideos(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4", "notes.txt")
	ex := newCountingExtractor(4)
	ds := open(t, dataDir, filepath.Join(t.TempDir(), "cache"), false, ex)

	assert.Equal(t, 2, ds.Len())
	got, err := ds.Labels()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)

	first, label, err := ds.Item(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	second, label, err := ds.Item(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	assert.True(t, tensor.Equal(first, second))
	assert.Equal(t, 1, ex.callsFor("a.mp4"))
	assert.Equal(t, 0, ex.callsFor("b.mp4"))
}

func TestIdempotentAcrossInstances(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	cacheDir := filepath.Join(t.TempDir(), "cache")

	ex := newCountingExtractor(3)
	first := open(t, dataDir, cacheDir, false, ex)
	want, _, err := first.Item(context.Background(), 1)
	require.NoError(t, err)

	ex2 := newCountingExtractor(3)
	second := open(t, dataDir, cacheDir, true, ex2)
	recs := second.Records()
	assert.False(t, recs[0].Cached)
	assert.True(t, recs[1].Cached)

	got, label, err := second.Item(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, label)
	assert.True(t, tensor.Equal(want, got))
	assert.Equal(t, int32(0), ex2.total.Load())

	// a fresh cache forgets everything
	third := open(t, dataDir, cacheDir, false, ex2)
	assert.Equal(t, 0, third.Cache().Len())
	_, _, err = third.Item(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ex2.callsFor("b.mp4"))
}

func TestShapeInvariant(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	ds, err := New(Options{
		DataDir:        dataDir,
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		Extractor:      newCountingExtractor(3),
		ImageSize:      testSize,
		SequenceLength: 5,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	want := []int{5, 3, testSize, testSize}
	for i := 0; i < ds.Len(); i++ {
		fresh, _, err := ds.Item(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, want, fresh.Shape)

		cached, _, err := ds.Item(context.Background(), i)
		require.NoError(t, err)
		assert.Equal(t, want, cached.Shape)
	}
}

func TestFitLength(t *testing.T) {
	seq := tensor.FrameSequence{
		tensor.NewFrame(3, 1, 1),
		tensor.NewFrame(3, 1, 1),
		tensor.NewFrame(3, 1, 1),
	}
	seq[2].Pix[0] = 7

	assert.Len(t, FitLength(seq, 2), 2)

	padded := FitLength(seq, 5)
	require.Len(t, padded, 5)
	assert.Equal(t, 7.0, padded[4].Pix[0])

	assert.Len(t, FitLength(seq, 0), 3)
	assert.Empty(t, FitLength(nil, 4))
}

func TestSequenceLengthFixedAcrossVideos(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	ex := newCountingExtractor(0)
	ex.perVideo = map[string]int{"a.mp4": 6, "b.mp4": 2}

	for _, n := range []int{0, 4} {
		ds, err := New(Options{
			DataDir:        dataDir,
			CacheDir:       t.TempDir(),
			Extractor:      ex,
			ImageSize:      testSize,
			SequenceLength: n,
			Logger:         zerolog.Nop(),
		})
		require.NoError(t, err)

		want := n
		if want == 0 {
			want = DefaultSequenceLength
		}
		a, _, err := ds.Item(context.Background(), 0)
		require.NoError(t, err)
		b, _, err := ds.Item(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []int{want, 3, testSize, testSize}, a.Shape)
		assert.Equal(t, a.Shape, b.Shape)
	}
}

func TestCachedSequenceLengthMismatch(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	cacheDir := filepath.Join(t.TempDir(), "cache")

	c, err := cache.Open(cacheDir, false)
	require.NoError(t, err)
	require.NoError(t, c.Store("a.mp4", tensor.New(6, 3, testSize, testSize)))

	ds := open(t, dataDir, cacheDir, true, newCountingExtractor(2))
	_, _, err = ds.Item(context.Background(), 0)
	assert.True(t, errs.IsStorage(err))
}

func TestLazyPopulation(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	cacheDir := filepath.Join(t.TempDir(), "cache")
	ds := open(t, dataDir, cacheDir, false, newCountingExtractor(2))

	_, _, err := ds.Item(context.Background(), 1)
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.mp4", entries[0].Name())
}

func TestItemErrors(t *testing.T) {
	dataDir := writeDataDir(t, `{"a.mp4": {"label": "REAL"}}`, "a.mp4", "c.mp4")
	ex := newCountingExtractor(2)
	ds := open(t, dataDir, filepath.Join(t.TempDir(), "cache"), false, ex)

	_, _, err := ds.Item(context.Background(), 2)
	assert.True(t, errs.IsContractViolation(err))
	_, _, err = ds.Item(context.Background(), -1)
	assert.True(t, errs.IsContractViolation(err))

	// c.mp4 has no label
	_, _, err = ds.Item(context.Background(), 1)
	assert.True(t, errs.IsConfiguration(err))
	_, err = ds.Labels()
	assert.True(t, errs.IsConfiguration(err))

	ex.err = &errs.DecodeError{Path: "a.mp4", Err: errors.New("truncated")}
	_, _, err = ds.Item(context.Background(), 0)
	assert.True(t, errs.IsDecode(err))
	assert.False(t, ds.Cache().Contains("a.mp4"))
}

func TestCachedShapeMismatch(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	cacheDir := filepath.Join(t.TempDir(), "cache")

	c, err := cache.Open(cacheDir, false)
	require.NoError(t, err)
	require.NoError(t, c.Store("a.mp4", tensor.New(2, 3, 4, 4)))

	ds := open(t, dataDir, cacheDir, true, newCountingExtractor(2))
	_, _, err = ds.Item(context.Background(), 0)
	assert.True(t, errs.IsStorage(err))
}

func TestNewValidation(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4")

	_, err := New(Options{DataDir: dataDir, Extractor: newCountingExtractor(1)})
	assert.True(t, errs.IsStorage(err), "cache dir is required")

	_, err = New(Options{DataDir: dataDir, CacheDir: t.TempDir()})
	assert.True(t, errs.IsConfiguration(err))

	_, err = New(Options{DataDir: dataDir, CacheDir: t.TempDir(), Extractor: newCountingExtractor(1), SequenceLength: -1})
	assert.True(t, errs.IsConfiguration(err))

	_, err = New(Options{
		DataDir:      dataDir,
		MetadataFile: "missing.json",
		CacheDir:     t.TempDir(),
		Extractor:    newCountingExtractor(1),
	})
	assert.True(t, errs.IsConfiguration(err))

	bad := writeDataDir(t, `{"a.mp4": {"label": "MAYBE"}}`, "a.mp4")
	_, err = New(Options{DataDir: bad, CacheDir: t.TempDir(), Extractor: newCountingExtractor(1)})
	assert.True(t, errs.IsConfiguration(err))
}

func TestCustomFilter(t *testing.T) {
	dataDir := writeDataDir(t, `{"a.MP4": {"label": "REAL"}, "b.avi": {"label": "FAKE"}}`, "a.MP4", "b.avi")
	ds, err := New(Options{
		DataDir:   dataDir,
		CacheDir:  t.TempDir(),
		Extractor: newCountingExtractor(1),
		Filter:    HasExtension(".avi"),
		Pipeline:  pipeline.Default(testSize),
		ImageSize: testSize,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, "b.avi", ds.Records()[0].Filename)

	assert.True(t, HasExtension(".mp4")("a.MP4"))
}

func TestWarm(t *testing.T) {
	names := []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4"}
	meta := `{"a.mp4": {"label": "REAL"}, "b.mp4": {"label": "FAKE"}, "c.mp4": {"label": "REAL"},
		"d.mp4": {"label": "FAKE"}, "e.mp4": {"label": "FAKE"}}`
	dataDir := writeDataDir(t, meta, names...)
	m := metrics.New()
	ex := newCountingExtractor(2)

	ds, err := New(Options{
		DataDir:   dataDir,
		CacheDir:  filepath.Join(t.TempDir(), "cache"),
		Extractor: ex,
		ImageSize: testSize,
		Logger:    zerolog.Nop(),
		Metrics:   m,
	})
	require.NoError(t, err)

	require.NoError(t, ds.Warm(context.Background(), 3))
	assert.Equal(t, len(names), ds.Cache().Len())
	assert.Equal(t, int32(len(names)), ex.total.Load())

	// a second pass finds everything cached
	require.NoError(t, ds.Warm(context.Background(), 3))
	assert.Equal(t, int32(len(names)), ex.total.Load())
	for i := range names {
		_, _, err := ds.Item(context.Background(), i)
		require.NoError(t, err)
	}

	expected := `
# HELP deepfake_cache_hits_total Items served from the disk cache
# TYPE deepfake_cache_hits_total counter
deepfake_cache_hits_total 5
# HELP deepfake_extractions_total Videos decoded by the frame extractor
# TYPE deepfake_extractions_total counter
deepfake_extractions_total 5
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"deepfake_cache_hits_total", "deepfake_extractions_total"))
}

func TestWarmStopsOnError(t *testing.T) {
	dataDir := writeDataDir(t, twoVideos, "a.mp4", "b.mp4")
	ex := newCountingExtractor(2)
	ex.err = &errs.DecodeError{Path: "x", Err: errors.New("bad")}
	ds := open(t, dataDir, filepath.Join(t.TempDir(), "cache"), false, ex)

	err := ds.Warm(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, errs.IsDecode(err))
	assert.Equal(t, 0, ds.Cache().Len())
}
