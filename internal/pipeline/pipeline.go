// Package pipeline applies an ordered list of per-frame transform stages to a
// decoded frame sequence and packs the result into a (T, C, H, W) tensor.
package pipeline

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/onnx"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// DefaultImageSize is the square side frames are resized to.
const DefaultImageSize = 224

// Stage transforms one frame. The output may have a different spatial size.
// Stages must not modify their input.
type Stage interface {
	Name() string
	Apply(f tensor.Frame) (tensor.Frame, error)
}

// Pipeline runs stages in order on every frame independently.
type Pipeline struct {
	size   int
	stages []Stage
}

// New builds a pipeline whose output frames must be size x size. A size of 0
// disables the output shape check.
func New(size int, stages ...Stage) *Pipeline {
	return &Pipeline{size: size, stages: stages}
}

// Default resizes and normalizes only. It needs no face detector.
func Default(size int) *Pipeline {
	return New(size, NewResize(size), NewNormalize())
}

// FaceAware is the full preprocessing order: face crop, resize, sharpen,
// histogram equalization, normalization.
func FaceAware(size int, locator FaceLocator, logger zerolog.Logger) *Pipeline {
	return New(size,
		NewFaceCrop(locator, logger),
		NewResize(size),
		NewSharpen(),
		NewEqualize(),
		NewNormalize(),
	)
}

// Options selects the pipeline built by Build.
type Options struct {
	ImageSize int
	// FaceModel is an UltraFace ONNX model. Empty selects Default.
	FaceModel string
	// Device is where the face detector runs.
	Device onnx.Device
	// OnnxLibrary is the onnxruntime shared library path.
	OnnxLibrary string
	Logger      zerolog.Logger
}

// Build constructs the pipeline described by opts. Call Close when done to
// release detector sessions.
func Build(opts Options) (*Pipeline, error) {
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}
	logger := opts.Logger.With().Str("component", "pipeline").Logger()

	if opts.FaceModel == "" {
		logger.Info().Int("size", opts.ImageSize).Msg("using default pipeline (resize + normalize)")
		return Default(opts.ImageSize), nil
	}

	locator, err := NewONNXFaceLocator(opts.FaceModel, opts.OnnxLibrary, opts.Device)
	if err != nil {
		return nil, fmt.Errorf("face locator: %w", err)
	}
	logger.Info().
		Int("size", opts.ImageSize).
		Str("face_model", opts.FaceModel).
		Str("device", string(opts.Device)).
		Msg("using face-aware pipeline")
	return FaceAware(opts.ImageSize, locator, logger), nil
}

// Size returns the configured output side, or 0 if unchecked.
func (p *Pipeline) Size() int { return p.size }

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Apply runs every stage on f.
func (p *Pipeline) Apply(f tensor.Frame) (tensor.Frame, error) {
	var err error
	for _, s := range p.stages {
		f, err = s.Apply(f)
		if err != nil {
			return tensor.Frame{}, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
	}
	if p.size > 0 && (f.C != tensor.Channels || f.H != p.size || f.W != p.size) {
		return tensor.Frame{}, errs.ContractViolation("pipeline",
			"frame is %dx%dx%d, want %dx%dx%d", f.C, f.H, f.W, tensor.Channels, p.size, p.size)
	}
	return f, nil
}

// ApplySequence transforms every frame and stacks them into (T, C, H, W).
func (p *Pipeline) ApplySequence(seq tensor.FrameSequence) (tensor.Tensor, error) {
	if len(seq) == 0 {
		return tensor.Tensor{}, errs.ContractViolation("pipeline", "empty frame sequence")
	}
	out := make([]tensor.Frame, len(seq))
	for i, f := range seq {
		tf, err := p.Apply(f)
		if err != nil {
			return tensor.Tensor{}, fmt.Errorf("frame %d: %w", i, err)
		}
		out[i] = tf
	}
	return tensor.Stack(out)
}

// Close releases stages that hold resources.
func (p *Pipeline) Close() error {
	var all []error
	for _, s := range p.stages {
		if c, ok := s.(io.Closer); ok {
			all = append(all, c.Close())
		}
	}
	return errors.Join(all...)
}
