package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/onnx"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// FrameEncoder maps every frame of a (T, C, H, W) tensor to a feature vector.
type FrameEncoder interface {
	FeatureSize() int
	Encode(ctx context.Context, frames tensor.Tensor) ([][]float32, error)
}

// EncoderOptions describes a headless CNN exported to ONNX, for example a
// resnet18 whose fc layer was replaced by an identity.
type EncoderOptions struct {
	ModelPath   string
	OnnxLibrary string
	Device      onnx.Device
	InputName   string
	OutputName  string
	// Features is the width of the output vector (512 for resnet18).
	Features int
}

// DefaultEncoderOptions matches a resnet18 trunk exported with input
// "input" and output "features".
func DefaultEncoderOptions(modelPath string) EncoderOptions {
	return EncoderOptions{
		ModelPath:  modelPath,
		Device:     onnx.CPU,
		InputName:  "input",
		OutputName: "features",
		Features:   512,
	}
}

// ONNXEncoder runs the CNN one frame at a time. Calls are serialized.
type ONNXEncoder struct {
	logger   zerolog.Logger
	opts     EncoderOptions
	mu       sync.Mutex
	session  *ort.DynamicAdvancedSession
	features int
}

// NewONNXEncoder loads the encoder model on opts.Device.
func NewONNXEncoder(logger zerolog.Logger, opts EncoderOptions) (*ONNXEncoder, error) {
	if opts.Features <= 0 {
		return nil, fmt.Errorf("encoder feature size must be positive, got %d", opts.Features)
	}
	if err := onnx.Acquire(opts.OnnxLibrary); err != nil {
		return nil, err
	}

	sess, err := onnx.OpenSession(opts.ModelPath, []string{opts.InputName}, []string{opts.OutputName}, opts.Device)
	if err != nil {
		_ = onnx.Release()
		return nil, err
	}

	logger.Info().
		Str("model", opts.ModelPath).
		Str("device", string(opts.Device)).
		Int("features", opts.Features).
		Msg("frame encoder loaded")

	return &ONNXEncoder{
		logger:   logger.With().Str("component", "encoder").Logger(),
		opts:     opts,
		session:  sess,
		features: opts.Features,
	}, nil
}

func (e *ONNXEncoder) FeatureSize() int { return e.features }

// Encode runs every frame through the network and returns one vector per frame.
func (e *ONNXEncoder) Encode(ctx context.Context, frames tensor.Tensor) ([][]float32, error) {
	if frames.Rank() != 4 {
		return nil, errs.ContractViolation("encode", "want (T, C, H, W), got shape %v", frames.Shape)
	}
	c, h, w := frames.Shape[1], frames.Shape[2], frames.Shape[3]

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("encoder is closed")
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.features)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	out := make([][]float32, frames.Shape[0])
	for i := range out {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := frames.Index(i)
		input, err := ort.NewTensor(ort.NewShape(1, int64(c), int64(h), int64(w)), frame.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		err = e.session.Run([]ort.Value{input}, []ort.Value{output})
		input.Destroy()
		if err != nil {
			return nil, fmt.Errorf("encoder inference failed on frame %d: %w", i, err)
		}

		vec := make([]float32, e.features)
		copy(vec, output.GetData())
		out[i] = vec
	}

	e.logger.Debug().Int("frames", len(out)).Msg("frames encoded")
	return out, nil
}

// Close releases the session and the runtime reference.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	e.logger.Info().Msg("closing frame encoder session")
	if err := e.session.Destroy(); err != nil {
		return err
	}
	e.session = nil
	return onnx.Release()
}
