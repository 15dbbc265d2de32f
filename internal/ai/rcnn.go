package ai

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/labels"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// Config sizes the recurrent head.
type Config struct {
	NumClasses int
	HiddenSize int
	NumLayers  int
}

// DefaultConfig is two classes over a two layer, 128 unit LSTM.
func DefaultConfig() Config {
	return Config{NumClasses: labels.NumClasses, HiddenSize: 128, NumLayers: 2}
}

// RCNN encodes each frame with a CNN, runs the feature sequence through an
// LSTM and classifies the last hidden state.
//
// Classify handles exactly one sequence per call. A rank-5 input must have a
// batch dimension of 1.
type RCNN struct {
	logger  zerolog.Logger
	encoder FrameEncoder
	lstm    *LSTM
	fc      *Linear
}

// NewRCNN wires an encoder to trained head weights. The encoder's feature
// size must match the LSTM input size.
func NewRCNN(logger zerolog.Logger, encoder FrameEncoder, w *HeadWeights) (*RCNN, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("head weights: %w", err)
	}
	if encoder.FeatureSize() != w.LSTM.InputSize() {
		return nil, errs.ContractViolation("rcnn", "encoder emits %d features, lstm expects %d",
			encoder.FeatureSize(), w.LSTM.InputSize())
	}
	return &RCNN{
		logger:  logger.With().Str("component", "rcnn").Logger(),
		encoder: encoder,
		lstm:    w.LSTM,
		fc:      w.FC,
	}, nil
}

// NumClasses returns the width of Classify's output.
func (m *RCNN) NumClasses() int { return m.fc.Out }

// Classify returns class probabilities for one (T, C, H, W) sequence.
func (m *RCNN) Classify(ctx context.Context, frames tensor.Tensor) ([]float32, error) {
	if err := frames.Validate(); err != nil {
		return nil, errs.ContractViolation("classify", "%v", err)
	}
	if frames.Rank() == 5 {
		if frames.Shape[0] != 1 {
			return nil, errs.ContractViolation("classify", "batch size %d, only 1 sequence per call", frames.Shape[0])
		}
		frames = frames.Index(0)
	}
	if frames.Rank() != 4 {
		return nil, errs.ContractViolation("classify", "want (T, C, H, W), got shape %v", frames.Shape)
	}
	if frames.Shape[0] == 0 {
		return nil, errs.ContractViolation("classify", "empty sequence")
	}

	feats, err := m.encoder.Encode(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if len(feats) != frames.Shape[0] {
		return nil, errs.ContractViolation("classify", "encoder returned %d vectors for %d frames", len(feats), frames.Shape[0])
	}
	for i, f := range feats {
		if len(f) != m.lstm.InputSize() {
			return nil, errs.ContractViolation("classify", "frame %d has %d features, want %d", i, len(f), m.lstm.InputSize())
		}
	}

	h, err := m.lstm.Forward(feats)
	if err != nil {
		return nil, err
	}
	logits, err := m.fc.Forward(h)
	if err != nil {
		return nil, err
	}
	probs := Softmax(logits)

	m.logger.Debug().
		Int("frames", frames.Shape[0]).
		Floats32("probs", probs).
		Msg("sequence classified")
	return probs, nil
}

// Predict returns the most likely class id with the full distribution.
func (m *RCNN) Predict(ctx context.Context, frames tensor.Tensor) (int, []float32, error) {
	probs, err := m.Classify(ctx, frames)
	if err != nil {
		return 0, nil, err
	}
	return Argmax(probs), probs, nil
}

// Close releases the encoder if it holds resources.
func (m *RCNN) Close() error {
	if c, ok := m.encoder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
