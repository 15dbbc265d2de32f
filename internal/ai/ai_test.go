package ai

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/onnx"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// meanEncoder emits the per-channel mean of every frame.
type meanEncoder struct {
	calls int
}

func (e *meanEncoder) FeatureSize() int { return tensor.Channels }

func (e *meanEncoder) Encode(_ context.Context, frames tensor.Tensor) ([][]float32, error) {
	e.calls++
	out := make([][]float32, frames.Shape[0])
	for i := range out {
		f := frames.Index(i)
		plane := f.Shape[1] * f.Shape[2]
		vec := make([]float32, f.Shape[0])
		for c := range vec {
			var s float32
			for _, v := range f.Data[c*plane : (c+1)*plane] {
				s += v
			}
			vec[c] = s / float32(plane)
		}
		out[i] = vec
	}
	return out, nil
}

func sig(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestLSTMSingleStep(t *testing.T) {
	l := NewLSTM(1, 1, 1)
	layer := &l.Layers[0]
	copy(layer.WeightIH, []float32{1, 1, 1, 1})
	copy(layer.BiasIH, []float32{0, 0.5, 0, 0})
	require.NoError(t, l.Validate())

	h, err := l.Forward([][]float32{{1}})
	require.NoError(t, err)

	i, g, o := sig(1), math.Tanh(1), sig(1)
	c := i * g // forget gate sees a zero cell
	assert.InDelta(t, o*math.Tanh(c), float64(h[0]), 1e-6)
}

func TestLSTMRecurrence(t *testing.T) {
	l := NewLSTM(1, 1, 1)
	layer := &l.Layers[0]
	copy(layer.WeightIH, []float32{1, 1, 1, 1})
	copy(layer.WeightHH, []float32{0.5, -0.5, 2, 1})

	// two steps by hand
	var h, c float64
	for _, x := range []float64{1, -1} {
		i := sig(x + 0.5*h)
		f := sig(x - 0.5*h)
		g := math.Tanh(x + 2*h)
		o := sig(x + h)
		c = f*c + i*g
		h = o * math.Tanh(c)
	}

	got, err := l.Forward([][]float32{{1}, {-1}})
	require.NoError(t, err)
	assert.InDelta(t, h, float64(got[0]), 1e-6)

	reversed, err := l.Forward([][]float32{{-1}, {1}})
	require.NoError(t, err)
	assert.NotEqual(t, got, reversed, "order matters")

	// no state leaks between calls
	again, err := l.Forward([][]float32{{1}, {-1}})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestLSTMStackShapes(t *testing.T) {
	l := NewLSTM(3, 4, 2)
	require.NoError(t, l.Validate())
	assert.Equal(t, 3, l.InputSize())
	assert.Equal(t, 4, l.HiddenSize())
	assert.Equal(t, 4, l.Layers[1].InputSize)

	h, err := l.Forward([][]float32{{1, 2, 3}, {0, 0, 0}})
	require.NoError(t, err)
	assert.Len(t, h, 4)

	_, err = l.Forward([][]float32{{1, 2}})
	assert.Error(t, err)
	_, err = l.Forward(nil)
	assert.Error(t, err)

	l.Layers[1].BiasHH = l.Layers[1].BiasHH[:3]
	assert.Error(t, l.Validate())
}

func TestLinearAndSoftmax(t *testing.T) {
	fc := NewLinear(2, 2)
	copy(fc.Weight, []float32{1, 2, 3, 4})
	copy(fc.Bias, []float32{0.5, -0.5})

	y, err := fc.Forward([]float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{3.5, 6.5}, y)

	_, err = fc.Forward([]float32{1})
	assert.Error(t, err)

	p := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-6)
	assert.InDelta(t, 0.5, p[1], 1e-6)

	p = Softmax([]float32{-1, 0, 3})
	var sum float32
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Equal(t, 2, Argmax(p))
	assert.Nil(t, Softmax(nil))
	assert.Equal(t, -1, Argmax(nil))
}

func headFor(t *testing.T, features int) *HeadWeights {
	t.Helper()
	w := NewHeadWeights(features, Config{NumClasses: 2, HiddenSize: 4, NumLayers: 2})
	for _, l := range w.LSTM.Layers {
		for i := range l.WeightIH {
			l.WeightIH[i] = float32(i%5) * 0.1
		}
		for i := range l.WeightHH {
			l.WeightHH[i] = float32(i%3) * -0.05
		}
	}
	for i := range w.FC.Weight {
		w.FC.Weight[i] = float32(i) * 0.25
	}
	w.FC.Bias[1] = 0.1
	require.NoError(t, w.Validate())
	return w
}

func sequence(frames int) tensor.Tensor {
	t := tensor.New(frames, 3, 4, 4)
	for i := range t.Data {
		t.Data[i] = float32(i%17) / 17
	}
	return t
}

func TestRCNNClassify(t *testing.T) {
	enc := &meanEncoder{}
	m, err := NewRCNN(zerolog.Nop(), enc, headFor(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumClasses())

	probs, err := m.Classify(context.Background(), sequence(5))
	require.NoError(t, err)
	require.Len(t, probs, 2)
	assert.InDelta(t, 1, probs[0]+probs[1], 1e-6)

	// a batch of one is the same sequence
	seq := sequence(5)
	batched := tensor.Tensor{Shape: append([]int{1}, seq.Shape...), Data: seq.Data}
	again, err := m.Classify(context.Background(), batched)
	require.NoError(t, err)
	assert.Equal(t, probs, again)

	label, p, err := m.Predict(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, Argmax(p), label)
	assert.Equal(t, 3, enc.calls)
}

func TestRCNNContractViolations(t *testing.T) {
	m, err := NewRCNN(zerolog.Nop(), &meanEncoder{}, headFor(t, 3))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Classify(ctx, tensor.New(2, 5, 3, 4, 4))
	assert.True(t, errs.IsContractViolation(err), "batch of two")

	_, err = m.Classify(ctx, tensor.New(3, 4, 4))
	assert.True(t, errs.IsContractViolation(err), "rank 3")

	_, err = m.Classify(ctx, tensor.New(0, 3, 4, 4))
	assert.True(t, errs.IsContractViolation(err), "empty")

	_, err = m.Classify(ctx, tensor.Tensor{Shape: []int{2, 3, 4, 4}, Data: make([]float32, 5)})
	assert.True(t, errs.IsContractViolation(err), "short data")

	_, err = NewRCNN(zerolog.Nop(), &meanEncoder{}, headFor(t, 8))
	assert.True(t, errs.IsContractViolation(err), "feature mismatch")
}

func TestHeadWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.json")
	want := headFor(t, 3)
	require.NoError(t, SaveHeadWeights(path, want))

	got, err := LoadHeadWeights(path)
	require.NoError(t, err)
	require.Len(t, got.LSTM.Layers, 2)
	assert.Equal(t, want.LSTM.Layers[1].WeightHH, got.LSTM.Layers[1].WeightHH)
	assert.Equal(t, want.FC, got.FC)
	assert.Equal(t, 3, got.LSTM.InputSize())
}

func TestLoadHeadWeightsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadHeadWeights(filepath.Join(dir, "missing.json"))
	assert.True(t, errs.IsConfiguration(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"fc.weight": [[1, 2]], "fc.bias": [0]}`), 0o644))
	_, err = LoadHeadWeights(bad)
	assert.True(t, errs.IsConfiguration(err), "no lstm layers")

	ragged := filepath.Join(dir, "ragged.json")
	require.NoError(t, os.WriteFile(ragged, []byte(`{
		"lstm.weight_ih_l0": [[1], [1], [1], [1, 2]],
		"lstm.weight_hh_l0": [[1], [1], [1], [1]],
		"lstm.bias_ih_l0": [0, 0, 0, 0],
		"lstm.bias_hh_l0": [0, 0, 0, 0],
		"fc.weight": [[1], [1]], "fc.bias": [0, 0]}`), 0o644))
	_, err = LoadHeadWeights(ragged)
	assert.True(t, errs.IsConfiguration(err))
}

func TestNewONNXEncoderMissingModel(t *testing.T) {
	opts := DefaultEncoderOptions(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Equal(t, onnx.CPU, opts.Device)

	opts.Features = 0
	_, err := NewONNXEncoder(zerolog.Nop(), opts)
	assert.Error(t, err)
}
