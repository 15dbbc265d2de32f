package ai

import (
	"fmt"
	"math"
)

// LSTMLayer holds one layer's parameters in PyTorch layout: the four gate
// blocks are stacked in the order input, forget, cell, output.
type LSTMLayer struct {
	InputSize  int
	HiddenSize int
	WeightIH   []float32 // (4*HiddenSize, InputSize)
	WeightHH   []float32 // (4*HiddenSize, HiddenSize)
	BiasIH     []float32 // (4*HiddenSize)
	BiasHH     []float32 // (4*HiddenSize)
}

// NewLSTMLayer allocates a zeroed layer.
func NewLSTMLayer(inputSize, hiddenSize int) LSTMLayer {
	g := 4 * hiddenSize
	return LSTMLayer{
		InputSize:  inputSize,
		HiddenSize: hiddenSize,
		WeightIH:   make([]float32, g*inputSize),
		WeightHH:   make([]float32, g*hiddenSize),
		BiasIH:     make([]float32, g),
		BiasHH:     make([]float32, g),
	}
}

func (l LSTMLayer) validate() error {
	g := 4 * l.HiddenSize
	switch {
	case l.InputSize <= 0 || l.HiddenSize <= 0:
		return fmt.Errorf("sizes must be positive, got input %d hidden %d", l.InputSize, l.HiddenSize)
	case len(l.WeightIH) != g*l.InputSize:
		return fmt.Errorf("weight_ih has %d values, want %d", len(l.WeightIH), g*l.InputSize)
	case len(l.WeightHH) != g*l.HiddenSize:
		return fmt.Errorf("weight_hh has %d values, want %d", len(l.WeightHH), g*l.HiddenSize)
	case len(l.BiasIH) != g:
		return fmt.Errorf("bias_ih has %d values, want %d", len(l.BiasIH), g)
	case len(l.BiasHH) != g:
		return fmt.Errorf("bias_hh has %d values, want %d", len(l.BiasHH), g)
	}
	return nil
}

// LSTM is a stack of layers; each layer feeds its hidden sequence to the next.
type LSTM struct {
	Layers []LSTMLayer
}

// NewLSTM allocates a zeroed stack.
func NewLSTM(inputSize, hiddenSize, numLayers int) *LSTM {
	l := &LSTM{Layers: make([]LSTMLayer, numLayers)}
	for i := range l.Layers {
		in := hiddenSize
		if i == 0 {
			in = inputSize
		}
		l.Layers[i] = NewLSTMLayer(in, hiddenSize)
	}
	return l
}

// Validate checks parameter sizes and that layers chain.
func (l *LSTM) Validate() error {
	if len(l.Layers) == 0 {
		return fmt.Errorf("lstm has no layers")
	}
	for i, layer := range l.Layers {
		if err := layer.validate(); err != nil {
			return fmt.Errorf("lstm layer %d: %w", i, err)
		}
		if i > 0 && layer.InputSize != l.Layers[i-1].HiddenSize {
			return fmt.Errorf("lstm layer %d: input %d does not match previous hidden %d",
				i, layer.InputSize, l.Layers[i-1].HiddenSize)
		}
	}
	return nil
}

func (l *LSTM) InputSize() int  { return l.Layers[0].InputSize }
func (l *LSTM) HiddenSize() int { return l.Layers[len(l.Layers)-1].HiddenSize }

// Forward runs seq through every layer starting from zero state and returns
// the top layer's hidden vector after the last step.
func (l *LSTM) Forward(seq [][]float32) ([]float32, error) {
	if len(seq) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	xs := make([][]float64, len(seq))
	for t, x := range seq {
		if len(x) != l.InputSize() {
			return nil, fmt.Errorf("step %d has %d features, want %d", t, len(x), l.InputSize())
		}
		xs[t] = widen(x)
	}

	for _, layer := range l.Layers {
		xs = layer.run(xs)
	}

	last := xs[len(xs)-1]
	out := make([]float32, len(last))
	for i, v := range last {
		out[i] = float32(v)
	}
	return out, nil
}

// run returns the hidden state after every step.
func (l LSTMLayer) run(xs [][]float64) [][]float64 {
	n := l.HiddenSize
	h := make([]float64, n)
	c := make([]float64, n)
	gates := make([]float64, 4*n)
	out := make([][]float64, len(xs))

	for t, x := range xs {
		for g := range gates {
			sum := float64(l.BiasIH[g]) + float64(l.BiasHH[g])
			sum += dot(l.WeightIH[g*l.InputSize:(g+1)*l.InputSize], x)
			sum += dot(l.WeightHH[g*n:(g+1)*n], h)
			gates[g] = sum
		}

		next := make([]float64, n)
		for j := 0; j < n; j++ {
			i := sigmoid(gates[j])
			f := sigmoid(gates[n+j])
			g := math.Tanh(gates[2*n+j])
			o := sigmoid(gates[3*n+j])
			c[j] = f*c[j] + i*g
			next[j] = o * math.Tanh(c[j])
		}
		h = next
		out[t] = next
	}
	return out
}

func dot(w []float32, x []float64) float64 {
	var s float64
	for i, v := range w {
		s += float64(v) * x[i]
	}
	return s
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func widen(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
