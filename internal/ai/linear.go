package ai

import (
	"fmt"
	"math"
)

// Linear is y = Wx + b with W stored row-major as (Out, In).
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// NewLinear allocates a zeroed layer.
func NewLinear(in, out int) *Linear {
	return &Linear{In: in, Out: out, Weight: make([]float32, in*out), Bias: make([]float32, out)}
}

func (l *Linear) Validate() error {
	if l.In <= 0 || l.Out <= 0 {
		return fmt.Errorf("linear sizes must be positive, got %dx%d", l.Out, l.In)
	}
	if len(l.Weight) != l.In*l.Out {
		return fmt.Errorf("linear weight has %d values, want %d", len(l.Weight), l.In*l.Out)
	}
	if len(l.Bias) != l.Out {
		return fmt.Errorf("linear bias has %d values, want %d", len(l.Bias), l.Out)
	}
	return nil
}

func (l *Linear) Forward(x []float32) ([]float32, error) {
	if len(x) != l.In {
		return nil, fmt.Errorf("linear input has %d values, want %d", len(x), l.In)
	}
	xs := widen(x)
	out := make([]float32, l.Out)
	for o := range out {
		out[o] = float32(float64(l.Bias[o]) + dot(l.Weight[o*l.In:(o+1)*l.In], xs))
	}
	return out, nil
}

// Softmax returns exp(x_i) / sum(exp(x)), shifted by max(x) for stability.
func Softmax(x []float32) []float32 {
	if len(x) == 0 {
		return nil
	}
	m := math.Inf(-1)
	for _, v := range x {
		m = math.Max(m, float64(v))
	}
	exps := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		exps[i] = math.Exp(float64(v) - m)
		sum += exps[i]
	}
	out := make([]float32, len(x))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

// Argmax returns the index of the largest value, or -1 for an empty slice.
func Argmax(x []float32) int {
	best := -1
	for i, v := range x {
		if best < 0 || v > x[best] {
			best = i
		}
	}
	return best
}
