package pipeline

import (
	"math"

	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// Equalize spreads each channel's histogram over [0, 255]. Samples are
// rounded into 256 bins first. A constant channel is returned unchanged.
type Equalize struct{}

func NewEqualize() Equalize { return Equalize{} }

func (Equalize) Name() string { return "equalize" }

func (Equalize) Apply(f tensor.Frame) (tensor.Frame, error) {
	out := tensor.NewFrame(f.C, f.H, f.W)
	bins := make([]uint8, f.H*f.W)

	for c := 0; c < f.C; c++ {
		src := f.Plane(c)
		dst := out.Plane(c)

		var hist [256]int
		for i, v := range src {
			b := uint8(clamp255(math.Round(v)))
			bins[i] = b
			hist[b]++
		}

		var cdf [256]int
		run := 0
		for i, n := range hist {
			run += n
			cdf[i] = run
		}
		cdfMin := 0
		for _, n := range cdf {
			if n > 0 {
				cdfMin = n
				break
			}
		}

		total := len(src)
		if total == cdfMin {
			copy(dst, src)
			continue
		}
		scale := 255 / float64(total-cdfMin)
		for i, b := range bins {
			dst[i] = math.Round(float64(cdf[b]-cdfMin) * scale)
		}
	}
	return out, nil
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
