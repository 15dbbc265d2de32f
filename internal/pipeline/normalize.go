package pipeline

import (
	"fmt"

	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// ImageNet channel statistics.
var (
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// UnitScale maps [0, 255] samples onto [0, 1].
const UnitScale = 1.0 / 255

// Normalize maps each sample to (v*Scale - Mean[c]) / Std[c]. A zero Scale
// leaves samples unscaled.
type Normalize struct {
	Mean  [3]float64
	Std   [3]float64
	Scale float64
}

// NewNormalize applies the ImageNet statistics directly to [0, 255] samples,
// the way the detector was trained. Set Scale to UnitScale to rescale first.
func NewNormalize() Normalize {
	return Normalize{Mean: ImageNetMean, Std: ImageNetStd, Scale: 1}
}

func (n Normalize) Name() string { return "normalize" }

func (n Normalize) Apply(f tensor.Frame) (tensor.Frame, error) {
	if f.C != len(n.Mean) {
		return tensor.Frame{}, fmt.Errorf("normalize needs %d channels, got %d", len(n.Mean), f.C)
	}
	scale := n.Scale
	if scale == 0 {
		scale = 1
	}
	out := tensor.NewFrame(f.C, f.H, f.W)
	for c := 0; c < f.C; c++ {
		if n.Std[c] == 0 {
			return tensor.Frame{}, fmt.Errorf("zero std for channel %d", c)
		}
		src := f.Plane(c)
		dst := out.Plane(c)
		for i, v := range src {
			dst[i] = (v*scale - n.Mean[c]) / n.Std[c]
		}
	}
	return out, nil
}
