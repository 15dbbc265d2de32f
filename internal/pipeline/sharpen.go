package pipeline

import (
	"image"

	"github.com/disintegration/gift"

	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// Sharpen is an unsharp mask: out = in + Amount*(in - gauss(in)). Scaled
// differences at or below Threshold, in sample units, are left alone. Output
// stays within [0, 255].
type Sharpen struct {
	Sigma     float64
	Amount    float64
	Threshold float64
}

func NewSharpen() Sharpen { return Sharpen{Sigma: 1, Amount: 1} }

func (s Sharpen) Name() string { return "sharpen" }

func (s Sharpen) Apply(f tensor.Frame) (tensor.Frame, error) {
	g := gift.New(gift.UnsharpMask(float32(s.Sigma), float32(s.Amount), float32(s.Threshold/255)))
	src := toRGBA64(f)
	dst := image.NewRGBA64(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return fromImage(dst), nil
}
