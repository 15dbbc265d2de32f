package pipeline

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"

	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// Resize scales a frame to Size x Size with bilinear interpolation.
// Input samples are expected in [0, 255].
type Resize struct {
	Size int
}

func NewResize(size int) Resize { return Resize{Size: size} }

func (r Resize) Name() string { return "resize" }

func (r Resize) Apply(f tensor.Frame) (tensor.Frame, error) {
	if r.Size <= 0 {
		return tensor.Frame{}, fmt.Errorf("invalid size %d", r.Size)
	}
	if f.C != tensor.Channels {
		return tensor.Frame{}, fmt.Errorf("resize needs %d channels, got %d", tensor.Channels, f.C)
	}
	if f.H == r.Size && f.W == r.Size {
		return f.Clone(), nil
	}
	scaled := resize.Resize(uint(r.Size), uint(r.Size), toRGBA64(f), resize.Bilinear)
	return fromImage(scaled), nil
}

// toRGBA64 widens 8-bit range samples to 16 bits so interpolation keeps
// sub-integer precision.
func toRGBA64(f tensor.Frame) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, f.W, f.H))
	plane := f.H * f.W
	for i := 0; i < plane; i++ {
		o := i * 8
		for c := 0; c < tensor.Channels; c++ {
			v := to16(f.Pix[c*plane+i])
			img.Pix[o+2*c] = uint8(v >> 8)
			img.Pix[o+2*c+1] = uint8(v)
		}
		img.Pix[o+6] = 0xff
		img.Pix[o+7] = 0xff
	}
	return img
}

func fromImage(img image.Image) tensor.Frame {
	b := img.Bounds()
	f := tensor.NewFrame(tensor.Channels, b.Dy(), b.Dx())

	if rgba, ok := img.(*image.RGBA64); ok {
		plane := f.H * f.W
		for y := 0; y < f.H; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			for x := 0; x < f.W; x++ {
				i := y*f.W + x
				for c := 0; c < tensor.Channels; c++ {
					v := uint16(row[8*x+2*c])<<8 | uint16(row[8*x+2*c+1])
					f.Pix[c*plane+i] = float64(v) / 257
				}
			}
		}
		return f
	}

	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			f.Set(0, y, x, float64(r)/257)
			f.Set(1, y, x, float64(g)/257)
			f.Set(2, y, x, float64(bl)/257)
		}
	}
	return f
}

func to16(v float64) uint16 {
	v = math.Round(v * 257)
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
