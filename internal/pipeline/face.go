package pipeline

import (
	"image"
	"io"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// FaceLocator finds the most prominent face in a frame. ok is false when no
// face is found; that is not an error.
type FaceLocator interface {
	Locate(f tensor.Frame) (box image.Rectangle, ok bool, err error)
}

// FaceCrop crops a frame to the located face, grown by Margin on every side
// (as a fraction of the box size). A frame without a face passes through
// unchanged.
type FaceCrop struct {
	Locator FaceLocator
	Margin  float64
	logger  zerolog.Logger
}

func NewFaceCrop(locator FaceLocator, logger zerolog.Logger) *FaceCrop {
	return &FaceCrop{
		Locator: locator,
		Margin:  0.2,
		logger:  logger.With().Str("stage", "face_crop").Logger(),
	}
}

func (fc *FaceCrop) Name() string { return "face_crop" }

func (fc *FaceCrop) Apply(f tensor.Frame) (tensor.Frame, error) {
	box, ok, err := fc.Locator.Locate(f)
	if err != nil {
		return tensor.Frame{}, err
	}
	if ok {
		box = grow(box, fc.Margin).Intersect(image.Rect(0, 0, f.W, f.H))
	}
	if !ok || box.Empty() {
		fc.logger.Debug().Int("width", f.W).Int("height", f.H).Msg("no face found, passing frame through")
		return f.Clone(), nil
	}
	return crop(f, box), nil
}

// Close releases the locator if it holds resources.
func (fc *FaceCrop) Close() error {
	if c, ok := fc.Locator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func grow(r image.Rectangle, margin float64) image.Rectangle {
	dx := int(float64(r.Dx()) * margin)
	dy := int(float64(r.Dy()) * margin)
	return image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy)
}

func crop(f tensor.Frame, r image.Rectangle) tensor.Frame {
	out := tensor.NewFrame(f.C, r.Dy(), r.Dx())
	for c := 0; c < f.C; c++ {
		for y := 0; y < out.H; y++ {
			src := f.Pix[(c*f.H+r.Min.Y+y)*f.W+r.Min.X:]
			copy(out.Pix[(c*out.H+y)*out.W:(c*out.H+y+1)*out.W], src[:out.W])
		}
	}
	return out
}
