package tensor

import (
	"fmt"
)

// Channels is the number of color channels carried by every frame.
const Channels = 3

// Frame is one RGB raster in channel-major (C, H, W) layout.
// Samples are float64 so that transform stages can work in full precision.
type Frame struct {
	C, H, W int
	Pix     []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(c, h, w int) Frame {
	return Frame{C: c, H: h, W: w, Pix: make([]float64, c*h*w)}
}

// At returns the sample at channel c, row y, column x.
func (f Frame) At(c, y, x int) float64 {
	return f.Pix[(c*f.H+y)*f.W+x]
}

// Set stores v at channel c, row y, column x.
func (f Frame) Set(c, y, x int, v float64) {
	f.Pix[(c*f.H+y)*f.W+x] = v
}

// Plane returns the samples of one channel.
func (f Frame) Plane(c int) []float64 {
	n := f.H * f.W
	return f.Pix[c*n : (c+1)*n]
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := Frame{C: f.C, H: f.H, W: f.W, Pix: make([]float64, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// FrameSequence is an ordered run of frames taken from one video.
type FrameSequence []Frame

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int) Tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return Tensor{Shape: s, Data: make([]float32, numel(s))}
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Len returns the number of elements.
func (t Tensor) Len() int { return len(t.Data) }

// IsZero reports whether t holds nothing at all.
func (t Tensor) IsZero() bool { return len(t.Shape) == 0 && len(t.Data) == 0 }

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
	}
	if n := numel(t.Shape); n != len(t.Data) {
		return fmt.Errorf("shape %v wants %d elements, have %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Index returns the sub-tensor at position i of the leading axis. The result
// shares storage with t.
func (t Tensor) Index(i int) Tensor {
	inner := numel(t.Shape[1:])
	return Tensor{Shape: append([]int(nil), t.Shape[1:]...), Data: t.Data[i*inner : (i+1)*inner]}
}

// SameShape reports whether t has exactly the given shape.
func (t Tensor) SameShape(shape ...int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have the same shape and bit-identical data.
func Equal(a, b Tensor) bool {
	if !a.SameShape(b.Shape...) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// Stack packs frames of identical shape into a (T, C, H, W) tensor, narrowing
// samples to float32.
func Stack(frames []Frame) (Tensor, error) {
	if len(frames) == 0 {
		return Tensor{}, fmt.Errorf("stack: no frames")
	}
	c, h, w := frames[0].C, frames[0].H, frames[0].W
	out := New(len(frames), c, h, w)
	per := c * h * w
	for i, f := range frames {
		if f.C != c || f.H != h || f.W != w {
			return Tensor{}, fmt.Errorf("stack: frame %d is %dx%dx%d, want %dx%dx%d", i, f.C, f.H, f.W, c, h, w)
		}
		dst := out.Data[i*per : (i+1)*per]
		for j, v := range f.Pix {
			dst[j] = float32(v)
		}
	}
	return out, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
