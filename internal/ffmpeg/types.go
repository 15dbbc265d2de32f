package ffmpeg

import (
	"io"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	Rotation   int // degrees, from display matrix or rotate tag
	FPS        float64
	VideoCodec string
}

// DisplaySize returns the frame size ffmpeg emits after autorotation.
func (v *VideoInfo) DisplaySize() (width, height int) {
	if v.Rotation%180 != 0 {
		return v.Height, v.Width
	}
	return v.Width, v.Height
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler ProgressFunc
	LogHandler      func(line string)
	// Stdout receives raw stdout bytes. When nil, stdout is line-scanned into
	// LogHandler.
	Stdout io.Writer
}

// ProgressFunc is called once per progress block ffmpeg reports.
type ProgressFunc func(*Progress)

// Frame sampling defaults.
const (
	DefaultWindow = 5 * time.Second
	DefaultStride = 5
)

// FrameOptions controls which frames ExtractFrames returns.
type FrameOptions struct {
	// Window bounds decoding to the first Window of presentation time.
	Window time.Duration
	// Stride keeps every Stride-th decoded frame, starting with the first.
	Stride int
	// MaxFrames truncates the result when > 0.
	MaxFrames int
	// Width and Height downscale in ffmpeg before frames are piped out.
	// Both must be > 0 to take effect.
	Width  int
	Height int
}

// DefaultFrameOptions returns the 5 second / every 5th frame sampling.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		Window: DefaultWindow,
		Stride: DefaultStride,
	}
}
