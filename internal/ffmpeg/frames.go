package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
	"github.com/kikiluvv/deepfake-detection/pkg/util"
)

const stderrTail = 8

// ExtractFrames decodes the first opts.Window of a video, keeps every
// opts.Stride-th frame and returns them as (C, H, W) float64 frames with
// samples in [0, 255]. Any decode problem is a DecodeError; there is no
// partial-frame fallback.
func (e *Executor) ExtractFrames(ctx context.Context, videoPath string, opts FrameOptions) (tensor.FrameSequence, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Stride <= 0 {
		opts.Stride = DefaultStride
	}

	info, err := e.ProbeVideo(ctx, videoPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.DecodeError{Path: videoPath, Err: err}
	}

	width, height := info.DisplaySize()
	if opts.Width > 0 && opts.Height > 0 {
		width, height = opts.Width, opts.Height
	}
	if width <= 0 || height <= 0 {
		return nil, &errs.DecodeError{Path: videoPath, Err: errors.New("no video stream")}
	}

	filter := NewFilterBuilder().
		SelectEvery(opts.Stride).
		Scale(opts.Width, opts.Height).
		Format("rgb24").
		Build()

	args := []string{
		"-t", util.FormatDuration(opts.Window),
		"-i", videoPath,
		"-an",
		"-vf", filter,
		"-vsync", "vfr",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}

	sink := newFrameSink(width, height, opts.MaxFrames)
	var tail []string

	e.logger.Debug().
		Str("input", videoPath).
		Str("codec", info.VideoCodec).
		Dur("duration", info.Duration).
		Float64("fps", info.FPS).
		Int("rotation", info.Rotation).
		Int("width", width).
		Int("height", height).
		Dur("window", opts.Window).
		Int("stride", opts.Stride).
		Msg("extracting frames")

	err = e.Run(ctx, RunOptions{
		Args:   args,
		Stdout: sink,
		ProgressHandler: func(p *Progress) {
			e.logger.Debug().
				Str("input", videoPath).
				Int("frame", p.Frame).
				Float64("fps", p.FPS).
				Str("bitrate", p.Bitrate).
				Str("out_time", p.Time).
				Str("speed", p.Speed).
				Msg("decoding")
		},
		LogHandler: func(line string) {
			// progress blocks are bare key=value lines; keep real log lines
			if !strings.Contains(line, " ") {
				return
			}
			tail = append(tail, line)
			if len(tail) > stderrTail {
				tail = tail[1:]
			}
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.DecodeError{
			Path: videoPath,
			Err:  fmt.Errorf("%w: %s", err, strings.Join(tail, " | ")),
		}
	}

	if sink.pending() > 0 {
		return nil, &errs.DecodeError{
			Path: videoPath,
			Err:  fmt.Errorf("truncated frame: %d of %d bytes", sink.pending(), sink.frameSize),
		}
	}
	if len(sink.frames) == 0 {
		return nil, &errs.DecodeError{Path: videoPath, Err: errors.New("no frames decoded")}
	}

	e.logger.Debug().
		Str("input", videoPath).
		Int("frames", len(sink.frames)).
		Msg("frames extracted")

	return sink.frames, nil
}

// frameSink splits a packed rgb24 stream into frames as bytes arrive, so the
// raw video never sits in memory as one buffer.
type frameSink struct {
	width, height int
	frameSize     int
	maxFrames     int

	buf    []byte
	frames tensor.FrameSequence
	full   bool
}

func newFrameSink(width, height, maxFrames int) *frameSink {
	size := width * height * tensor.Channels
	return &frameSink{
		width:     width,
		height:    height,
		frameSize: size,
		maxFrames: maxFrames,
		buf:       make([]byte, 0, size),
	}
}

func (s *frameSink) Write(p []byte) (int, error) {
	n := len(p)
	if s.full {
		return n, nil
	}
	for len(p) > 0 {
		take := s.frameSize - len(s.buf)
		if take > len(p) {
			take = len(p)
		}
		s.buf = append(s.buf, p[:take]...)
		p = p[take:]

		if len(s.buf) == s.frameSize {
			s.frames = append(s.frames, planarize(s.buf, s.width, s.height))
			s.buf = s.buf[:0]
			if s.maxFrames > 0 && len(s.frames) >= s.maxFrames {
				s.full = true
				return n, nil
			}
		}
	}
	return n, nil
}

func (s *frameSink) pending() int {
	if s.full {
		return 0
	}
	return len(s.buf)
}

// planarize converts packed HWC bytes to a CHW float64 frame.
func planarize(rgb []byte, width, height int) tensor.Frame {
	f := tensor.NewFrame(tensor.Channels, height, width)
	plane := width * height
	for i := 0; i < plane; i++ {
		f.Pix[i] = float64(rgb[3*i])
		f.Pix[plane+i] = float64(rgb[3*i+1])
		f.Pix[2*plane+i] = float64(rgb[3*i+2])
	}
	return f
}

// FrameExtractor binds an Executor to fixed sampling options.
type FrameExtractor struct {
	exec *Executor
	opts FrameOptions
}

// NewFrameExtractor returns an extractor that samples every video the same way.
func NewFrameExtractor(exec *Executor, opts FrameOptions) *FrameExtractor {
	return &FrameExtractor{exec: exec, opts: opts}
}

// Extract decodes the frame sequence of one video.
func (f *FrameExtractor) Extract(ctx context.Context, videoPath string) (tensor.FrameSequence, error) {
	return f.exec.ExtractFrames(ctx, videoPath, f.opts)
}
