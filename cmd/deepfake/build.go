package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kikiluvv/deepfake-detection/internal/ai"
	"github.com/kikiluvv/deepfake-detection/internal/config"
	"github.com/kikiluvv/deepfake-detection/internal/dataset"
	"github.com/kikiluvv/deepfake-detection/internal/ffmpeg"
	"github.com/kikiluvv/deepfake-detection/internal/metrics"
	"github.com/kikiluvv/deepfake-detection/internal/pipeline"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

func newExtractor(cfg *config.Config, logger zerolog.Logger) (*ffmpeg.FrameExtractor, error) {
	exec, err := ffmpeg.NewWithBinaries(logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}
	return ffmpeg.NewFrameExtractor(exec, ffmpeg.FrameOptions{
		Window:    cfg.FFmpeg.Window,
		Stride:    cfg.FFmpeg.Stride,
		MaxFrames: cfg.FFmpeg.MaxFrames,
	}), nil
}

func newPipeline(cfg *config.Config, logger zerolog.Logger) (*pipeline.Pipeline, error) {
	return pipeline.Build(pipeline.Options{
		ImageSize:   cfg.Dataset.ImageSize,
		FaceModel:   cfg.AI.FaceModel,
		Device:      cfg.ComputeDevice(),
		OnnxLibrary: cfg.AI.OnnxLibrary,
		Logger:      logger,
	})
}

// openDataset builds the dataset described by cfg around the given extractor
// and pipeline.
func openDataset(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, extractor dataset.FrameExtractor, pipe *pipeline.Pipeline) (*dataset.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return dataset.New(dataset.Options{
		DataDir:        cfg.DataDir,
		MetadataFile:   cfg.MetadataFile,
		CacheDir:       cfg.Cache.Dir,
		ReuseCache:     cfg.Cache.Reuse,
		Filter:         dataset.HasExtension(cfg.Dataset.Extension),
		Extractor:      extractor,
		Pipeline:       pipe,
		ImageSize:      cfg.Dataset.ImageSize,
		SequenceLength: cfg.Dataset.SequenceLength,
		Logger:         logger,
		Metrics:        m,
	})
}

// noExtraction serves datasets that are only listed, never read.
type noExtraction struct{}

func (noExtraction) Extract(_ context.Context, videoPath string) (tensor.FrameSequence, error) {
	return nil, fmt.Errorf("%s: frame extraction is disabled", videoPath)
}

func newModel(cfg *config.Config, logger zerolog.Logger) (*ai.RCNN, error) {
	weights, err := ai.LoadHeadWeights(cfg.AI.HeadWeights)
	if err != nil {
		return nil, err
	}

	encOpts := ai.DefaultEncoderOptions(cfg.AI.EncoderModel)
	encOpts.Device = cfg.ComputeDevice()
	encOpts.OnnxLibrary = cfg.AI.OnnxLibrary
	if cfg.AI.EncoderFeatures > 0 {
		encOpts.Features = cfg.AI.EncoderFeatures
	}
	encoder, err := ai.NewONNXEncoder(logger, encOpts)
	if err != nil {
		return nil, fmt.Errorf("frame encoder: %w", err)
	}

	model, err := ai.NewRCNN(logger, encoder, weights)
	if err != nil {
		encoder.Close()
		return nil, err
	}
	return model, nil
}
