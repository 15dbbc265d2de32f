package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
	"github.com/kikiluvv/deepfake-detection/internal/onnx"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes every environment override, e.g. DEEPFAKE_CACHE_DIR.
const EnvPrefix = "DEEPFAKE_"

// Config holds all application configuration
type Config struct {
	// Dataset settings
	DataDir      string `yaml:"data_dir" env:"DATA_DIR"`
	MetadataFile string `yaml:"metadata_file" env:"METADATA_FILE"`

	Cache   CacheConfig   `yaml:"cache" envPrefix:"CACHE_"`
	Dataset DatasetConfig `yaml:"dataset" envPrefix:"DATASET_"`

	// Device is "cpu", "cuda" or "cuda:N" for every ONNX session.
	Device string `yaml:"device" env:"DEVICE"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg" envPrefix:"FFMPEG_"`

	// AI settings
	AI AIConfig `yaml:"ai" envPrefix:"AI_"`

	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

type CacheConfig struct {
	Dir   string `yaml:"dir" env:"DIR"`
	Reuse bool   `yaml:"reuse" env:"REUSE"`
}

type DatasetConfig struct {
	Extension      string `yaml:"extension" env:"EXTENSION"`
	ImageSize      int    `yaml:"image_size" env:"IMAGE_SIZE"`
	SequenceLength int    `yaml:"sequence_length" env:"SEQUENCE_LENGTH"`
	Workers        int    `yaml:"workers" env:"WORKERS"`
}

type FFmpegConfig struct {
	BinaryPath string        `yaml:"binary_path" env:"BINARY_PATH"`
	ProbePath  string        `yaml:"probe_path" env:"PROBE_PATH"`
	Threads    int           `yaml:"threads" env:"THREADS"`
	Window     time.Duration `yaml:"window" env:"WINDOW"`
	Stride     int           `yaml:"stride" env:"STRIDE"`
	MaxFrames  int           `yaml:"max_frames" env:"MAX_FRAMES"`
}

type AIConfig struct {
	// FaceModel enables the face-aware pipeline when set.
	FaceModel       string `yaml:"face_model" env:"FACE_MODEL"`
	EncoderModel    string `yaml:"encoder_model" env:"ENCODER_MODEL"`
	EncoderFeatures int    `yaml:"encoder_features" env:"ENCODER_FEATURES"`
	HeadWeights     string `yaml:"head_weights" env:"HEAD_WEIGHTS"`
	OnnxLibrary     string `yaml:"onnx_library" env:"ONNX_LIBRARY"`
}

type MetricsConfig struct {
	// Addr serves /metrics during prepare when non-empty, e.g. ":9090".
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads configuration from file, then applies DEEPFAKE_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, &errs.ConfigurationError{Op: "parse config", Path: path, Err: err}
			}
		case !os.IsNotExist(err):
			return nil, &errs.ConfigurationError{Op: "read config", Path: path, Err: err}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, &errs.ConfigurationError{Op: "environment", Err: err}
	}

	return cfg, nil
}

// Validate checks the settings a dataset needs.
func (c *Config) Validate() error {
	var problems []error
	if c.DataDir == "" {
		problems = append(problems, errors.New("data_dir is required"))
	}
	if c.Cache.Dir == "" {
		problems = append(problems, errors.New("cache.dir is required"))
	}
	if c.Dataset.ImageSize <= 0 {
		problems = append(problems, fmt.Errorf("dataset.image_size must be positive, got %d", c.Dataset.ImageSize))
	}
	if c.Dataset.SequenceLength <= 0 {
		problems = append(problems, fmt.Errorf("dataset.sequence_length must be positive, got %d", c.Dataset.SequenceLength))
	}
	if c.FFmpeg.Stride <= 0 {
		problems = append(problems, fmt.Errorf("ffmpeg.stride must be positive, got %d", c.FFmpeg.Stride))
	}
	if c.FFmpeg.Window <= 0 {
		problems = append(problems, fmt.Errorf("ffmpeg.window must be positive, got %s", c.FFmpeg.Window))
	}
	if _, err := onnx.ParseDevice(c.Device); err != nil {
		problems = append(problems, err)
	}
	if err := errors.Join(problems...); err != nil {
		return &errs.ConfigurationError{Op: "validate config", Err: err}
	}
	return nil
}

// ComputeDevice returns the parsed device; call Validate first.
func (c *Config) ComputeDevice() onnx.Device {
	d, err := onnx.ParseDevice(c.Device)
	if err != nil {
		return onnx.CPU
	}
	return d
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration. Cache.Dir has no default.
func Default() *Config { return defaultConfig() }

func defaultConfig() *Config {
	return &Config{
		DataDir:      "./data",
		MetadataFile: "metadata.json",
		Dataset: DatasetConfig{
			Extension:      ".mp4",
			ImageSize:      224,
			SequenceLength: 30,
			Workers:        4,
		},
		Device: string(onnx.CPU),
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
			Window:     5 * time.Second,
			Stride:     5,
		},
		AI: AIConfig{
			EncoderModel:    "./models/resnet18-headless.onnx",
			EncoderFeatures: 512,
			HeadWeights:     "./models/rcnn-head.json",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".deepfake", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
