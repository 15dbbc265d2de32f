package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kikiluvv/deepfake-detection/internal/config"
	"github.com/kikiluvv/deepfake-detection/internal/dataset"
	"github.com/kikiluvv/deepfake-detection/internal/labels"
	"github.com/kikiluvv/deepfake-detection/internal/logging"
	"github.com/kikiluvv/deepfake-detection/internal/metrics"
	"github.com/kikiluvv/deepfake-detection/internal/pipeline"
	"github.com/kikiluvv/deepfake-detection/pkg/util"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Extract, transform and cache every video in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		flags := cmd.Flags()
		if flags.Changed("reuse") {
			cfg.Cache.Reuse, _ = flags.GetBool("reuse")
		}
		if flags.Changed("workers") {
			cfg.Dataset.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("metrics-addr") {
			cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
		}

		logger := logging.WithComponent("prepare")
		if err := cfg.Validate(); err != nil {
			return err
		}

		m := metrics.New()
		if cfg.Metrics.Addr != "" {
			srv := serveMetrics(cfg.Metrics.Addr, m)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}

		extractor, err := newExtractor(cfg, log.Logger)
		if err != nil {
			return err
		}
		pipe, err := newPipeline(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer pipe.Close()

		ds, err := openDataset(cfg, log.Logger, m, extractor, pipe)
		if err != nil {
			return err
		}

		start := time.Now()
		if err := ds.Warm(cmd.Context(), cfg.Dataset.Workers); err != nil {
			return err
		}

		logger.Info().
			Int("videos", ds.Len()).
			Str("cache_dir", cfg.Cache.Dir).
			Dur("elapsed", time.Since(start)).
			Msg("prepare complete")
		return nil
	},
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := logging.WithComponent("metrics")
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show dataset size, label balance and cache coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		// never wipe the cache just to look at it
		cfg.Cache.Reuse = true

		// listing needs neither ffmpeg nor the face detector
		ds, err := openDataset(cfg, log.Logger, nil, noExtraction{}, pipeline.Default(cfg.Dataset.ImageSize))
		if err != nil {
			return err
		}

		ids, err := ds.Labels()
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, id := range ids {
			counts[labels.ClassName(id)]++
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)

		cached := 0
		for _, r := range ds.Records() {
			if r.Cached {
				cached++
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "videos:    %d\n", ds.Len())
		for _, name := range names {
			fmt.Fprintf(out, "  %-6s   %d\n", name, counts[name])
		}
		fmt.Fprintf(out, "cached:    %d/%d\n", cached, ds.Len())
		fmt.Fprintf(out, "cache dir: %s\n", cfg.Cache.Dir)
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [video...]",
	Short: "Classify videos as REAL or FAKE",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		logger := logging.WithComponent("classify")

		extractor, err := newExtractor(cfg, log.Logger)
		if err != nil {
			return err
		}
		pipe, err := newPipeline(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer pipe.Close()

		model, err := newModel(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer model.Close()

		out := cmd.OutOrStdout()
		for _, path := range args {
			frames, err := extractor.Extract(cmd.Context(), path)
			if err != nil {
				return err
			}
			t, err := pipe.ApplySequence(dataset.FitLength(frames, cfg.Dataset.SequenceLength))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id, probs, err := model.Predict(cmd.Context(), t)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			logger.Debug().
				Str("video", path).
				Int("frames", len(frames)).
				Ints("shape", t.Shape).
				Floats32("probs", probs).
				Msg("classified")
			fmt.Fprintf(out, "%s\t%s\t%.4f\n", filepath.Base(path), labels.ClassName(id), probs[id])
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if util.FileExists(path) && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := util.EnsureDir(filepath.Dir(path)); err != nil {
			return err
		}

		cfg := config.Default()
		cfg.Cache.Dir = "./cache"
		if err := cfg.Save(path); err != nil {
			return err
		}
		logger := logging.WithComponent("config")
		logger.Info().Str("path", path).Msg("config written")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.FromContext(cmd.Context()).Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	prepareCmd.Flags().Bool("reuse", false, "keep entries already in the cache directory")
	prepareCmd.Flags().Int("workers", 4, "videos processed in parallel")
	prepareCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
