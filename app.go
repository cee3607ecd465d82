// Package main wires the slidegen components from configuration and exposes
// them through the HTTP server and the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"slidegen/internal/config"
	"slidegen/internal/errlog"
	"slidegen/internal/fontcheck"
	"slidegen/internal/handler"
	"slidegen/internal/imagefetch"
	"slidegen/internal/llm"
	"slidegen/internal/logging"
	"slidegen/internal/metrics"
	"slidegen/internal/parser"
	"slidegen/internal/render"
	"slidegen/internal/session"
	"slidegen/internal/slides"
)

// Services is everything one process needs, built from a Config.
type Services struct {
	App      *handler.App
	Logger   *zap.Logger
	Registry *prometheus.Registry
	ErrorLog *errlog.Writer
}

// buildOptions overrides pieces of the wiring; tests use it to stay offline.
type buildOptions struct {
	// Backend replaces the configured AI service.
	Backend llm.Completer
	// Images replaces the HTTP image fetcher; set NoImages to drop images.
	Images   render.ImageSource
	NoImages bool
	// Logger replaces the configured logger; the error log is not opened.
	Logger *zap.Logger
	Now    func() time.Time
}

// NewServices builds the pipeline described by cfg.
func NewServices(cfg *config.Config) (*Services, error) {
	return buildServices(cfg, buildOptions{})
}

func buildServices(cfg *config.Config, opts buildOptions) (*Services, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Services{Registry: prometheus.NewRegistry()}

	logger := opts.Logger
	if logger == nil {
		var err error
		if cfg.Log.Dir != "" {
			s.ErrorLog, err = errlog.Open(cfg.Log.Dir, int64(cfg.Log.RotationSizeMB)<<20)
			if err != nil {
				return nil, fmt.Errorf("open error log: %w", err)
			}
		}
		lopts := logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}
		if s.ErrorLog != nil {
			lopts.ErrorSink = s.ErrorLog
		}
		logger, err = logging.New(lopts)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	s.Logger = logger

	m, err := metrics.NewMetrics(s.Registry)
	if err != nil {
		s.Close()
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		svc := llm.NewAPILLMService(
			cfg.LLM.Endpoint,
			cfg.LLM.APIKey,
			cfg.LLM.ModelName,
			cfg.LLM.Temperature,
			cfg.LLM.MaxTokens,
			time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
		).WithLogger(logging.Named(logger, "llm"))
		svc.Observe = m.ObserveLLM
		backend = svc
	}

	images := opts.Images
	if images == nil && !opts.NoImages {
		fetcher, err := imagefetch.New(imagefetch.Options{
			Timeout:   time.Duration(cfg.Render.ImageTimeoutSeconds) * time.Second,
			MaxBytes:  int64(cfg.Render.MaxImageMB) << 20,
			CacheSize: cfg.Render.ImageCacheSize,
			TempDir:   cfg.Render.TempDir,
			Logger:    logging.Named(logger, "imagefetch"),
			Observe:   m.ObserveImageFetch,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("image fetcher: %w", err)
		}
		images = fetcher
	}

	renderer := render.New(images, logging.Named(logger, "render"))
	renderer.Observe = m.ObserveRender
	font, err := fontcheck.Resolve(context.Background(), cfg.Render.FontPath, cfg.Render.BoldFontPath, logging.Named(logger, "fontcheck"))
	switch {
	case err == nil:
		renderer.Font = font
	case errors.Is(err, fontcheck.ErrNotFound):
	default:
		s.Close()
		return nil, fmt.Errorf("render font: %w", err)
	}

	gen := slides.NewGenerator(backend, logging.Named(logger, "slides"))
	if opts.Now != nil {
		gen.Now = opts.Now
	}

	s.App = handler.NewApp(
		&parser.DocumentParser{Logger: logging.Named(logger, "parser")},
		gen,
		renderer,
		session.NewStore(),
		m,
		logging.Named(logger, "app"),
	)
	s.App.SetMaxUploadMB(cfg.Server.MaxUploadMB)
	return s, nil
}

// Close flushes the logger and closes the error log.
func (s *Services) Close() error {
	var errs []error
	if s.Logger != nil {
		// stderr sync fails on some terminals; only the file matters here
		_ = s.Logger.Sync()
	}
	if s.ErrorLog != nil {
		errs = append(errs, s.ErrorLog.Close())
	}
	return errors.Join(errs...)
}
