package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/databowl/backend/config"
	httpDelivery "github.com/databowl/backend/internal/delivery/http"
	"github.com/databowl/backend/internal/domain"
	"github.com/databowl/backend/internal/infrastructure/gemini"
	"github.com/databowl/backend/internal/infrastructure/ratelimit"
	"github.com/databowl/backend/internal/usecase"
	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// newCLIApp creates the CLI application. Running without a command serves HTTP.
func newCLIApp(cfg *config.Config, logger *zap.SugaredLogger) *cli.App {
	serve := serveCmd(cfg, logger)

	app := &cli.App{
		Name:    "databowl",
		Usage:   "Estimate calories and macros from a photo of a meal",
		Version: Version,
		Action:  serve.Action,
		Commands: []*cli.Command{
			serve,
			analyzeCmd(cfg, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(cfg *config.Config, logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(c *cli.Context) error {
			logger.Infow("Starting DataBowl backend",
				"version", Version,
				"environment", cfg.Server.Environment,
				"port", cfg.Server.Port,
				"model", cfg.Gemini.Model,
				"geminiReady", cfg.Gemini.Ready(),
			)
			if !cfg.Gemini.Ready() {
				logger.Warnw("No inference API key configured; /api/estimate will answer GEMINI_UNAVAILABLE")
			}

			service := newEstimateService(cfg, logger)

			var limiter *ratelimit.VisitorLimiter
			if cfg.RateLimit.PerIP > 0 {
				limiter = ratelimit.NewVisitorLimiter(cfg.RateLimit.PerIP, cfg.RateLimit.Burst, 0)
				defer limiter.Close()
			}

			handler := httpDelivery.NewHandler(service, cfg.Upload.MaxBytes, logger)
			router, err := httpDelivery.SetupRouter(cfg, handler, limiter, logger)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			return runServer(srv, cfg.Server.ShutdownTimeout, logger)
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(cfg *config.Config, logger *zap.SugaredLogger) *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Estimate nutrition for a local image and print the JSON result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Required: true, Usage: "Path to the meal photo"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("image")

			data, err := os.ReadFile(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to read image: %v", err), 1)
			}
			if int64(len(data)) > cfg.Upload.MaxBytes {
				return outputError(domain.NewImageTooLarge(cfg.Upload.MaxBytes))
			}

			image := &domain.ImageInput{
				Filename: filepath.Base(path),
				MimeType: imageMimeType(data),
				Data:     data,
			}

			service := newEstimateService(cfg, logger)
			estimate, err := service.Estimate(c.Context, image)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(c, estimate)
		},
	}
}

// newEstimateService wires the inference client when a key is configured.
// Without one the service stays unconfigured and reports itself unavailable.
func newEstimateService(cfg *config.Config, logger *zap.SugaredLogger) *usecase.EstimateService {
	var client domain.InferenceClient
	if cfg.Gemini.Ready() {
		client = gemini.NewClient(gemini.ClientConfig{
			APIKey:            cfg.Gemini.APIKey,
			BaseURL:           cfg.Gemini.BaseURL,
			Model:             cfg.Gemini.Model,
			RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		}, logger)
	}

	return usecase.NewEstimateService(client, usecase.EstimateServiceConfig{
		Timeout:      cfg.Gemini.Timeout,
		MaxAttempts:  cfg.Gemini.MaxAttempts,
		RetryBackoff: cfg.Gemini.RetryBackoff,
	}, logger)
}

// runServer serves until SIGINT/SIGTERM, then drains in-flight requests.
func runServer(srv *http.Server, shutdownTimeout time.Duration, logger *zap.SugaredLogger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Infow("Server listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		logger.Infow("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func imageMimeType(data []byte) string {
	if detected := mimetype.Detect(data).String(); strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "image/jpeg"
}

// outputJSON writes v as indented JSON to the app's writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if estErr, ok := domain.AsEstimateError(err); ok {
		if estErr.Detail != "" {
			return cli.Exit(fmt.Sprintf("[%s] %s", estErr.Code, estErr.Detail), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s]", estErr.Code), 1)
	}
	return cli.Exit(err.Error(), 1)
}
