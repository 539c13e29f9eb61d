package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zanzhit/camera_dvr/internal/config"
	"github.com/zanzhit/camera_dvr/internal/dvr/ffmpeg"
	"github.com/zanzhit/camera_dvr/internal/dvr/segment"
	authhandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/auth"
	deviceshandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/devices"
	"github.com/zanzhit/camera_dvr/internal/http-server/router"
	"github.com/zanzhit/camera_dvr/internal/lib/process"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
	authservice "github.com/zanzhit/camera_dvr/internal/services/auth"
	"github.com/zanzhit/camera_dvr/internal/services/recorder"
	"github.com/zanzhit/camera_dvr/internal/services/retention"
	"github.com/zanzhit/camera_dvr/internal/services/thumbnails"
	"github.com/zanzhit/camera_dvr/internal/storage/postgres"
	authstorage "github.com/zanzhit/camera_dvr/internal/storage/postgres/auth"
	devicestorage "github.com/zanzhit/camera_dvr/internal/storage/postgres/devices"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting application", slog.String("env", cfg.Env), slog.Int("devices", len(cfg.Devices)))

	if cfg.DB.Password == "" {
		panic("POSTGRES_PASSWORD is required")
	}

	storage, err := postgres.New(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer storage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authStorage := authstorage.New(storage)
	deviceStorage := devicestorage.New(storage)

	authService := authservice.New(log, authStorage, authStorage, cfg.TokenTTL, cfg.Secret)

	if err := authService.CreateInitialOperator(ctx, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		panic(err)
	}

	launcher := process.New(log)
	registry := recorder.NewRegistry(log)

	for _, d := range cfg.Devices {
		registry.Add(newController(log, cfg.FFmpeg, d, deviceStorage, launcher))
	}

	handler := router.New(
		log,
		cfg.Secret,
		authhandler.New(log, authService),
		deviceshandler.New(log, registry, deviceStorage, deviceStorage),
	)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		registry.Run(gctx, cfg.TickInterval)

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Info("stopping application")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop server", sl.Err(err))
		}

		return registry.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", sl.Err(err))

		os.Exit(1)
	}

	log.Info("application stopped")
}

func newController(
	log *slog.Logger,
	ffmpegBinary string,
	d config.Device,
	deviceStorage *devicestorage.DeviceStorage,
	launcher *process.Exec,
) *recorder.Controller {
	layout := segment.Layout{Root: d.Root}
	translator := ffmpeg.New(ffmpegBinary, layout)

	return recorder.New(
		log,
		recorder.Device{
			ID:    d.ID,
			Title: d.Title,
			Camera: ffmpeg.Camera{
				Address:  d.Address,
				Username: d.Username,
				Password: d.Password,
			},
			Layout:         layout,
			Delay:          d.DelayDuration(),
			SegmentLength:  d.SegmentLength(),
			ByteLimit:      d.ByteLimitBytes(),
			ThumbByteLimit: d.ThumbByteLimitBytes(),
		},
		deviceStorage,
		translator,
		launcher,
		retention.New(log, d.ID, layout, deviceStorage),
		thumbnails.New(log, d.ID, layout, translator, launcher, deviceStorage),
	)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
