package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/api"
	"github.com/mikeyg42/vigilcam/internal/camera"
	"github.com/mikeyg42/vigilcam/internal/capture"
	"github.com/mikeyg42/vigilcam/internal/catalog"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/crypto"
	"github.com/mikeyg42/vigilcam/internal/gate"
	"github.com/mikeyg42/vigilcam/internal/journal"
	"github.com/mikeyg42/vigilcam/internal/kvstore"
	"github.com/mikeyg42/vigilcam/internal/settings"
	"github.com/mikeyg42/vigilcam/internal/storage"
	"github.com/mikeyg42/vigilcam/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

// cameraError marks a frame source startup failure, which ends the process
// after the restart delay.
type cameraError struct{ err error }

func (e *cameraError) Error() string { return "camera: " + e.err.Error() }
func (e *cameraError) Unwrap() error { return e.err }

// Application struct that holds all components
type Application struct {
	config *config.Config
	logger *zap.Logger

	kv         *kvstore.Store
	settings   *settings.Store
	store      storage.ObjectStore
	mirror     *storage.Mirror
	engine     *crypto.Engine
	source     *camera.Source
	gate       *gate.Gate
	capture    *capture.Controller
	journal    *journal.PostgresJournal
	supervisor *supervisor.Supervisor
	server     *api.Server
}

type metricsProvider interface {
	GetMetrics() map[string]interface{}
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}
	if err := app.init(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

func (app *Application) init(ctx context.Context) error {
	cfg := app.config
	logger := app.logger

	var err error
	app.kv, err = kvstore.Open(cfg.KV, logger.Named("kv"))
	if err != nil {
		return err
	}
	app.settings = settings.Load(app.kv, cfg.Motion, logger.Named("settings"))

	if err := app.openStorage(ctx); err != nil {
		return err
	}

	app.engine = crypto.NewEngine(app.kv, app.store, logger.Named("crypto"))
	if err := app.engine.Init(); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	sensor, err := newSensor(cfg.Camera, logger)
	if err != nil {
		return err
	}
	app.source, err = camera.Open(sensor, camera.SensorConfigFrom(cfg.Camera), cfg.Camera.AcquireTimeout, logger.Named("camera"))
	if err != nil {
		sensor.Close()
		return &cameraError{err: err}
	}

	app.gate = gate.New(app.settings, logger.Named("gate"))

	app.capture, err = capture.New(app.source, app.engine, app.settings, app.kv, cfg.Capture, logger.Named("capture"))
	if err != nil {
		return err
	}
	if app.mirror != nil {
		app.capture.AddObserver(func(_ context.Context, r capture.Result) {
			app.mirror.Enqueue(r.Name)
		})
	}
	if cfg.Journal.Enabled {
		app.journal, err = journal.Open(ctx, cfg.Journal, logger.Named("journal"))
		if err != nil {
			// Captures do not depend on the journal.
			logger.Warn("Capture journal unavailable, continuing without it", zap.Error(err))
			app.journal = nil
		} else {
			app.capture.AddObserver(app.journal.Observer())
		}
	}

	motionSensor, err := supervisor.NewSensor(cfg.Supervisor)
	if err != nil {
		return err
	}
	app.supervisor = supervisor.New(motionSensor, supervisor.NewIndicator(cfg.Supervisor),
		app.gate, app.capture, cfg.Supervisor, logger.Named("supervisor"))
	app.registerMetrics()

	deps := api.Deps{
		Frames:   app.source,
		Gate:     app.gate,
		Settings: app.settings,
		Catalog:  catalog.New(app.store, app.engine, cfg.Storage.MaxFiles, logger.Named("catalog")),
		Capture:  app.supervisor,
	}
	if app.journal != nil {
		deps.Journal = app.journal
	}
	app.server = api.NewServer(cfg.Server, deps, logger.Named("api"))
	return nil
}

// openStorage picks the storage root. With mirroring the local root is
// primary and MinIO receives copies.
func (app *Application) openStorage(ctx context.Context) error {
	cfg := app.config.Storage
	switch cfg.Type {
	case "minio":
		store, err := storage.NewMinIOStore(ctx, cfg.MinIO, app.logger.Named("minio"))
		if err != nil {
			return fmt.Errorf("failed to open minio storage: %w", err)
		}
		app.store = store
	case "", "local":
		local := storage.NewLocalStore(cfg.Root, app.logger.Named("local-store"))
		if err := local.HealthCheck(ctx); err != nil {
			app.logger.Warn("Storage root not mounted", zap.String("root", cfg.Root), zap.Error(err))
		}
		app.store = local
		if cfg.Mirror {
			remote, err := storage.NewMinIOStore(ctx, cfg.MinIO, app.logger.Named("minio"))
			if err != nil {
				return fmt.Errorf("failed to open mirror storage: %w", err)
			}
			app.mirror = storage.NewMirror(local, remote, 0, app.logger.Named("mirror"))
		}
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Type)
	}
	return nil
}

func newSensor(cfg config.CameraConfig, logger *zap.Logger) (camera.Sensor, error) {
	switch cfg.Driver {
	case "", "pattern":
		return &camera.PatternSensor{}, nil
	case "pipe":
		return camera.NewPipeSensor(cfg.Command, cfg.Args, logger.Named("pipe-sensor")), nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}
}

func (app *Application) registerMetrics() {
	app.supervisor.RegisterMetrics("camera", app.source.Metrics)
	app.supervisor.RegisterMetrics("capture", app.capture.GetMetrics)
	app.supervisor.RegisterMetrics("kv", app.kv.GetMetrics)
	if m, ok := app.store.(metricsProvider); ok {
		app.supervisor.RegisterMetrics("storage", m.GetMetrics)
	}
	if app.mirror != nil {
		app.supervisor.RegisterMetrics("mirror", app.mirror.GetMetrics)
	}
}

// Run serves until ctx is cancelled or the HTTP server fails, then shuts
// down. A capture in progress is finished and saved before Run returns.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if app.mirror != nil {
		app.mirror.Start(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.supervisor.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.server.Start()
	}()

	app.logger.Info("vigilcam running",
		zap.String("addr", app.config.Server.Addr),
		zap.String("camera", app.config.Camera.Driver),
		zap.String("storage", app.config.Storage.Type))

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("Shutdown requested")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	wg.Wait()
	if app.mirror != nil {
		app.mirror.Wait()
	}
	return runErr
}

// Cleanup releases everything NewApplication opened. It is safe on a
// partially built Application.
func (app *Application) Cleanup() {
	if app.source != nil {
		if err := app.source.Close(); err != nil {
			app.logger.Warn("Failed to close camera", zap.Error(err))
		}
	}
	if app.journal != nil {
		app.journal.Close()
	}
	if app.kv != nil {
		if err := app.kv.Close(); err != nil {
			app.logger.Warn("Failed to close kv store", zap.Error(err))
		}
	}
}
