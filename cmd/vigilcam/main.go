package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
	"github.com/mikeyg42/vigilcam/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides the configuration)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := validate.ValidateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, flush, err := logging.Install(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		var camErr *cameraError
		if errors.As(err, &camErr) {
			// Exit non-zero so the service manager restarts the process.
			logger.Error("Camera initialization failed, restarting",
				zap.Duration("delay", cfg.Supervisor.RestartDelay),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Supervisor.RestartDelay):
			}
			flush()
			os.Exit(1)
		}
		flush()
		log.Fatalf("Failed to create application: %v", err)
	}

	runErr := app.Run(ctx)
	app.Cleanup()
	if runErr != nil {
		logger.Error("Application stopped with error", zap.Error(runErr))
		flush()
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
	flush()
}
