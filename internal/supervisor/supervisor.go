// Package supervisor runs the main device loop: it polls the motion
// sensor, keeps the indicator in step with it, opens the streaming gate,
// dispatches captures and logs system health.
package supervisor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/capture"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

const (
	ReasonMotion = "motion"
	ReasonManual = "manual"
)

// Gate is the part of the streaming gate the loop drives.
type Gate interface {
	NotifyMotion()
}

// Capturer records one capture. It must return capture.ErrBusy when a
// capture is already running.
type Capturer interface {
	Trigger(ctx context.Context, reason string) (capture.Result, error)
}

// MetricsFunc contributes fields to the health log.
type MetricsFunc func() map[string]interface{}

type Supervisor struct {
	sensor    MotionSensor
	indicator Indicator
	gate      Gate
	capturer  Capturer
	cfg       config.SupervisorConfig
	logger    *zap.Logger

	queue chan string
	busy  atomic.Bool
	high  bool

	mu      sync.RWMutex
	metrics map[string]MetricsFunc

	polls       atomic.Uint64
	motions     atomic.Uint64
	sensorFails atomic.Uint64
	dropped     atomic.Uint64
}

func New(sensor MotionSensor, indicator Indicator, gate Gate, capturer Capturer, cfg config.SupervisorConfig, logger *zap.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if sensor == nil {
		sensor = NoSensor{}
	}
	if indicator == nil {
		indicator = NopIndicator{}
	}
	return &Supervisor{
		sensor:    sensor,
		indicator: indicator,
		gate:      gate,
		capturer:  capturer,
		cfg:       cfg,
		logger:    logging.OrGlobal(logger, "supervisor"),
		queue:     make(chan string, 1),
		metrics:   make(map[string]MetricsFunc),
	}
}

// RegisterMetrics adds a component to the health log.
func (s *Supervisor) RegisterMetrics(name string, fn MetricsFunc) {
	s.mu.Lock()
	s.metrics[name] = fn
	s.mu.Unlock()
}

// RequestCapture queues a capture for the worker. It returns
// capture.ErrBusy when a capture is running or already queued.
func (s *Supervisor) RequestCapture(reason string) error {
	if s.busy.Load() {
		s.dropped.Add(1)
		return capture.ErrBusy
	}
	select {
	case s.queue <- reason:
		return nil
	default:
		s.dropped.Add(1)
		return capture.ErrBusy
	}
}

// Busy reports whether a capture is running.
func (s *Supervisor) Busy() bool { return s.busy.Load() }

// Run blocks until ctx is cancelled and any running capture has finished.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.worker(ctx)
	}()

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()

	s.logger.Info("Supervisor started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("health_interval", s.cfg.HealthInterval))

	for {
		select {
		case <-ctx.Done():
			if err := s.indicator.Set(false); err != nil {
				s.logger.Warn("Failed to clear indicator", zap.Error(err))
			}
			wg.Wait()
			s.logger.Info("Supervisor stopped")
			return nil
		case <-poll.C:
			s.Poll(ctx)
		case <-health.C:
			s.logHealth()
		}
	}
}

// Poll reads the sensor once. While the level is high the motion window is
// held open; a rising edge also requests a capture.
func (s *Supervisor) Poll(ctx context.Context) {
	s.polls.Add(1)
	level, err := s.sensor.Level(ctx)
	if err != nil {
		s.sensorFails.Add(1)
		s.logger.Warn("Motion sensor read failed", zap.Error(err))
		return
	}

	if err := s.indicator.Set(level); err != nil {
		s.logger.Debug("Indicator update failed", zap.Error(err))
	}

	rising := level && !s.high
	s.high = level
	if !level {
		return
	}
	s.gate.NotifyMotion()
	if !rising {
		return
	}

	s.motions.Add(1)
	s.logger.Info("Motion detected")
	if err := s.RequestCapture(ReasonMotion); err != nil {
		s.logger.Debug("Motion capture skipped", zap.Error(err))
	}
}

func (s *Supervisor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.queue:
			s.busy.Store(true)
			_, err := s.capturer.Trigger(ctx, reason)
			s.busy.Store(false)
			if err != nil && !errors.Is(err, capture.ErrBusy) {
				s.logger.Warn("Queued capture failed", zap.String("reason", reason), zap.Error(err))
			}
		}
	}
}

func (s *Supervisor) logHealth() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []zap.Field{
		zap.Uint64("heap_alloc_kb", m.HeapAlloc/1024),
		zap.Uint64("heap_idle_kb", m.HeapIdle/1024),
		zap.Uint64("sys_kb", m.Sys/1024),
		zap.Uint32("num_gc", m.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()),
	}

	s.mu.RLock()
	for name, fn := range s.metrics {
		fields = append(fields, zap.Any(name, fn()))
	}
	s.mu.RUnlock()

	s.logger.Info("System health", fields...)
}

func (s *Supervisor) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"polls":        s.polls.Load(),
		"motions":      s.motions.Load(),
		"sensor_fails": s.sensorFails.Load(),
		"dropped":      s.dropped.Load(),
		"busy":         s.busy.Load(),
	}
}
