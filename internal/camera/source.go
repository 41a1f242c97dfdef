// Package camera owns the image sensor and hands out compressed frames
// from a fixed set of reusable buffers.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

// ErrSensorFault wraps driver failures.
var ErrSensorFault = errors.New("camera: sensor fault")

// Frame is one JPEG image. It stays valid until passed to Release.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Seq       uint64

	slot *slot
}

func (f *Frame) Len() int { return len(f.Data) }

// SensorConfig is fixed for the lifetime of a Source.
type SensorConfig struct {
	Width       int
	Height      int
	Quality     int
	FrameRate   int
	BufferCount int
}

// Sensor is an image sensor driver. Capture appends one JPEG frame to dst
// and returns the extended slice. It must be safe for concurrent use.
type Sensor interface {
	Configure(cfg SensorConfig) error
	Capture(ctx context.Context, dst []byte) ([]byte, error)
	Close() error
}

// Source produces frames for any number of concurrent consumers.
type Source struct {
	sensor Sensor
	pool   *Pool
	cfg    SensorConfig
	logger *zap.Logger

	seq      atomic.Uint64
	captured atomic.Uint64
	faults   atomic.Uint64
}

// BufferCount is the slot count for the memory profile: three buffers with
// extra memory, otherwise two.
func BufferCount(extraMemory bool) int {
	if extraMemory {
		return 3
	}
	return 2
}

// SensorConfigFrom derives the static sensor configuration.
func SensorConfigFrom(c config.CameraConfig) SensorConfig {
	return SensorConfig{
		Width:       c.Width,
		Height:      c.Height,
		Quality:     c.Quality,
		FrameRate:   c.FrameRate,
		BufferCount: BufferCount(c.ExtraMemory),
	}
}

// frameBufferSize is the initial capacity of each slot: one byte per pixel
// holds any JPEG at the qualities the device uses. Slots grow if needed.
func frameBufferSize(cfg SensorConfig) int {
	return cfg.Width * cfg.Height
}

// Open configures the sensor and allocates the frame pool. A failure here
// means the camera is unusable.
func Open(sensor Sensor, cfg SensorConfig, acquireWait time.Duration, logger *zap.Logger) (*Source, error) {
	logger = logging.OrGlobal(logger, "camera")
	if cfg.BufferCount < 1 {
		cfg.BufferCount = 2
	}
	if err := sensor.Configure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure sensor: %w: %w", ErrSensorFault, err)
	}
	logger.Info("Camera ready",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("quality", cfg.Quality),
		zap.Int("buffers", cfg.BufferCount))
	return &Source{
		sensor: sensor,
		pool:   NewPool(cfg.BufferCount, frameBufferSize(cfg), acquireWait),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (s *Source) Config() SensorConfig { return s.cfg }

// Acquire checks out a buffer and fills it with the next frame. The caller
// owns the frame until Release.
func (s *Source) Acquire(ctx context.Context) (*Frame, error) {
	sl, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.sensor.Capture(ctx, sl.buf[:0])
	if err != nil {
		s.pool.Return(sl)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.faults.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrSensorFault, err)
	}
	// Keep a grown buffer for the next use of this slot.
	sl.buf = data
	s.captured.Add(1)
	return &Frame{
		Data:      data,
		Timestamp: time.Now(),
		Seq:       s.seq.Add(1),
		slot:      sl,
	}, nil
}

// Release returns the frame's buffer to the pool. The frame must not be
// used afterwards. Releasing twice is harmless.
func (s *Source) Release(f *Frame) {
	if f == nil || f.slot == nil {
		return
	}
	sl := f.slot
	f.slot = nil
	f.Data = nil
	s.pool.Return(sl)
}

func (s *Source) Close() error {
	return s.sensor.Close()
}

func (s *Source) Metrics() map[string]interface{} {
	m := s.pool.Metrics()
	m["frames_captured"] = s.captured.Load()
	m["sensor_faults"] = s.faults.Load()
	return m
}
