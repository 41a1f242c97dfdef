// Package capture records photos and short videos when motion is detected
// and saves them encrypted.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/camera"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/kvstore"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

var (
	// ErrBusy is returned when a capture is already running.
	ErrBusy = errors.New("capture: already in progress")
	// ErrNoFrames means a video session ended without a single frame.
	ErrNoFrames = errors.New("capture: no frames captured")
)

const (
	counterNamespace = "capture"
	counterKey       = "file_counter"
)

type State int32

const (
	Idle State = iota
	CapturingPhoto
	CapturingVideo
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CapturingPhoto:
		return "capturing_photo"
	case CapturingVideo:
		return "capturing_video"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Result describes a saved capture.
type Result struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	Size      int           `json:"size"`
	Frames    int           `json:"frames"`
	Skipped   int           `json:"skipped"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason"`
	SavedAt   time.Time     `json:"saved_at"`
}

// FrameSource hands out frames that must be released after use.
type FrameSource interface {
	Acquire(ctx context.Context) (*camera.Frame, error)
	Release(f *camera.Frame)
}

// Saver persists a capture and returns the stored name.
type Saver interface {
	SaveFile(ctx context.Context, name string, plaintext []byte) (string, error)
}

// Settings supplies the capture mode and video length at trigger time.
type Settings interface {
	CaptureMode() config.CaptureMode
	VideoDuration() time.Duration
}

// Observer is told about every successful save.
type Observer func(ctx context.Context, r Result)

type Controller struct {
	src      FrameSource
	saver    Saver
	settings Settings
	kv       kvstore.KV
	cfg      config.CaptureConfig
	logger   *zap.Logger

	state   atomic.Int32
	counter atomic.Uint32

	mu        sync.RWMutex
	observers []Observer

	photos atomic.Uint64
	videos atomic.Uint64
	fails  atomic.Uint64
}

// New restores the file counter from kv; a missing counter starts at zero.
func New(src FrameSource, saver Saver, settings Settings, kv kvstore.KV, cfg config.CaptureConfig, logger *zap.Logger) (*Controller, error) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 100 * time.Millisecond
	}
	c := &Controller{
		src:      src,
		saver:    saver,
		settings: settings,
		kv:       kv,
		cfg:      cfg,
		logger:   logging.OrGlobal(logger, "capture"),
	}

	n, err := kvstore.GetUint32(kv, counterNamespace, counterKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load file counter: %w", err)
	default:
		c.counter.Store(n)
	}
	c.logger.Info("Capture controller ready", zap.Uint32("file_counter", c.counter.Load()))
	return c, nil
}

func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) Counter() uint32 { return c.counter.Load() }

// Trigger records one photo or video according to the current mode. Only
// one capture runs at a time; a concurrent call gets ErrBusy. Cancelling
// ctx ends a video early; what was recorded is still saved.
func (c *Controller) Trigger(ctx context.Context, reason string) (Result, error) {
	mode := c.settings.CaptureMode()
	next := CapturingPhoto
	if mode == config.CaptureModeVideo {
		next = CapturingVideo
	}
	if !c.state.CompareAndSwap(int32(Idle), int32(next)) {
		return Result{}, ErrBusy
	}
	defer c.state.Store(int32(Idle))

	res := Result{ID: uuid.New().String(), Reason: reason}
	log := c.logger.With(zap.String("capture_id", res.ID), zap.String("reason", reason))

	var err error
	if next == CapturingVideo {
		res.Kind = KindVideo
		err = c.captureVideo(ctx, &res, log)
	} else {
		res.Kind = KindPhoto
		err = c.capturePhoto(ctx, &res, log)
	}
	if err != nil {
		c.fails.Add(1)
		log.Error("Capture failed", zap.String("kind", string(res.Kind)), zap.Error(err))
		return Result{}, err
	}

	if res.Kind == KindVideo {
		c.videos.Add(1)
	} else {
		c.photos.Add(1)
	}
	log.Info("Capture saved",
		zap.String("name", res.Name),
		zap.String("kind", string(res.Kind)),
		zap.Int("size", res.Size),
		zap.Int("frames", res.Frames),
		zap.Duration("duration", res.Duration))
	c.notify(ctx, res)
	return res, nil
}

func (c *Controller) capturePhoto(ctx context.Context, res *Result, log *zap.Logger) error {
	start := time.Now()
	frame, err := c.src.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire frame: %w", err)
	}
	// Copy out so the buffer goes straight back to the pool.
	data := bytes.Clone(frame.Data)
	c.src.Release(frame)

	res.Frames = 1
	res.Duration = time.Since(start)
	return c.save(ctx, "IMG", ".jpg", data, res, log)
}

func (c *Controller) captureVideo(ctx context.Context, res *Result, log *zap.Logger) error {
	duration := c.settings.VideoDuration()
	st := newStaging(c.cfg.GrowthStep, c.cfg.MaxBuffer)
	start := time.Now()
	deadline := start.Add(duration)

	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	log.Info("Video capture started", zap.Duration("duration", duration))
loop:
	for time.Now().Before(deadline) {
		frameCtx, cancel := context.WithTimeout(ctx, c.cfg.FrameInterval)
		frame, err := c.src.Acquire(frameCtx)
		cancel()
		switch {
		case err == nil:
			reserveErr := st.reserve(camera.PartHeaderSize(frame.Len()) + frame.Len())
			if reserveErr == nil {
				st.buf = camera.AppendPart(st.buf, frame.Data)
				res.Frames++
			}
			c.src.Release(frame)
			if reserveErr != nil {
				res.Truncated = true
				log.Warn("Video buffer full, truncating", zap.Int("bytes", st.Len()), zap.Error(reserveErr))
				break loop
			}
		case ctx.Err() != nil:
			break loop
		default:
			res.Skipped++
			log.Debug("No frame this tick", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}
	res.Duration = time.Since(start)

	if res.Frames == 0 {
		return ErrNoFrames
	}
	if ctx.Err() != nil {
		log.Warn("Video capture interrupted, saving partial recording", zap.Int("frames", res.Frames))
	}
	return c.save(context.WithoutCancel(ctx), "VID", ".mjpeg", st.Bytes(), res, log)
}

// save names the capture from the next counter value and stores it. The
// counter is persisted on success and rolled back on failure.
func (c *Controller) save(ctx context.Context, prefix, ext string, data []byte, res *Result, log *zap.Logger) error {
	n := c.counter.Add(1)
	name := fmt.Sprintf("%s_%08d%s", prefix, n, ext)

	stored, err := c.saver.SaveFile(ctx, name, data)
	if err != nil {
		c.counter.Add(^uint32(0))
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	if err := kvstore.SetUint32(c.kv, counterNamespace, counterKey, n); err != nil {
		log.Warn("Failed to persist file counter", zap.Uint32("counter", n), zap.Error(err))
	}

	res.Name = stored
	res.Size = len(data)
	res.SavedAt = time.Now()
	return nil
}

func (c *Controller) notify(ctx context.Context, r Result) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	for _, o := range observers {
		o(ctx, r)
	}
}

func (c *Controller) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"capture_state":   c.State().String(),
		"capture_photos":  c.photos.Load(),
		"capture_videos":  c.videos.Load(),
		"capture_fails":   c.fails.Load(),
		"capture_counter": c.counter.Load(),
	}
}
