// Package settings holds the motion settings in effect and persists every
// change to the KV store.
package settings

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/kvstore"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

const (
	Namespace = "motion_cfg"

	keyEmission = "emit_time"
	keyLive     = "live_time"
	keyMode     = "cap_mode"
	keyVideo    = "vid_dur"
)

// ErrNoValidFields is returned by Update when nothing could be applied.
var ErrNoValidFields = errors.New("no valid settings in update")

type Store struct {
	kv     kvstore.KV
	logger *zap.Logger

	mu  sync.RWMutex
	cur config.MotionSettings
}

// Load starts from defaults and overlays every persisted value that is in
// range. Out-of-range or unreadable values are ignored.
func Load(kv kvstore.KV, defaults config.MotionSettings, logger *zap.Logger) *Store {
	s := &Store{kv: kv, logger: logging.OrGlobal(logger, "settings"), cur: defaults}

	load := func(key string, check func(int) error, set func(int)) {
		v, err := kvstore.GetInt32(kv, Namespace, key)
		if err != nil {
			if !errors.Is(err, kvstore.ErrNotFound) {
				s.logger.Warn("Ignoring unreadable setting", zap.String("key", key), zap.Error(err))
			}
			return
		}
		if err := check(int(v)); err != nil {
			s.logger.Warn("Ignoring persisted setting", zap.String("key", key), zap.Error(err))
			return
		}
		set(int(v))
	}
	load(keyEmission, config.CheckEmissionTime, func(v int) { s.cur.EmissionTime = v })
	load(keyLive, config.CheckLiveTime, func(v int) { s.cur.LiveTime = v })
	load(keyMode, config.CheckCaptureMode, func(v int) { s.cur.CaptureMode = config.CaptureMode(v) })
	load(keyVideo, config.CheckVideoDuration, func(v int) { s.cur.VideoDuration = v })

	s.logger.Info("Motion settings loaded",
		zap.Int("emission_time", s.cur.EmissionTime),
		zap.Int("live_time", s.cur.LiveTime),
		zap.Stringer("capture_mode", s.cur.CaptureMode),
		zap.Int("video_duration", s.cur.VideoDuration))
	return s
}

func (s *Store) Get() config.MotionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies the valid fields of u and persists the result. It fails
// with ErrNoValidFields only when no field was accepted.
func (s *Store) Update(u config.MotionUpdate) (config.MotionSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, accepted, rejected := s.cur.Apply(u)
	if accepted == 0 {
		if rejected != nil {
			return s.cur, fmt.Errorf("%w: %w", ErrNoValidFields, rejected)
		}
		return s.cur, ErrNoValidFields
	}
	if rejected != nil {
		s.logger.Warn("Some settings rejected", zap.Error(rejected))
	}

	if err := s.persist(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	s.logger.Info("Motion settings updated",
		zap.Int("emission_time", next.EmissionTime),
		zap.Int("live_time", next.LiveTime),
		zap.Stringer("capture_mode", next.CaptureMode),
		zap.Int("video_duration", next.VideoDuration))
	return next, nil
}

func (s *Store) persist(m config.MotionSettings) error {
	for _, kv := range []struct {
		key string
		val int
	}{
		{keyEmission, m.EmissionTime},
		{keyLive, m.LiveTime},
		{keyMode, int(m.CaptureMode)},
		{keyVideo, m.VideoDuration},
	} {
		if err := kvstore.SetInt32(s.kv, Namespace, kv.key, int32(kv.val)); err != nil {
			return fmt.Errorf("failed to persist %s: %w", kv.key, err)
		}
	}
	return nil
}

func (s *Store) EmissionTime() time.Duration { return s.Get().Emission() }

func (s *Store) LiveTime() time.Duration { return s.Get().Live() }

func (s *Store) CaptureMode() config.CaptureMode { return s.Get().CaptureMode }

func (s *Store) VideoDuration() time.Duration { return s.Get().Video() }
