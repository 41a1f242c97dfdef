// Package gate decides whether live video may be streamed. Two windows can
// hold it open: a motion window, re-armed by every motion report, and a
// manual window opened from the API.
package gate

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/logging"
)

// Windows supplies the current window lengths.
type Windows interface {
	EmissionTime() time.Duration
	LiveTime() time.Duration
}

// Status is a point-in-time view of the gate.
type Status struct {
	Active bool `json:"active"`
	// Remaining whole seconds of the window that governs the gate.
	Remaining int  `json:"remaining"`
	Live      bool `json:"is_live"`
}

// Evaluate computes the gate status from two deadlines in unix nanoseconds.
// A zero deadline is a closed window. While the manual window is open its
// remaining time is reported, otherwise the motion window's.
func Evaluate(now, motionEnd, manualEnd int64) Status {
	motion := motionEnd != 0 && now < motionEnd
	manual := manualEnd != 0 && now < manualEnd

	s := Status{Active: motion || manual, Live: manual}
	switch {
	case manual:
		s.Remaining = wholeSeconds(manualEnd - now)
	case motion:
		s.Remaining = wholeSeconds(motionEnd - now)
	}
	return s
}

func wholeSeconds(nanos int64) int {
	if nanos <= 0 {
		return 0
	}
	return int(nanos / int64(time.Second))
}

// Gate is safe for concurrent use. Each window is an atomic deadline;
// readers close expired windows with compare-and-swap so a concurrent
// re-arm is never lost.
type Gate struct {
	windows Windows
	now     func() time.Time
	logger  *zap.Logger

	motionEnd atomic.Int64
	manualEnd atomic.Int64
}

type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(windows Windows, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		windows: windows,
		now:     time.Now,
		logger:  logging.OrGlobal(logger, "gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NotifyMotion opens, or extends, the motion window to now + emission time.
func (g *Gate) NotifyMotion() {
	end := g.now().Add(g.windows.EmissionTime()).UnixNano()
	if g.motionEnd.Swap(end) == 0 {
		g.logger.Info("Motion window opened", zap.Duration("emission_time", g.windows.EmissionTime()))
	}
}

// ForceOn opens the manual window for the live time.
func (g *Gate) ForceOn() {
	live := g.windows.LiveTime()
	g.manualEnd.Store(g.now().Add(live).UnixNano())
	g.logger.Info("Manual window opened", zap.Duration("live_time", live))
}

// ForceOff closes the manual window. The motion window is untouched.
func (g *Gate) ForceOff() {
	if g.manualEnd.Swap(0) != 0 {
		g.logger.Info("Manual window closed")
	}
}

func (g *Gate) IsActive() bool { return g.Status().Active }

func (g *Gate) RemainingSeconds() int { return g.Status().Remaining }

func (g *Gate) IsLive() bool { return g.Status().Live }

// Status expires elapsed windows and evaluates the gate.
func (g *Gate) Status() Status {
	now := g.now().UnixNano()
	motion := g.expire(&g.motionEnd, now, "Motion window elapsed")
	manual := g.expire(&g.manualEnd, now, "Manual window elapsed")
	return Evaluate(now, motion, manual)
}

// Snapshot returns both raw deadlines without expiring anything.
func (g *Gate) Snapshot() (motionEnd, manualEnd time.Time) {
	return toTime(g.motionEnd.Load()), toTime(g.manualEnd.Load())
}

func toTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (g *Gate) expire(deadline *atomic.Int64, now int64, msg string) int64 {
	end := deadline.Load()
	if end != 0 && now >= end {
		if deadline.CompareAndSwap(end, 0) {
			g.logger.Info(msg)
			return 0
		}
		// Re-armed concurrently; use the new deadline.
		return deadline.Load()
	}
	return end
}
