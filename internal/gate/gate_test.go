package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fixedWindows struct{ emission, live time.Duration }

func (w fixedWindows) EmissionTime() time.Duration { return w.emission }
func (w fixedWindows) LiveTime() time.Duration     { return w.live }

type fakeClock struct{ nanos atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.nanos.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

func newTestGate(t *testing.T) (*Gate, *fakeClock) {
	clock := newFakeClock()
	g := New(fixedWindows{emission: 30 * time.Second, live: 60 * time.Second}, zaptest.NewLogger(t), WithClock(clock.Now))
	return g, clock
}

func TestEvaluate(t *testing.T) {
	const s = int64(time.Second)
	tests := []struct {
		name             string
		now, motion, man int64
		want             Status
	}{
		{"both closed", 100 * s, 0, 0, Status{}},
		{"motion open", 100 * s, 130 * s, 0, Status{Active: true, Remaining: 30}},
		{"motion floors", 100 * s, 100*s + s/2, 0, Status{Active: true, Remaining: 0}},
		{"motion at deadline", 130 * s, 130 * s, 0, Status{}},
		{"manual open", 100 * s, 0, 160 * s, Status{Active: true, Remaining: 60, Live: true}},
		{"manual preferred", 100 * s, 200 * s, 110 * s, Status{Active: true, Remaining: 10, Live: true}},
		{"manual expired motion open", 100 * s, 105 * s, 90 * s, Status{Active: true, Remaining: 5}},
		{"both expired", 100 * s, 50 * s, 60 * s, Status{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.now, tt.motion, tt.man); got != tt.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMotionWindow(t *testing.T) {
	g, clock := newTestGate(t)
	if g.IsActive() {
		t.Fatal("gate open before any trigger")
	}

	g.NotifyMotion()
	if !g.IsActive() || g.RemainingSeconds() != 30 || g.IsLive() {
		t.Fatalf("after motion: %+v", g.Status())
	}

	clock.Advance(20 * time.Second)
	g.NotifyMotion() // re-arm extends to now+30
	clock.Advance(25 * time.Second)
	if !g.IsActive() || g.RemainingSeconds() != 5 {
		t.Fatalf("re-armed window: %+v", g.Status())
	}

	clock.Advance(5 * time.Second)
	if g.IsActive() {
		t.Fatal("motion window still open at its deadline")
	}
	if m, _ := g.Snapshot(); !m.IsZero() {
		t.Fatal("expired window not cleared")
	}
}

func TestManualWindow(t *testing.T) {
	g, clock := newTestGate(t)
	g.ForceOn()
	st := g.Status()
	if !st.Active || !st.Live || st.Remaining != 60 {
		t.Fatalf("after force: %+v", st)
	}

	g.NotifyMotion()
	if g.RemainingSeconds() != 60 {
		t.Fatalf("manual remaining should win, got %d", g.RemainingSeconds())
	}

	g.ForceOff()
	st = g.Status()
	if !st.Active || st.Live || st.Remaining != 30 {
		t.Fatalf("stop must leave the motion window: %+v", st)
	}

	clock.Advance(31 * time.Second)
	if g.IsActive() {
		t.Fatal("gate open after both windows closed")
	}
}

func TestManualExpiresByItself(t *testing.T) {
	g, clock := newTestGate(t)
	g.ForceOn()
	clock.Advance(61 * time.Second)
	if g.IsActive() || g.IsLive() {
		t.Fatalf("manual window did not expire: %+v", g.Status())
	}
	clock.Advance(-30 * time.Second)
	if g.IsActive() {
		t.Fatal("expired window re-opened")
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	g, clock := newTestGate(t)
	g.NotifyMotion()
	clock.Advance(time.Hour)
	if r := g.RemainingSeconds(); r != 0 {
		t.Fatalf("remaining = %d", r)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	g := New(fixedWindows{emission: 30 * time.Second, live: 60 * time.Second}, zap.NewNop(), WithClock(clock.Now))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				g.NotifyMotion()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = g.Status()
				clock.Advance(time.Millisecond)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				g.ForceOn()
				g.ForceOff()
			}
		}()
	}
	wg.Wait()
	g.NotifyMotion()
	if !g.IsActive() {
		t.Fatal("a fresh trigger must open the gate")
	}
}
