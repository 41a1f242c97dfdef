package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mikeyg42/vigilcam/internal/capture"
	"github.com/mikeyg42/vigilcam/internal/config"
)

type levelSensor struct {
	high atomic.Bool
	err  atomic.Bool
}

func (s *levelSensor) Level(context.Context) (bool, error) {
	if s.err.Load() {
		return false, errors.New("bus error")
	}
	return s.high.Load(), nil
}

type recordingIndicator struct {
	mu     sync.Mutex
	states []bool
}

func (i *recordingIndicator) Set(on bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = append(i.states, on)
	return nil
}

func (i *recordingIndicator) last() (bool, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.states) == 0 {
		return false, 0
	}
	return i.states[len(i.states)-1], len(i.states)
}

type countingGate struct{ n atomic.Int32 }

func (g *countingGate) NotifyMotion() { g.n.Add(1) }

// blockingCapturer records reasons and holds each call until released.
type blockingCapturer struct {
	started chan string
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingCapturer() *blockingCapturer {
	return &blockingCapturer{started: make(chan string, 8), release: make(chan struct{})}
}

func (c *blockingCapturer) Trigger(ctx context.Context, reason string) (capture.Result, error) {
	c.calls.Add(1)
	c.started <- reason
	select {
	case <-c.release:
	case <-ctx.Done():
	}
	return capture.Result{Reason: reason}, nil
}

func newTestSupervisor(t *testing.T, sensor MotionSensor, ind Indicator, g Gate, c Capturer) *Supervisor {
	t.Helper()
	return New(sensor, ind, g, c, config.SupervisorConfig{
		PollInterval:   5 * time.Millisecond,
		HealthInterval: 20 * time.Millisecond,
	}, zaptest.NewLogger(t))
}

func TestPollRisingEdge(t *testing.T) {
	sensor := &levelSensor{}
	ind := &recordingIndicator{}
	g := &countingGate{}
	s := newTestSupervisor(t, sensor, ind, g, newBlockingCapturer())
	ctx := context.Background()

	s.Poll(ctx)
	if g.n.Load() != 0 || len(s.queue) != 0 {
		t.Fatal("Low level should neither open the gate nor queue a capture")
	}

	sensor.high.Store(true)
	s.Poll(ctx)
	s.Poll(ctx)
	s.Poll(ctx)
	if g.n.Load() != 3 {
		t.Fatalf("Expected gate notified on every high poll, got %d", g.n.Load())
	}
	if len(s.queue) != 1 {
		t.Fatalf("Expected exactly one queued capture, got %d", len(s.queue))
	}
	if on, _ := ind.last(); !on {
		t.Fatal("Indicator should follow the high level")
	}

	sensor.high.Store(false)
	s.Poll(ctx)
	if on, _ := ind.last(); on {
		t.Fatal("Indicator should follow the low level")
	}
	if m := s.GetMetrics(); m["motions"].(uint64) != 1 {
		t.Fatalf("Expected one motion event, got %v", m["motions"])
	}
}

func TestPollSensorError(t *testing.T) {
	sensor := &levelSensor{}
	sensor.err.Store(true)
	ind := &recordingIndicator{}
	g := &countingGate{}
	s := newTestSupervisor(t, sensor, ind, g, newBlockingCapturer())

	s.Poll(context.Background())
	if _, n := ind.last(); n != 0 {
		t.Fatal("Indicator must not change on a failed read")
	}
	if s.GetMetrics()["sensor_fails"].(uint64) != 1 {
		t.Fatal("Expected sensor failure counted")
	}
}

func TestRequestCaptureQueueFull(t *testing.T) {
	s := newTestSupervisor(t, NoSensor{}, NopIndicator{}, &countingGate{}, newBlockingCapturer())
	if err := s.RequestCapture(ReasonManual); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if err := s.RequestCapture(ReasonManual); !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}
}

func TestRunDispatchesAndDrains(t *testing.T) {
	c := newBlockingCapturer()
	s := newTestSupervisor(t, NoSensor{}, NopIndicator{}, &countingGate{}, c)
	s.RegisterMetrics("test", func() map[string]interface{} { return map[string]interface{}{"k": 1} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := s.RequestCapture(ReasonManual); err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	select {
	case reason := <-c.started:
		if reason != ReasonManual {
			t.Fatalf("Expected reason %q, got %q", ReasonManual, reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Capture was never dispatched")
	}

	// Poll until the worker has marked itself busy.
	deadline := time.Now().Add(time.Second)
	for !s.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.RequestCapture(ReasonManual); !errors.Is(err, capture.ErrBusy) {
		t.Fatalf("Expected ErrBusy while capturing, got %v", err)
	}

	// Let a health tick happen before shutting down.
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if c.calls.Load() != 1 {
		t.Fatalf("Expected one capture, got %d", c.calls.Load())
	}
}

func TestFileSensorAndIndicator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value")
	sensor := FileSensor{Path: path}
	ctx := context.Background()

	if level, err := sensor.Level(ctx); err != nil || level {
		t.Fatalf("Missing file should read low, got %v / %v", level, err)
	}

	testCases := []struct {
		content string
		want    bool
	}{
		{"1\n", true},
		{"0\n", false},
		{" high ", true},
		{"garbage", false},
	}
	for _, tc := range testCases {
		if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
			t.Fatal(err)
		}
		level, err := sensor.Level(ctx)
		if err != nil {
			t.Fatalf("Level failed: %v", err)
		}
		if level != tc.want {
			t.Errorf("Content %q: expected %v, got %v", tc.content, tc.want, level)
		}
	}

	led := FileIndicator{Path: filepath.Join(dir, "led")}
	if err := led.Set(true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	data, _ := os.ReadFile(led.Path)
	if string(data) != "1\n" {
		t.Fatalf("Expected indicator file to read 1, got %q", data)
	}
}

func TestNewSensor(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.SupervisorConfig
		wantErr bool
	}{
		{"Default", config.SupervisorConfig{}, false},
		{"None", config.SupervisorConfig{Sensor: "none"}, false},
		{"File", config.SupervisorConfig{Sensor: "file", SensorPath: "/tmp/pir"}, false},
		{"File without path", config.SupervisorConfig{Sensor: "file"}, true},
		{"Unknown", config.SupervisorConfig{Sensor: "gpio"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSensor(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Expected error %v, got %v", tc.wantErr, err)
			}
		})
	}

	if _, ok := NewIndicator(config.SupervisorConfig{}).(NopIndicator); !ok {
		t.Fatal("Expected NopIndicator without a path")
	}
}
