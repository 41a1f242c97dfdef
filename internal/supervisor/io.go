package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/mikeyg42/vigilcam/internal/config"
)

// MotionSensor reports the current level of the motion input.
type MotionSensor interface {
	Level(ctx context.Context) (bool, error)
}

// Indicator drives an on/off output such as the IR illuminator.
type Indicator interface {
	Set(on bool) error
}

// NoSensor never reports motion.
type NoSensor struct{}

func (NoSensor) Level(context.Context) (bool, error) { return false, nil }

// NopIndicator discards every update.
type NopIndicator struct{}

func (NopIndicator) Set(bool) error { return nil }

// FileSensor reads a level from a file holding "1" or "0", the way a
// sysfs GPIO value file does. A missing file reads as low.
type FileSensor struct {
	Path string
}

func (s FileSensor) Level(context.Context) (bool, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read motion sensor %s: %w", s.Path, err)
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "1", "high", "on", "true":
		return true, nil
	default:
		return false, nil
	}
}

// FileIndicator writes "1" or "0" to a file.
type FileIndicator struct {
	Path string
}

func (i FileIndicator) Set(on bool) error {
	v := []byte("0\n")
	if on {
		v = []byte("1\n")
	}
	if err := os.WriteFile(i.Path, v, 0o644); err != nil {
		return fmt.Errorf("failed to set indicator %s: %w", i.Path, err)
	}
	return nil
}

// NewSensor builds the motion input named by the supervisor config.
func NewSensor(cfg config.SupervisorConfig) (MotionSensor, error) {
	switch cfg.Sensor {
	case "", "none":
		return NoSensor{}, nil
	case "file":
		if cfg.SensorPath == "" {
			return nil, errors.New("file sensor requires sensor_path")
		}
		return FileSensor{Path: cfg.SensorPath}, nil
	default:
		return nil, fmt.Errorf("unknown motion sensor %q", cfg.Sensor)
	}
}

// NewIndicator returns a FileIndicator when a path is configured.
func NewIndicator(cfg config.SupervisorConfig) Indicator {
	if cfg.IndicatorPath == "" {
		return NopIndicator{}
	}
	return FileIndicator{Path: cfg.IndicatorPath}
}
