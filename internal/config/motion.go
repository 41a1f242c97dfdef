package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned for a motion setting outside its allowed range.
var ErrOutOfRange = errors.New("value out of range")

// CaptureMode selects what a motion trigger records.
type CaptureMode int

const (
	CaptureModePhoto CaptureMode = 0
	CaptureModeVideo CaptureMode = 1
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureModePhoto:
		return "photo"
	case CaptureModeVideo:
		return "video"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Allowed ranges, in seconds.
const (
	MinEmissionTime  = 5
	MaxEmissionTime  = 300
	MinLiveTime      = 10
	MaxLiveTime      = 600
	MinVideoDuration = 5
	MaxVideoDuration = 60
)

// MotionSettings are the runtime-tunable motion parameters. Values are seconds.
type MotionSettings struct {
	EmissionTime  int         `yaml:"emission_time" json:"emission_time"`
	LiveTime      int         `yaml:"live_time" json:"live_time"`
	CaptureMode   CaptureMode `yaml:"capture_mode" json:"capture_mode"`
	VideoDuration int         `yaml:"video_duration" json:"video_duration"`
}

// MotionUpdate is a partial update; nil fields are left unchanged.
type MotionUpdate struct {
	EmissionTime  *int `json:"emission_time,omitempty"`
	LiveTime      *int `json:"live_time,omitempty"`
	CaptureMode   *int `json:"capture_mode,omitempty"`
	VideoDuration *int `json:"video_duration,omitempty"`
}

func DefaultMotionSettings() MotionSettings {
	return MotionSettings{
		EmissionTime:  30,
		LiveTime:      60,
		CaptureMode:   CaptureModePhoto,
		VideoDuration: 10,
	}
}

func (m MotionSettings) Emission() time.Duration { return time.Duration(m.EmissionTime) * time.Second }
func (m MotionSettings) Live() time.Duration     { return time.Duration(m.LiveTime) * time.Second }
func (m MotionSettings) Video() time.Duration    { return time.Duration(m.VideoDuration) * time.Second }

func CheckEmissionTime(v int) error  { return checkRange("emission_time", v, MinEmissionTime, MaxEmissionTime) }
func CheckLiveTime(v int) error      { return checkRange("live_time", v, MinLiveTime, MaxLiveTime) }
func CheckVideoDuration(v int) error { return checkRange("video_duration", v, MinVideoDuration, MaxVideoDuration) }

func CheckCaptureMode(v int) error {
	if CaptureMode(v) != CaptureModePhoto && CaptureMode(v) != CaptureModeVideo {
		return fmt.Errorf("capture_mode %d: %w", v, ErrOutOfRange)
	}
	return nil
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d not in [%d, %d]: %w", name, v, lo, hi, ErrOutOfRange)
	}
	return nil
}

// Validate checks every field.
func (m MotionSettings) Validate() error {
	return errors.Join(
		CheckEmissionTime(m.EmissionTime),
		CheckLiveTime(m.LiveTime),
		CheckCaptureMode(int(m.CaptureMode)),
		CheckVideoDuration(m.VideoDuration),
	)
}

// Apply range-checks each present field independently and returns the
// settings with valid fields applied, along with how many were accepted.
// Rejected fields are reported in the joined error; they do not block the
// others.
func (m MotionSettings) Apply(u MotionUpdate) (MotionSettings, int, error) {
	var (
		accepted int
		errs     []error
	)
	if u.EmissionTime != nil {
		if err := CheckEmissionTime(*u.EmissionTime); err != nil {
			errs = append(errs, err)
		} else {
			m.EmissionTime = *u.EmissionTime
			accepted++
		}
	}
	if u.LiveTime != nil {
		if err := CheckLiveTime(*u.LiveTime); err != nil {
			errs = append(errs, err)
		} else {
			m.LiveTime = *u.LiveTime
			accepted++
		}
	}
	if u.CaptureMode != nil {
		if err := CheckCaptureMode(*u.CaptureMode); err != nil {
			errs = append(errs, err)
		} else {
			m.CaptureMode = CaptureMode(*u.CaptureMode)
			accepted++
		}
	}
	if u.VideoDuration != nil {
		if err := CheckVideoDuration(*u.VideoDuration); err != nil {
			errs = append(errs, err)
		} else {
			m.VideoDuration = *u.VideoDuration
			accepted++
		}
	}
	return m, accepted, errors.Join(errs...)
}
