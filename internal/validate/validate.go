package validate

import (
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/vigilcam/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators. The schema already
// rejected malformed documents; these are the cross-field checks.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateServerConfig(v, &cfg.Server)
	validateCameraConfig(v, &cfg.Camera)
	validateStorageConfig(v, &cfg.Storage)
	validateKVConfig(v, &cfg.KV)
	validateCaptureConfig(v, &cfg.Capture)
	validateMotionSettings(v, cfg.Motion)
	validateSupervisorConfig(v, &cfg.Supervisor)
	validateJournalConfig(v, &cfg.Journal)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

func validateServerConfig(v *Validator, cfg *config.ServerConfig) {
	if cfg.Addr == "" {
		v.AddError("server address cannot be empty")
	} else {
		host, portStr, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			v.AddError("server address must be host:port: %v", err)
		} else {
			if host != "" && host != "localhost" {
				if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
					v.AddError("invalid hostname in server address: %s", host)
				}
			}
			port, err := strconv.Atoi(portStr)
			if err != nil || port < 0 || port > 65535 {
				v.AddError("invalid port in server address: %s", portStr)
			}
		}
	}
	if cfg.StreamSendTimeout <= 0 {
		v.AddError("stream send timeout must be positive")
	}
	if cfg.StreamFrameInterval < 0 {
		v.AddError("stream frame interval cannot be negative")
	}
	if cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0 {
		v.AddError("rate limit needs positive requests and window")
	}
}

func validateCameraConfig(v *Validator, cfg *config.CameraConfig) {
	switch cfg.Driver {
	case "pattern":
	case "pipe":
		if strings.TrimSpace(cfg.Command) == "" {
			v.AddError("camera driver 'pipe' requires a command")
		} else if _, err := exec.LookPath(cfg.Command); err != nil {
			v.AddError("camera command %q not found: %v", cfg.Command, err)
		}
	default:
		v.AddError("invalid camera driver: %s (must be 'pattern' or 'pipe')", cfg.Driver)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		v.AddError("invalid camera dimensions: width=%d height=%d", cfg.Width, cfg.Height)
	}
	if cfg.Width%8 != 0 || cfg.Height%8 != 0 {
		v.AddError("camera dimensions must be multiples of 8: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		v.AddError("invalid camera quality: %d (1-100)", cfg.Quality)
	}
	if cfg.FrameRate <= 0 {
		v.AddError("invalid camera frame rate: %d", cfg.FrameRate)
	}
	if cfg.AcquireTimeout <= 0 {
		v.AddError("camera acquire timeout must be positive")
	}
}

func validateStorageConfig(v *Validator, cfg *config.StorageConfig) {
	if cfg.MaxFiles <= 0 {
		v.AddError("storage max_files must be positive")
	}
	switch cfg.Type {
	case "local":
		if !isValidDirectoryPath(cfg.Root) {
			v.AddError("invalid storage root: %s", cfg.Root)
		}
		if cfg.Mirror {
			validateMinIOConfig(v, &cfg.MinIO)
		}
	case "minio":
		if cfg.Mirror {
			v.AddError("storage mirror requires type 'local'")
		}
		validateMinIOConfig(v, &cfg.MinIO)
	default:
		v.AddError("invalid storage type: %s (must be 'local' or 'minio')", cfg.Type)
	}
}

func validateMinIOConfig(v *Validator, cfg *config.MinIOConfig) {
	if cfg.Endpoint == "" {
		v.AddError("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		v.AddError("minio bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		v.AddError("minio credentials are required")
	}
}

func validateKVConfig(v *Validator, cfg *config.KVConfig) {
	if !cfg.InMemory && !isValidDirectoryPath(cfg.Dir) {
		v.AddError("invalid kv directory: %s", cfg.Dir)
	}
}

func validateCaptureConfig(v *Validator, cfg *config.CaptureConfig) {
	if cfg.FrameInterval < 10*time.Millisecond {
		v.AddError("capture frame interval too short: %s (min 10ms)", cfg.FrameInterval)
	}
	if cfg.GrowthStep <= 0 {
		v.AddError("capture growth step must be positive")
	}
	if cfg.MaxBuffer < cfg.GrowthStep {
		v.AddError("capture max buffer (%d) smaller than growth step (%d)", cfg.MaxBuffer, cfg.GrowthStep)
	}
}

func validateMotionSettings(v *Validator, m config.MotionSettings) {
	if err := m.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			v.AddError("motion %s", line)
		}
	}
}

func validateSupervisorConfig(v *Validator, cfg *config.SupervisorConfig) {
	if cfg.PollInterval <= 0 {
		v.AddError("supervisor poll interval must be positive")
	}
	if cfg.HealthInterval < time.Second {
		v.AddError("supervisor health interval too short (min 1s)")
	}
	switch cfg.Sensor {
	case "none":
	case "file":
		if !isValidFilePath(cfg.SensorPath) {
			v.AddError("motion sensor 'file' requires sensor_path")
		}
	default:
		v.AddError("invalid motion sensor: %s (must be 'none' or 'file')", cfg.Sensor)
	}
	if cfg.IndicatorPath != "" && !isValidFilePath(cfg.IndicatorPath) {
		v.AddError("invalid indicator path: %s", cfg.IndicatorPath)
	}
	if cfg.RestartDelay < 0 {
		v.AddError("restart delay cannot be negative")
	}
}

func validateJournalConfig(v *Validator, cfg *config.JournalConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Host == "" {
		v.AddError("journal host is required")
	}
	if cfg.Database == "" || cfg.User == "" {
		v.AddError("journal database and user are required")
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		v.AddError("journal max_idle_conns (%d) exceeds max_open_conns (%d)", cfg.MaxIdleConns, cfg.MaxOpenConns)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

var hostnameLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	for _, l := range strings.Split(hostname, ".") {
		if !hostnameLabel.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidFilePath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}
