package config

import "time"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Camera     CameraConfig     `yaml:"camera" json:"camera"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	KV         KVConfig         `yaml:"kv" json:"kv"`
	Capture    CaptureConfig    `yaml:"capture" json:"capture"`
	Motion     MotionSettings   `yaml:"motion" json:"motion"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Journal    JournalConfig    `yaml:"journal" json:"journal"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr" json:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins"`

	// Per-frame send deadline on /stream connections.
	StreamSendTimeout   time.Duration `yaml:"stream_send_timeout" json:"stream_send_timeout"`
	StreamFrameInterval time.Duration `yaml:"stream_frame_interval" json:"stream_frame_interval"`

	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

type CameraConfig struct {
	Driver  string   `yaml:"driver" json:"driver"` // pattern | pipe
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`

	Width       int  `yaml:"width" json:"width"`
	Height      int  `yaml:"height" json:"height"`
	Quality     int  `yaml:"quality" json:"quality"`
	FrameRate   int  `yaml:"frame_rate" json:"frame_rate"`
	ExtraMemory bool `yaml:"extra_memory" json:"extra_memory"`

	// Max time Acquire waits for a free frame slot.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
}

type StorageConfig struct {
	Type     string      `yaml:"type" json:"type"` // local | minio
	Root     string      `yaml:"root" json:"root"`
	MaxFiles int         `yaml:"max_files" json:"max_files"`
	MinIO    MinIOConfig `yaml:"minio" json:"minio"`

	// Mirror copies every saved capture to MinIO while serving from Root.
	Mirror bool `yaml:"mirror" json:"mirror"`
}

type MinIOConfig struct {
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl" json:"use_ssl"`
	Bucket          string        `yaml:"bucket" json:"bucket"`
	Region          string        `yaml:"region" json:"region"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

type KVConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

type CaptureConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" json:"frame_interval"`
	GrowthStep    int           `yaml:"growth_step" json:"growth_step"`
	MaxBuffer     int           `yaml:"max_buffer" json:"max_buffer"`
}

type SupervisorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	HealthInterval time.Duration `yaml:"health_interval" json:"health_interval"`
	Sensor         string        `yaml:"sensor" json:"sensor"` // none | file
	SensorPath     string        `yaml:"sensor_path" json:"sensor_path"`
	IndicatorPath  string        `yaml:"indicator_path" json:"indicator_path"`
	RestartDelay   time.Duration `yaml:"restart_delay" json:"restart_delay"`
}

type JournalConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`

	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json | console
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":80",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			AllowedOrigins:    []string{"*"},
			StreamSendTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Requests: 10,
				Window:   time.Minute,
			},
		},
		Camera: CameraConfig{
			Driver:         "pattern",
			Width:          640,
			Height:         480,
			Quality:        80,
			FrameRate:      15,
			AcquireTimeout: time.Second,
		},
		Storage: StorageConfig{
			Type:     "local",
			Root:     "/sdcard",
			MaxFiles: 50,
			MinIO: MinIOConfig{
				Bucket:         "vigilcam",
				MaxRetries:     3,
				RetryBackoff:   500 * time.Millisecond,
				ConnectTimeout: 30 * time.Second,
			},
		},
		KV: KVConfig{
			Dir: "/var/lib/vigilcam/kv",
		},
		Capture: CaptureConfig{
			FrameInterval: 100 * time.Millisecond,
			GrowthStep:    64 * 1024,
			MaxBuffer:     8 * 1024 * 1024,
		},
		Motion: DefaultMotionSettings(),
		Supervisor: SupervisorConfig{
			PollInterval:   500 * time.Millisecond,
			HealthInterval: 5 * time.Second,
			Sensor:         "none",
			RestartDelay:   5 * time.Second,
		},
		Journal: JournalConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "vigilcam",
			Database:     "vigilcam",
			SSLMode:      "disable",
			MaxOpenConns: 4,
			MaxIdleConns: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
