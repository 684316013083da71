package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from config/default.yaml;
// secrets and connection targets may be overridden by environment variables.
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Cameras  CamerasConfig  `yaml:"cameras"`
	Map      MapConfig      `yaml:"map"`
	Tuning   Tuning         `yaml:"tuning"`
	Admin    AdminConfig    `yaml:"admin"`
	ImageDir string         `yaml:"image_dir"`
}

type NetworkConfig struct {
	UDPVideoInPort   int `yaml:"udp_video_in_port"`   // camera frames from IDS
	UDPVideoOutPort  int `yaml:"udp_video_out_port"`  // relay to controller GUI
	TCPInferencePort int `yaml:"tcp_inference_port"`  // IDS control/events
	TCPControlPort   int `yaml:"tcp_control_port"`    // controller GUI
	TCPBirdPort      int `yaml:"tcp_bird_port"`       // bird-risk estimator
	TCPPilotPort     int `yaml:"tcp_pilot_port"`      // pilot client
	TCPBufferSize    int `yaml:"tcp_buffer_size"`
	UDPBufferSize    int `yaml:"udp_buffer_size"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"` // empty disables the live snapshot cache
}

type NATSConfig struct {
	URL     string `yaml:"url"` // empty disables the event mirror
	Subject string `yaml:"subject"`
}

// CamerasConfig names the two fixed surveillance cameras as they appear in
// frame datagrams and inference events.
type CamerasConfig struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// IDs returns both camera ids.
func (c CamerasConfig) IDs() []string {
	return []string{c.A, c.B}
}

// MapConfig fixes the logical display plane and the physical calibration plane.
type MapConfig struct {
	Width       int     `yaml:"width"`        // logical plane, px
	Height      int     `yaml:"height"`       // logical plane, px
	RealWidth   float64 `yaml:"real_width"`   // physical plane, mm
	RealHeight  float64 `yaml:"real_height"`  // physical plane, mm
	FrameWidth  int     `yaml:"frame_width"`  // camera frame, px
	FrameHeight int     `yaml:"frame_height"` // camera frame, px
}

// Tuning holds the hot-reloadable knobs watched by the config Watcher.
type Tuning struct {
	FrameBufferSize      int           `yaml:"frame_buffer_size"`
	FrameAgeCap          time.Duration `yaml:"frame_age_cap"`
	DetectionWindow      time.Duration `yaml:"detection_window"`
	HazardClear          time.Duration `yaml:"hazard_clear"`
	RelayQueueDepth      int           `yaml:"relay_queue_depth"`
	SessionQueueDepth    int           `yaml:"session_queue_depth"`
	PipelineQueueDepth   int           `yaml:"pipeline_queue_depth"`
	CommandTimeout       time.Duration `yaml:"command_timeout"`
	DBTimeout            time.Duration `yaml:"db_timeout"`
	ShutdownDrainTimeout time.Duration `yaml:"shutdown_drain_timeout"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			UDPVideoInPort:   4000,
			UDPVideoOutPort:  4100,
			TCPInferencePort: 5000,
			TCPControlPort:   5100,
			TCPBirdPort:      5200,
			TCPPilotPort:     5300,
			TCPBufferSize:    65536,
			UDPBufferSize:    131072,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "falcon",
			Name:    "falcon_db",
			SSLMode: "disable",
		},
		NATS:    NATSConfig{Subject: "falcon.events"},
		Cameras: CamerasConfig{A: "A", B: "B"},
		Map: MapConfig{
			Width:       960,
			Height:      720,
			RealWidth:   1800,
			RealHeight:  1350,
			FrameWidth:  960,
			FrameHeight: 720,
		},
		Tuning: Tuning{
			FrameBufferSize:      60,
			FrameAgeCap:          2 * time.Second,
			DetectionWindow:      200 * time.Millisecond,
			HazardClear:          2 * time.Second,
			RelayQueueDepth:      5,
			SessionQueueDepth:    256,
			PipelineQueueDepth:   1024,
			CommandTimeout:       5 * time.Second,
			DBTimeout:            2 * time.Second,
			ShutdownDrainTimeout: 2 * time.Second,
		},
		Admin:    AdminConfig{Addr: ":8080"},
		ImageDir: "img",
	}
}

// Load reads the YAML file at path (missing file is not an error), then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
}

func (c *Config) validate() error {
	if c.Tuning.FrameBufferSize <= 0 {
		return fmt.Errorf("frame_buffer_size must be positive, got %d", c.Tuning.FrameBufferSize)
	}
	if c.Tuning.HazardClear <= 0 {
		return fmt.Errorf("hazard_clear must be positive, got %s", c.Tuning.HazardClear)
	}
	if c.Tuning.DetectionWindow <= 0 {
		return fmt.Errorf("detection_window must be positive, got %s", c.Tuning.DetectionWindow)
	}
	return nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode)
}
