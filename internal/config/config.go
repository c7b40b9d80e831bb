package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration
type Config struct {
	Storage Storage `yaml:"storage"`
	Audio   Audio   `yaml:"audio"`
	Merge   Merge   `yaml:"merge"`
	Status  Status  `yaml:"status"`
	HTTP    HTTP    `yaml:"http"`
	Logging Logging `yaml:"logging"`
}

// Storage contains filesystem locations for raw and final files
type Storage struct {
	RecordingsDir string `yaml:"recordings_dir"`
	StatusDir     string `yaml:"status_dir"`
}

// Audio contains capture defaults
type Audio struct {
	Quality string `yaml:"quality"` // professional | standard | quick | high
	Format  string `yaml:"format"`  // wav | m4a

	// PulseAudio source names for the two capture roles. An empty
	// loopback source disables system audio capture.
	LoopbackSource string `yaml:"loopback_source"`
	MicSource      string `yaml:"mic_source"`
}

// Merge contains external transcoder settings
type Merge struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BitrateKbps int    `yaml:"bitrate_kbps"`
}

// Status contains status document publishing settings
type Status struct {
	IntervalSecs float64 `yaml:"interval_secs"`
}

// HTTP contains the optional observability server settings
type HTTP struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{
			RecordingsDir: "recordings",
			StatusDir:     "status",
		},
		Audio: Audio{
			Quality:        "professional",
			Format:         "wav",
			LoopbackSource: "default.monitor",
			MicSource:      "default",
		},
		Merge: Merge{
			FFmpegPath:  "ffmpeg",
			TimeoutSecs: 600,
			BitrateKbps: 192,
		},
		Status: Status{
			IntervalSecs: 1.0,
		},
		HTTP: HTTP{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates storage configuration
func (s *Storage) Validate() error {
	if s.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if s.StatusDir == "" {
		return fmt.Errorf("status_dir cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *Audio) Validate() error {
	validQualities := map[string]bool{
		"professional": true, "standard": true, "quick": true, "high": true,
	}
	if !validQualities[a.Quality] {
		return fmt.Errorf("quality must be one of [professional, standard, quick, high], got '%s'", a.Quality)
	}

	validFormats := map[string]bool{"wav": true, "m4a": true}
	if !validFormats[a.Format] {
		return fmt.Errorf("format must be 'wav' or 'm4a', got '%s'", a.Format)
	}

	if a.LoopbackSource == "" && a.MicSource == "" {
		return fmt.Errorf("at least one of loopback_source and mic_source must be set")
	}

	return nil
}

// Validate validates merge configuration
func (m *Merge) Validate() error {
	if m.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if m.TimeoutSecs < 1 {
		return fmt.Errorf("timeout_secs must be at least 1, got %d", m.TimeoutSecs)
	}

	if m.BitrateKbps < 32 || m.BitrateKbps > 512 {
		return fmt.Errorf("bitrate_kbps must be between 32 and 512, got %d", m.BitrateKbps)
	}

	return nil
}

// Validate validates status publishing configuration
func (s *Status) Validate() error {
	if s.IntervalSecs <= 0 {
		return fmt.Errorf("interval_secs must be positive, got %f", s.IntervalSecs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTP) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *Logging) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// EnsureDirectories creates the storage directories if they do not exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.RecordingsDir, c.Storage.StatusDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// OutputPath joins a file name onto the recordings directory.
func (s *Storage) OutputPath(name string) string {
	return filepath.Join(s.RecordingsDir, name)
}

// GetMergeTimeout returns the merge timeout as a time.Duration
func (m *Merge) GetMergeTimeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// GetPublishInterval returns the status publish interval as a time.Duration
func (s *Status) GetPublishInterval() time.Duration {
	return time.Duration(s.IntervalSecs * float64(time.Second))
}
