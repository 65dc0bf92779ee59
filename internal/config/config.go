// Package config provides the settings schema, defaults and loading for lmsdl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// Common errors.
var (
	ErrMissingURL         = errors.New("URL is required")
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	ErrInvalidBackend     = errors.New("invalid history backend")
)

// Default configuration values.
const (
	DefaultConcurrency       = 66
	DefaultMaxRetries        = 3
	DefaultBackoffBase       = 500 * time.Millisecond
	DefaultJitterMax         = 500 * time.Millisecond
	DefaultProgressInterval  = 2 * time.Second
	DefaultProgressEvery     = 5
	DefaultRetention         = 10 * time.Second
	DefaultBroadcastInterval = time.Second
	DefaultHistoryBackend    = "json"
	DefaultHistoryCapacity   = 50
	DefaultLogLevel          = "info"
	DefaultUserAgent         = "lmsdl/1.0"

	MinConcurrency = 1
	MaxConcurrency = 100

	// EnvPrefix is prepended to every environment override, e.g. LMSDL_DOWNLOAD_MAX_RETRIES.
	EnvPrefix = "LMSDL"
	appName   = "lmsdl"
)

// Settings holds all application configuration.
type Settings struct {
	Download DownloadSettings `mapstructure:"download" yaml:"download"`
	Progress ProgressSettings `mapstructure:"progress" yaml:"progress"`
	Session  SessionSettings  `mapstructure:"session" yaml:"session"`
	Folder   models.Folder    `mapstructure:"folder" yaml:"folder"`
	History  HistorySettings  `mapstructure:"history" yaml:"history"`
	Output   OutputSettings   `mapstructure:"output" yaml:"output"`
	Log      LogSettings      `mapstructure:"log" yaml:"log"`
}

// DownloadSettings tunes segment fetching.
type DownloadSettings struct {
	VideoConcurrency int               `mapstructure:"video_concurrency" yaml:"video_concurrency"`
	AudioConcurrency int               `mapstructure:"audio_concurrency" yaml:"audio_concurrency"`
	MaxRetries       int               `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase      time.Duration     `mapstructure:"backoff_base" yaml:"backoff_base"`
	JitterMax        time.Duration     `mapstructure:"jitter_max" yaml:"jitter_max"`
	MaxBandwidth     int64             `mapstructure:"max_bandwidth" yaml:"max_bandwidth"` // bytes per second, 0 = unlimited
	UserAgent        string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers"`
}

// ProgressSettings controls how often progress is reported.
type ProgressSettings struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Every    int           `mapstructure:"every" yaml:"every"`
}

// SessionSettings controls session lifetime and snapshot cadence.
type SessionSettings struct {
	Retention         time.Duration `mapstructure:"retention" yaml:"retention"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval" yaml:"broadcast_interval"`
}

// HistorySettings selects the history backend.
type HistorySettings struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Path     string `mapstructure:"path" yaml:"path"`
	Capacity int    `mapstructure:"capacity" yaml:"capacity"`
}

// OutputSettings points at the directory reassembled streams are written to.
type OutputSettings struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogSettings configures the logger.
type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the default configuration as a nested map, the form
// written by `config init`.
func Defaults() map[string]any {
	return map[string]any{
		"download": map[string]any{
			"video_concurrency": DefaultConcurrency,
			"audio_concurrency": DefaultConcurrency,
			"max_retries":       DefaultMaxRetries,
			"backoff_base":      DefaultBackoffBase.String(),
			"jitter_max":        DefaultJitterMax.String(),
			"max_bandwidth":     0,
			"user_agent":        DefaultUserAgent,
			"headers":           map[string]string{},
		},
		"progress": map[string]any{
			"interval": DefaultProgressInterval.String(),
			"every":    DefaultProgressEvery,
		},
		"session": map[string]any{
			"retention":          DefaultRetention.String(),
			"broadcast_interval": DefaultBroadcastInterval.String(),
		},
		"folder": map[string]any{
			"semester":           "",
			"subject":            "",
			"additional_folders": []string{},
		},
		"history": map[string]any{
			"backend":  DefaultHistoryBackend,
			"path":     DefaultHistoryPath(DefaultHistoryBackend),
			"capacity": DefaultHistoryCapacity,
		},
		"output": map[string]any{
			"dir": ".",
		},
		"log": map[string]any{
			"level": DefaultLogLevel,
		},
	}
}

// New returns Settings populated with defaults.
func New() *Settings {
	return &Settings{
		Download: DownloadSettings{
			VideoConcurrency: DefaultConcurrency,
			AudioConcurrency: DefaultConcurrency,
			MaxRetries:       DefaultMaxRetries,
			BackoffBase:      DefaultBackoffBase,
			JitterMax:        DefaultJitterMax,
			UserAgent:        DefaultUserAgent,
			Headers:          make(map[string]string),
		},
		Progress: ProgressSettings{Interval: DefaultProgressInterval, Every: DefaultProgressEvery},
		Session:  SessionSettings{Retention: DefaultRetention, BroadcastInterval: DefaultBroadcastInterval},
		History: HistorySettings{
			Backend:  DefaultHistoryBackend,
			Path:     DefaultHistoryPath(DefaultHistoryBackend),
			Capacity: DefaultHistoryCapacity,
		},
		Output: OutputSettings{Dir: "."},
		Log:    LogSettings{Level: DefaultLogLevel},
	}
}

// setDefaults registers every default key on v.
func setDefaults(v *viper.Viper) {
	for section, values := range Defaults() {
		for key, value := range values.(map[string]any) {
			v.SetDefault(section+"."+key, value)
		}
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadViper prepares a viper instance with defaults, environment overrides and
// the config file at path. An empty path searches the user config directory
// and a missing file there is not an error.
func LoadViper(path string) (*viper.Viper, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads, decodes and validates the configuration.
func Load(path string) (*Settings, error) {
	v, err := LoadViper(path)
	if err != nil {
		return nil, err
	}
	s, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decode(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	return s, nil
}

// Validate checks the configuration and normalizes values.
func (s *Settings) Validate() error {
	s.Download.VideoConcurrency = ClampConcurrency(s.Download.VideoConcurrency)
	s.Download.AudioConcurrency = ClampConcurrency(s.Download.AudioConcurrency)

	if s.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries cannot be negative")
	}
	if s.Download.BackoffBase < 0 || s.Download.JitterMax < 0 {
		return fmt.Errorf("download backoff durations cannot be negative")
	}
	if s.Progress.Every < 1 {
		s.Progress.Every = DefaultProgressEvery
	}
	if s.Progress.Interval <= 0 {
		s.Progress.Interval = DefaultProgressInterval
	}
	if s.Session.BroadcastInterval <= 0 {
		s.Session.BroadcastInterval = DefaultBroadcastInterval
	}
	if s.Session.Retention < 0 {
		s.Session.Retention = 0
	}

	switch s.History.Backend {
	case "json", "sqlite", "memory":
	case "":
		s.History.Backend = DefaultHistoryBackend
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, s.History.Backend)
	}
	if s.History.Path == "" && s.History.Backend != "memory" {
		s.History.Path = DefaultHistoryPath(s.History.Backend)
	}
	if s.History.Capacity < 1 {
		s.History.Capacity = DefaultHistoryCapacity
	}
	if s.Output.Dir == "" {
		s.Output.Dir = "."
	}
	if s.Log.Level == "" {
		s.Log.Level = DefaultLogLevel
	}
	if s.Download.Headers == nil {
		s.Download.Headers = make(map[string]string)
	}
	return nil
}

// ClampConcurrency bounds n to [MinConcurrency, MaxConcurrency]. Zero means default.
func ClampConcurrency(n int) int {
	if n == 0 {
		return DefaultConcurrency
	}
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ParseConcurrency validates a user-provided concurrency value.
func ParseConcurrency(n int) (int, error) {
	if n < MinConcurrency || n > MaxConcurrency {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidConcurrency, n, MinConcurrency, MaxConcurrency)
	}
	return n, nil
}

// Render encodes the effective settings held by v as YAML.
func Render(v *viper.Viper) ([]byte, error) {
	return yaml.Marshal(v.AllSettings())
}

// WriteDefaults writes the default configuration to path, creating parent
// directories. An existing file is left untouched unless overwrite is set.
func WriteDefaults(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+appName)
	}
	return filepath.Join(dir, appName)
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultHistoryPath returns the default history file for a backend.
func DefaultHistoryPath(backend string) string {
	if backend == "sqlite" {
		return filepath.Join(DefaultDir(), "history.db")
	}
	return filepath.Join(DefaultDir(), "history.json")
}
