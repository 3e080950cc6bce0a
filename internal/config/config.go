package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	LogLevel     string           `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	OutputDir    string           `json:"output_dir" validate:"required"`
	Tray         bool             `json:"tray"`
	CheckUpdates bool             `json:"check_updates"`
	Audio        AudioConfig      `json:"audio"`
	Transcribe   TranscribeConfig `json:"transcribe"`
	Server       ServerConfig     `json:"server"`
	Archive      ArchiveConfig    `json:"archive"`
}

type AudioConfig struct {
	// DeviceID pins capture to a catalog device id; nil uses the default
	// loopback device.
	DeviceID *int `json:"device_id"`
}

type TranscribeConfig struct {
	// Auto runs the transcription script after every stopped recording.
	Auto       bool   `json:"auto"`
	PythonPath string `json:"python_path"`
	ScriptPath string `json:"script_path"`
	// Options is passed to the script as its JSON options argument.
	Options        map[string]any `json:"options,omitempty"`
	TimeoutMinutes int            `json:"timeout_minutes" validate:"min=0"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen" validate:"omitempty,hostname_port"`
}

type ArchiveConfig struct {
	Enabled         bool   `json:"enabled"`
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Prefix          string `json:"prefix"`
	DeleteLocal     bool   `json:"delete_local"`
	RetentionDays   int    `json:"retention_days" validate:"min=0"`
}

// IsConfigured reports whether uploads can actually run: enabled plus the
// minimum S3 connection settings.
func (a ArchiveConfig) IsConfigured() bool {
	return a.Enabled && a.Endpoint != "" && a.Bucket != "" &&
		a.AccessKeyID != "" && a.SecretAccessKey != ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		OutputDir:    defaultOutputDir(),
		Tray:         true,
		CheckUpdates: true,
		Transcribe: TranscribeConfig{
			Auto:           false,
			PythonPath:     "python3",
			ScriptPath:     "process_audio.py",
			TimeoutMinutes: 30,
		},
		Server: ServerConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8573",
		},
	}
}

// Load reads the config file at path, or DefaultPath() when path is empty,
// overlaying its values on the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, or DefaultPath() when path is empty,
// creating parent directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultPath returns the platform-specific config file path.
func DefaultPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "meetscribe", "config.json")
}

// defaultOutputDir is where recordings land unless configured otherwise.
func defaultOutputDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("USERPROFILE"), "Documents", "meetscribe")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Documents", "meetscribe")
	default:
		return filepath.Join(os.Getenv("HOME"), "meetscribe")
	}
}
