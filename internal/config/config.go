package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/rz67-trigger/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Hotkey    HotkeyConfig    `yaml:"hotkey"`
	Audio     AudioConfig     `yaml:"audio"`
	LogLevel  string          `yaml:"log_level"`
}

// DeviceConfig identifies the peripheral and how to talk to it.
type DeviceConfig struct {
	ServiceUUID          string        `yaml:"service_uuid"`
	CharacteristicUUID   string        `yaml:"characteristic_uuid"`
	ScanTimeout          time.Duration `yaml:"scan_timeout"` // 0 scans until found
	WriteWithoutResponse bool          `yaml:"write_without_response"`
}

// ReconnectConfig caps the reconnect backoff. The schedule itself
// (500ms doubling per attempt) is fixed.
type ReconnectConfig struct {
	MaxDelay time.Duration `yaml:"max_delay"` // 0 is unbounded
}

// DispatchConfig paces command writes.
type DispatchConfig struct {
	Rate         float64       `yaml:"rate"`
	Burst        int           `yaml:"burst"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TriggerConfig holds trigger button settings.
type TriggerConfig struct {
	Mode string `yaml:"mode"` // "direct" or "countdown"
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TriggerKeys []string `yaml:"trigger_keys"`
	ModeKeys    []string `yaml:"mode_keys"`
}

// AudioConfig holds countdown beep settings.
type AudioConfig struct {
	Beep       bool   `yaml:"beep"`
	BeepFile   string `yaml:"beep_file"` // optional WAV; a tone is synthesized otherwise
	SampleRate uint32 `yaml:"sample_rate"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rz67-trigger")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ServiceUUID:        ble.ServiceUUID,
			CharacteristicUUID: ble.CharacteristicUUID,
		},
		Dispatch: DispatchConfig{
			Rate:         20,
			Burst:        4,
			WriteTimeout: 5 * time.Second,
		},
		Trigger: TriggerConfig{
			Mode: "direct",
		},
		Hotkey: HotkeyConfig{
			Enabled:     true,
			TriggerKeys: []string{"ctrl", "shift", "t"},
			ModeKeys:    []string{"ctrl", "shift", "m"},
		},
		Audio: AudioConfig{
			Beep:       true,
			SampleRate: 44100,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in audio.beep_file is expanded to the user's
// home directory, and UUIDs are normalized to lowercase canonical form.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	cfg.Audio.BeepFile = expandTilde(cfg.Audio.BeepFile)
	cfg.Device.ServiceUUID = normalizeUUID(cfg.Device.ServiceUUID)
	cfg.Device.CharacteristicUUID = normalizeUUID(cfg.Device.CharacteristicUUID)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.Device.ServiceUUID); err != nil {
		return errors.Wrap(err, "device.service_uuid is not a valid UUID")
	}
	if _, err := uuid.Parse(c.Device.CharacteristicUUID); err != nil {
		return errors.Wrap(err, "device.characteristic_uuid is not a valid UUID")
	}
	if c.Device.ScanTimeout < 0 {
		return errors.New("device.scan_timeout must be >= 0")
	}

	if c.Reconnect.MaxDelay < 0 {
		return errors.New("reconnect.max_delay must be >= 0")
	}

	if c.Dispatch.Rate < 0 {
		return errors.New("dispatch.rate must be >= 0")
	}
	if c.Dispatch.Burst <= 0 {
		return errors.New("dispatch.burst must be > 0")
	}
	if c.Dispatch.WriteTimeout <= 0 {
		return errors.New("dispatch.write_timeout must be > 0")
	}

	switch c.Trigger.Mode {
	case "direct", "countdown":
	default:
		return errors.Errorf("trigger.mode must be \"direct\" or \"countdown\", got %q", c.Trigger.Mode)
	}

	if c.Hotkey.Enabled && len(c.Hotkey.TriggerKeys) == 0 {
		return errors.New("hotkey.trigger_keys must not be empty")
	}

	if c.Audio.Beep && c.Audio.BeepFile == "" && c.Audio.SampleRate == 0 {
		return errors.New("audio.sample_rate must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Backoff returns the fixed reconnect schedule with the configured cap.
func (c *Config) Backoff() ble.Backoff {
	b := ble.DefaultBackoff()
	b.Max = c.Reconnect.MaxDelay
	return b
}

// ParseLogLevel maps a log_level string to a logrus level. Unknown values
// fall back to info.
func ParseLogLevel(s string) logrus.Level {
	switch s {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

const defaultHeader = `# rz67-trigger configuration
#
# device:          peripheral UUIDs; scan_timeout 0 scans until found
# reconnect:       delay = 500ms * 2^(attempt-1); max_delay 0 is unbounded
# trigger.mode:    direct or countdown
# log_level:       debug, info, warn, error

`

// WriteDefault writes the default config to DefaultConfigPath. If a file
// already exists it is left untouched and ("", nil) is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "creating config dir")
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", errors.Wrap(err, "encoding default config")
	}

	content := append([]byte(defaultHeader), data...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", errors.Wrap(err, "writing config file")
	}
	return path, nil
}

// normalizeUUID lowercases a parseable UUID; anything else is returned as is
// for Validate to report.
func normalizeUUID(s string) string {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return u.String()
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
