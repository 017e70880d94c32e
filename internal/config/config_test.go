package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/rz67-trigger/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.ServiceUUID != ble.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want %q", cfg.Device.ServiceUUID, ble.ServiceUUID)
	}
	if cfg.Device.CharacteristicUUID != ble.CharacteristicUUID {
		t.Errorf("Device.CharacteristicUUID = %q, want %q", cfg.Device.CharacteristicUUID, ble.CharacteristicUUID)
	}
	if cfg.Reconnect.MaxDelay != 0 {
		t.Errorf("Reconnect.MaxDelay = %v, want 0 (unbounded)", cfg.Reconnect.MaxDelay)
	}
	if got := cfg.Backoff(); got != ble.DefaultBackoff() {
		t.Errorf("Backoff() = %+v, want %+v", got, ble.DefaultBackoff())
	}
	if cfg.Trigger.Mode != "direct" {
		t.Errorf("Trigger.Mode = %q, want %q", cfg.Trigger.Mode, "direct")
	}
	if len(cfg.Hotkey.TriggerKeys) != 3 {
		t.Errorf("Hotkey.TriggerKeys length = %d, want 3", len(cfg.Hotkey.TriggerKeys))
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  scan_timeout: 15s
  write_without_response: true
reconnect:
  max_delay: 30s
dispatch:
  rate: 10
  burst: 2
  write_timeout: 2s
trigger:
  mode: countdown
hotkey:
  enabled: false
  trigger_keys: ["alt", "space"]
audio:
  beep: false
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ScanTimeout != 15*time.Second {
		t.Errorf("Device.ScanTimeout = %v, want 15s", cfg.Device.ScanTimeout)
	}
	if !cfg.Device.WriteWithoutResponse {
		t.Error("Device.WriteWithoutResponse = false, want true")
	}
	// Unset fields keep their defaults.
	if cfg.Device.ServiceUUID != ble.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want default", cfg.Device.ServiceUUID)
	}

	want := ble.Backoff{Base: 500 * time.Millisecond, Multiplier: 2, Max: 30 * time.Second}
	if got := cfg.Backoff(); got != want {
		t.Errorf("Backoff() = %+v, want %+v", got, want)
	}
	if cfg.Dispatch.Rate != 10 || cfg.Dispatch.Burst != 2 || cfg.Dispatch.WriteTimeout != 2*time.Second {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Trigger.Mode != "countdown" {
		t.Errorf("Trigger.Mode = %q, want %q", cfg.Trigger.Mode, "countdown")
	}
	if cfg.Hotkey.Enabled {
		t.Error("Hotkey.Enabled = true, want false")
	}
	if len(cfg.Hotkey.TriggerKeys) != 2 || cfg.Hotkey.TriggerKeys[0] != "alt" || cfg.Hotkey.TriggerKeys[1] != "space" {
		t.Errorf("Hotkey.TriggerKeys = %v, want [alt space]", cfg.Hotkey.TriggerKeys)
	}
	if cfg.Audio.Beep {
		t.Error("Audio.Beep = true, want false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadKeepsFixedSchedule(t *testing.T) {
	// Backoff shape and countdown length are not user settings; stray keys
	// are ignored.
	cfgPath := writeConfig(t, `
reconnect:
  base: 50ms
  multiplier: 10
countdown:
  steps: 3
  interval: 100ms
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Backoff(); got != ble.DefaultBackoff() {
		t.Errorf("Backoff() = %+v, want %+v", got, ble.DefaultBackoff())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadNormalizesUUIDs(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  service_uuid: "C9239C9E-6FC9-4168-B3AA-53105EB990B0"
  characteristic_uuid: " 458D4DC9-349F-401D-B092-A2B1C55F5319 "
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Device.ServiceUUID != ble.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want %q", cfg.Device.ServiceUUID, ble.ServiceUUID)
	}
	if cfg.Device.CharacteristicUUID != ble.CharacteristicUUID {
		t.Errorf("Device.CharacteristicUUID = %q, want %q", cfg.Device.CharacteristicUUID, ble.CharacteristicUUID)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfgPath := writeConfig(t, `
audio:
  beep_file: ~/sounds/tick.wav
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "sounds/tick.wav")
	if cfg.Audio.BeepFile != expected {
		t.Errorf("Audio.BeepFile = %q, want %q", cfg.Audio.BeepFile, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() should return error for nonexistent file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want it to wrap os.ErrNotExist", err)
	}
	if !strings.HasPrefix(err.Error(), "reading config file: ") {
		t.Errorf("Load() error = %q, want reading config file context", err)
	}
}

func TestValidateKeepsUUIDCause(t *testing.T) {
	cfg := Default()
	cfg.Device.ServiceUUID = "not-a-uuid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should reject a malformed service uuid")
	}
	if !strings.HasPrefix(err.Error(), "device.service_uuid is not a valid UUID: ") {
		t.Errorf("Validate() error = %q, want field context", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "countdown: [not, a, map\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "bad service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "bad characteristic uuid",
			modify:  func(c *Config) { c.Device.CharacteristicUUID = "" },
			wantErr: true,
		},
		{
			name:    "negative scan timeout",
			modify:  func(c *Config) { c.Device.ScanTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative max delay",
			modify:  func(c *Config) { c.Reconnect.MaxDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "capped backoff",
			modify:  func(c *Config) { c.Reconnect.MaxDelay = time.Minute },
			wantErr: false,
		},
		{
			name:    "unlimited dispatch rate",
			modify:  func(c *Config) { c.Dispatch.Rate = 0 },
			wantErr: false,
		},
		{
			name:    "zero dispatch burst",
			modify:  func(c *Config) { c.Dispatch.Burst = 0 },
			wantErr: true,
		},
		{
			name:    "zero write timeout",
			modify:  func(c *Config) { c.Dispatch.WriteTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "invalid trigger mode",
			modify:  func(c *Config) { c.Trigger.Mode = "burst" },
			wantErr: true,
		},
		{
			name:    "empty trigger keys",
			modify:  func(c *Config) { c.Hotkey.TriggerKeys = nil },
			wantErr: true,
		},
		{
			name: "empty trigger keys with hotkeys disabled",
			modify: func(c *Config) {
				c.Hotkey.Enabled = false
				c.Hotkey.TriggerKeys = nil
			},
			wantErr: false,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name: "zero sample rate with beep file",
			modify: func(c *Config) {
				c.Audio.SampleRate = 0
				c.Audio.BeepFile = "/tmp/tick.wav"
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "rz67-trigger", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# rz67-trigger") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Trigger.Mode != "direct" {
		t.Errorf("written config Trigger.Mode = %q, want %q", cfg.Trigger.Mode, "direct")
	}
	if cfg.Dispatch.WriteTimeout != 5*time.Second {
		t.Errorf("written config Dispatch.WriteTimeout = %v, want 5s", cfg.Dispatch.WriteTimeout)
	}
	if strings.Contains(string(data), "multiplier") || strings.Contains(string(data), "steps") {
		t.Error("written config should not expose the fixed backoff or countdown length")
	}

	// The written file must round-trip through Load and pass validation.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "rz67-trigger")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"unknown", logrus.InfoLevel}, // defaults to info
		{"", logrus.InfoLevel},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
