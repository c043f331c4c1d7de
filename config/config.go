// Package config loads the tool configuration: a YAML file with
// environment-variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full tool configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Device DeviceConfig `yaml:"device"`
	Flash  FlashConfig  `yaml:"flash"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error
	Level string `yaml:"level" env:"ZODIN_LOG_LEVEL"`
}

// DeviceConfig identifies the device and bounds its I/O.
type DeviceConfig struct {
	// VendorID / ProductID select the USB device. Defaults match
	// Samsung download mode.
	VendorID  uint16 `yaml:"vendor_id" env:"ZODIN_VENDOR_ID"`
	ProductID uint16 `yaml:"product_id" env:"ZODIN_PRODUCT_ID"`

	ReadTimeout      time.Duration `yaml:"read_timeout" env:"ZODIN_READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"ZODIN_WRITE_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"ZODIN_HANDSHAKE_TIMEOUT"`
}

// FlashConfig holds flash job defaults.
type FlashConfig struct {
	FrameRetries  int `yaml:"frame_retries" env:"ZODIN_FRAME_RETRIES"`
	FrameSizeHint int `yaml:"frame_size_hint" env:"ZODIN_FRAME_SIZE_HINT"`

	VerifyIntegrity   bool `yaml:"verify_integrity" env:"ZODIN_VERIFY_INTEGRITY"`
	AutoReboot        bool `yaml:"auto_reboot" env:"ZODIN_AUTO_REBOOT"`
	BackupBeforeFlash bool `yaml:"backup_before_flash" env:"ZODIN_BACKUP_BEFORE_FLASH"`

	// BackupDir is where the CLI layer writes pre-flash backups
	BackupDir string `yaml:"backup_dir" env:"ZODIN_BACKUP_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Device: DeviceConfig{
			VendorID:         0x04e8,
			ProductID:        0x6601,
			ReadTimeout:      5 * time.Second,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 3 * time.Second,
		},
		Flash: FlashConfig{
			FrameRetries:    3,
			VerifyIntegrity: true,
			AutoReboot:      true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (when
// path is non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	return cfg, nil
}
