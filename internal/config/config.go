package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/btlock/internal/radio"
)

// DefaultAddress is the HC-05 module fitted to the reference controller.
const DefaultAddress = "98:D3:31:FD:4B:2A"

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	Radio    RadioConfig  `yaml:"radio"`
	Auth     AuthConfig   `yaml:"auth"`
	Daemon   DaemonConfig `yaml:"daemon"`
	Hotkey   HotkeyConfig `yaml:"hotkey"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig identifies the one lock controller.
type DeviceConfig struct {
	Address       string `yaml:"address"`
	RFCOMMChannel uint8  `yaml:"rfcomm_channel"`
}

// RadioConfig selects the host Bluetooth backend.
type RadioConfig struct {
	Backend        string        `yaml:"backend"` // "rfcomm" or "bleuart"
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // 0 leaves it to the platform
}

// AuthConfig selects how the operator is verified before each toggle.
type AuthConfig struct {
	Method         string `yaml:"method"` // "passphrase", "fprintd" or "none"
	PassphraseHash string `yaml:"passphrase_hash"`
	FprintdFinger  string `yaml:"fprintd_finger"`
	Prompt         string `yaml:"prompt"`
}

// DaemonConfig holds IPC and metrics settings.
type DaemonConfig struct {
	Socket        string `yaml:"socket"`         // empty = $XDG_RUNTIME_DIR/btlock.sock
	MetricsListen string `yaml:"metrics_listen"` // empty = disabled
}

// HotkeyConfig holds the toggle hotkey. No keys disables it.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "btlock")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Address:       DefaultAddress,
			RFCOMMChannel: 1,
		},
		Radio: RadioConfig{
			Backend:        "rfcomm",
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Method:        "passphrase",
			FprintdFinger: "any",
			Prompt:        "Unlock door",
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "l"},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in daemon.socket is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Device.Address = radio.NormalizeAddress(cfg.Device.Address)
	cfg.Daemon.Socket = expandTilde(cfg.Daemon.Socket)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address == "" {
		return fmt.Errorf("device.address must not be empty")
	}
	if _, err := radio.ParseAddress(c.Device.Address); err != nil {
		return fmt.Errorf("device.address: %w", err)
	}

	switch c.Radio.Backend {
	case "rfcomm":
		if c.Device.RFCOMMChannel < 1 || c.Device.RFCOMMChannel > 30 {
			return fmt.Errorf("device.rfcomm_channel must be 1-30, got %d", c.Device.RFCOMMChannel)
		}
	case "bleuart":
		if c.Radio.ScanTimeout <= 0 {
			return fmt.Errorf("radio.scan_timeout must be > 0 for the bleuart backend")
		}
	default:
		return fmt.Errorf("radio.backend must be \"rfcomm\" or \"bleuart\", got %q", c.Radio.Backend)
	}

	if c.Radio.ConnectTimeout < 0 {
		return fmt.Errorf("radio.connect_timeout must be >= 0")
	}

	switch c.Auth.Method {
	case "passphrase":
		if c.Auth.PassphraseHash == "" {
			return errors.New("auth.passphrase_hash must be set for method \"passphrase\" (generate one with `btlock hash-passphrase`)")
		}
	case "fprintd", "none":
	default:
		return fmt.Errorf("auth.method must be \"passphrase\", \"fprintd\" or \"none\", got %q", c.Auth.Method)
	}

	for i, k := range c.Hotkey.Keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("hotkey.keys[%d] must not be empty", i)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultHeader = `# btlock configuration
#
# device.address   hardware address of the bonded lock controller
# radio.backend    rfcomm (classic serial, Linux) or bleuart (HM-10 style bridge)
# auth.method      passphrase | fprintd | none
#                  run "btlock hash-passphrase" to fill auth.passphrase_hash
#
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level to slog. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
