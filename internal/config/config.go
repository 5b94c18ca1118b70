package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/redmond-ble/internal/ble/crypto"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
	"github.com/chaz8081/redmond-ble/internal/logging"
)

// ErrNoKey is returned by KeyFor when no key is configured for a device.
var ErrNoKey = errors.New("no key configured")

// Config holds all application configuration.
type Config struct {
	Adapter        string         `yaml:"adapter"`
	Key            string         `yaml:"key"`      // 16 hex chars
	Secret         string         `yaml:"secret"`   // hex; per-device keys are derived from it
	Protocol       string         `yaml:"protocol"` // "legacy" or "revised"; empty follows the model
	Retries        int            `yaml:"retries"`
	Backoff        time.Duration  `yaml:"backoff"`
	NotifyTimeout  time.Duration  `yaml:"notify_timeout"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	CacheFile      string         `yaml:"cache_file"`
	TimezoneOffset time.Duration  `yaml:"timezone_offset"`
	LogLevel       string         `yaml:"log_level"`
	LogFile        string         `yaml:"log_file"`
	Devices        []DeviceConfig `yaml:"devices"`
}

// DeviceConfig holds settings of one appliance.
type DeviceConfig struct {
	MAC      string `yaml:"mac"`
	Name     string `yaml:"name"`            // alias usable instead of the MAC
	Model    string `yaml:"model,omitempty"` // discovered when empty
	Key      string `yaml:"key,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "r4s")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter:        "hci0",
		Retries:        3,
		Backoff:        time.Second,
		NotifyTimeout:  3 * time.Second,
		ConnectTimeout: 10 * time.Second,
		CacheFile:      "~/.cache/r4s/devices.yaml",
		LogLevel:       "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in cache_file and log_file is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.CacheFile = expandTilde(cfg.CacheFile)
	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// defaultHeader starts every config written by WriteDefault.
const defaultHeader = `# r4s configuration
#
# key:    16 hex chars, the key paired with every appliance
# secret: hex; when set, each appliance gets its own key derived from it
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Retries < 1 {
		return fmt.Errorf("retries must be >= 1, got %d", c.Retries)
	}
	if c.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("notify_timeout must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}

	if c.Key != "" {
		if _, err := protocol.ParseKeyHex(c.Key); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}
	if c.Secret != "" {
		if _, err := hex.DecodeString(c.Secret); err != nil {
			return fmt.Errorf("secret must be hex: %w", err)
		}
	}
	if _, err := protocol.CatalogueFor(c.Protocol); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.MAC == "" {
			return fmt.Errorf("devices[%d].mac must not be empty", i)
		}
		mac := strings.ToUpper(d.MAC)
		if seen[mac] {
			return fmt.Errorf("devices[%d]: duplicate mac %s", i, d.MAC)
		}
		seen[mac] = true
		if d.Key != "" {
			if _, err := protocol.ParseKeyHex(d.Key); err != nil {
				return fmt.Errorf("devices[%d].key: %w", i, err)
			}
		}
		if d.Protocol != "" {
			if _, err := protocol.CatalogueFor(d.Protocol); err != nil {
				return fmt.Errorf("devices[%d].protocol: %w", i, err)
			}
		}
	}

	return nil
}

// Lookup finds a device by MAC or alias.
func (c *Config) Lookup(target string) (DeviceConfig, bool) {
	target = strings.TrimSpace(target)
	for _, d := range c.Devices {
		if strings.EqualFold(d.MAC, target) || (d.Name != "" && d.Name == target) {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// ResolveMAC returns the MAC of the device named target, or target itself
// in upper case when no alias matches.
func (c *Config) ResolveMAC(target string) string {
	if d, ok := c.Lookup(target); ok {
		return strings.ToUpper(d.MAC)
	}
	return strings.ToUpper(strings.TrimSpace(target))
}

// KeyFor returns the authentication key of the device at mac. A per-device
// key wins over the global key; without either, the key is derived from the
// secret.
func (c *Config) KeyFor(mac string) (protocol.Key, error) {
	if d, ok := c.Lookup(mac); ok && d.Key != "" {
		return protocol.ParseKeyHex(d.Key)
	}
	if c.Key != "" {
		return protocol.ParseKeyHex(c.Key)
	}
	if c.Secret != "" {
		secret, err := hex.DecodeString(c.Secret)
		if err != nil {
			return protocol.Key{}, fmt.Errorf("secret must be hex: %w", err)
		}
		return crypto.DeriveKey(secret, mac)
	}
	return protocol.Key{}, fmt.Errorf("%s: %w", mac, ErrNoKey)
}

// CatalogueFor returns the command catalogue configured for the device at
// mac. ok is false when neither the device nor the global config names a
// protocol, leaving the choice to the model.
func (c *Config) CatalogueFor(mac string) (cat protocol.Catalogue, ok bool, err error) {
	name := c.Protocol
	if d, found := c.Lookup(mac); found && d.Protocol != "" {
		name = d.Protocol
	}
	if name == "" {
		return protocol.Catalogue{}, false, nil
	}
	cat, err = protocol.CatalogueFor(name)
	return cat, err == nil, err
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
