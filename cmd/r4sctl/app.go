package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/config"
	"github.com/chaz8081/redmond-ble/internal/device"
	"github.com/chaz8081/redmond-ble/internal/logging"
)

// Global flags
var (
	configPath   string
	logLevel     string
	outputFormat string
)

var (
	cfg     *config.Config
	adapter *ble.TinyGoAdapter
	disc    *ble.Discoverer
	mgr     *device.Manager
)

// setup loads the configuration and initializes logging.
func setup() error {
	var err error
	cfg, err = loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return logging.Initialize(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
}

// teardown disconnects every appliance and flushes the logs.
func teardown() {
	if mgr != nil {
		if err := mgr.Close(); err != nil {
			logging.Warn("disconnect failed", zap.Error(err))
		}
	}
	logging.Sync()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		c, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return c, nil
	}

	return config.Default(), nil
}

// discoverer returns the discoverer, creating the adapter on first use.
func discoverer() (*ble.Discoverer, error) {
	if disc != nil {
		return disc, nil
	}
	cache, err := ble.OpenCache(cfg.CacheFile)
	if err != nil {
		return nil, fmt.Errorf("device cache: %w", err)
	}
	adapter = ble.NewTinyGoAdapter(cfg.Adapter)
	disc = ble.NewDiscoverer(adapter, cache, cfg.ConnectTimeout)
	return disc, nil
}

// manager returns the device manager, creating it on first use.
func manager() (*device.Manager, error) {
	if mgr != nil {
		return mgr, nil
	}
	d, err := discoverer()
	if err != nil {
		return nil, err
	}

	opts := device.DefaultOptions()
	opts.Retries = cfg.Retries
	opts.Backoff = cfg.Backoff
	opts.NotifyTimeout = cfg.NotifyTimeout
	opts.TimezoneOffset = cfg.TimezoneOffset

	mgr = device.NewManager(device.ManagerConfig{
		Discovery: d,
		Dial: func(mac string, handles ble.Handles) ble.Transport {
			o := ble.DefaultGATTOptions()
			o.Handles = handles
			o.ConnectTimeout = cfg.ConnectTimeout
			return ble.NewGATTTransport(adapter, mac, o)
		},
		Options: opts,
		Lookup:  lookupDevice,
	})
	return mgr, nil
}

// lookupDevice resolves the per-appliance settings from the config.
func lookupDevice(mac string) (device.DeviceConfig, error) {
	key, err := cfg.KeyFor(mac)
	if err != nil {
		return device.DeviceConfig{}, fmt.Errorf("%w (set key or secret in the config, see 'r4sctl keygen')", err)
	}
	dc := device.DeviceConfig{Key: key[:]}
	if d, ok := cfg.Lookup(mac); ok {
		dc.Model = d.Model
	}
	cat, ok, err := cfg.CatalogueFor(mac)
	if err != nil {
		return device.DeviceConfig{}, err
	}
	if ok {
		dc.Catalogue = cat
	}
	return dc, nil
}
