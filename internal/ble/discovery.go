package ble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/redmond-ble/internal/logging"
)

// DeviceInfo is what discovery learns about a peripheral.
type DeviceInfo struct {
	MAC     string  `yaml:"mac"`
	Name    string  `yaml:"name"` // GATT device name, e.g. "RK-G200S"
	Handles Handles `yaml:"handles"`
}

// Cache persists DeviceInfo keyed by MAC in a YAML file, so the appliance
// does not have to be interrogated on every connect.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]DeviceInfo
}

type cacheFile struct {
	Devices []DeviceInfo `yaml:"devices"`
}

// OpenCache loads the cache at path. A missing file yields an empty cache; an
// empty path yields a cache that is never written to disk.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]DeviceInfo)}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ble: read cache: %w", err)
	}
	var f cacheFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ble: parse cache %s: %w", path, err)
	}
	for _, d := range f.Devices {
		c.entries[normalizeMAC(d.MAC)] = d
	}
	return c, nil
}

// Get returns the cached entry for mac.
func (c *Cache) Get(mac string) (DeviceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[normalizeMAC(mac)]
	return d, ok
}

// Put stores info and writes the cache file.
func (c *Cache) Put(info DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[normalizeMAC(info.MAC)] = info
	return c.save()
}

// Forget removes mac from the cache.
func (c *Cache) Forget(mac string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, normalizeMAC(mac))
	return c.save()
}

// save writes the cache file; the caller must hold mu.
func (c *Cache) save() error {
	if c.path == "" {
		return nil
	}
	f := cacheFile{Devices: make([]DeviceInfo, 0, len(c.entries))}
	for _, d := range c.entries {
		f.Devices = append(f.Devices, d)
	}
	sort.Slice(f.Devices, func(i, j int) bool { return f.Devices[i].MAC < f.Devices[j].MAC })

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("ble: encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("ble: create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("ble: write cache: %w", err)
	}
	return nil
}

func normalizeMAC(mac string) string { return strings.ToUpper(strings.TrimSpace(mac)) }

// Discoverer finds Ready for Sky appliances and learns their attributes.
type Discoverer struct {
	adapter Adapter
	cache   *Cache
	timeout time.Duration
	log     *zap.Logger
}

// NewDiscoverer creates a discoverer. cache may be nil.
func NewDiscoverer(adapter Adapter, cache *Cache, timeout time.Duration) *Discoverer {
	if cache == nil {
		cache, _ = OpenCache("")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discoverer{adapter: adapter, cache: cache, timeout: timeout, log: logging.Named("discovery")}
}

// Scan lists peripherals advertising the Ready for Sky service until ctx is
// done or the discoverer's timeout elapses.
func (d *Discoverer) Scan(ctx context.Context) ([]Device, error) {
	if err := d.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	devices, err := d.adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	d.log.Info("scan finished", zap.Int("found", len(devices)))
	return devices, nil
}

// Discover returns the attributes of the appliance at mac, from the cache
// when possible. Otherwise it connects, reads the device name, checks that
// both protocol characteristics exist and caches the result.
func (d *Discoverer) Discover(ctx context.Context, mac string) (DeviceInfo, error) {
	if info, ok := d.cache.Get(mac); ok {
		return info, nil
	}
	if err := d.adapter.Enable(); err != nil {
		return DeviceInfo{}, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := d.adapter.Connect(ctx, mac)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ble: connect for discovery: %w", err)
	}
	defer func() { _ = conn.Disconnect() }()

	nameChar, err := conn.DiscoverCharacteristic(GenericAccessUUID, DeviceNameCharUUID)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ble: discover device name: %w", err)
	}
	raw, err := nameChar.Read()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ble: read device name: %w", err)
	}
	for _, uuid := range []string{CommandCharUUID, ResponseCharUUID} {
		if _, err := conn.DiscoverCharacteristic(ServiceUUID, uuid); err != nil {
			return DeviceInfo{}, fmt.Errorf("ble: %s is not a Ready for Sky appliance: %w", mac, err)
		}
	}

	info := DeviceInfo{
		MAC:     mac,
		Name:    strings.TrimRight(string(raw), "\x00"),
		Handles: DefaultHandles,
	}
	if err := d.cache.Put(info); err != nil {
		d.log.Warn("could not cache device", zap.String("mac", mac), zap.Error(err))
	}
	d.log.Info("discovered", zap.String("mac", mac), zap.String("name", info.Name))
	return info, nil
}
