package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
	"github.com/chaz8081/redmond-ble/internal/logging"
	"github.com/chaz8081/redmond-ble/internal/session"
)

// Discoverer learns the attributes of an appliance.
type Discoverer interface {
	Discover(ctx context.Context, mac string) (ble.DeviceInfo, error)
}

// Dialer returns a transport for the appliance at mac.
type Dialer func(mac string, handles ble.Handles) ble.Transport

// DeviceConfig holds per-appliance settings.
type DeviceConfig struct {
	Key       []byte             // overrides Options.Key when set
	Model     string             // skips discovery when set
	Catalogue protocol.Catalogue // overrides the model's era when set
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Discovery Discoverer
	Dial      Dialer
	Options   Options
	// Lookup returns per-appliance settings; nil means none.
	Lookup func(mac string) (DeviceConfig, error)
}

// Manager hands out connected controllers by MAC. Every appliance gets its
// own transport and session, so appliances can be driven in parallel.
type Manager struct {
	cfg ManagerConfig
	log *zap.Logger

	mu      sync.Mutex
	kettles map[string]*Kettle
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     logging.Named("manager"),
		kettles: make(map[string]*Kettle),
	}
}

// Kettle returns the authenticated kettle at mac, creating and connecting it
// on first use.
func (m *Manager) Kettle(ctx context.Context, mac string) (*Kettle, error) {
	k, err := m.kettle(ctx, mac)
	if err != nil {
		return nil, err
	}
	if k.Phase() == session.Authenticated {
		return k, nil
	}
	if err := k.Connect(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

// Pair returns the kettle at mac after pairing its configured key. The user
// must hold the kettle's pairing button until ctx is done or Pair returns.
func (m *Manager) Pair(ctx context.Context, mac string) (*Kettle, error) {
	k, err := m.kettle(ctx, mac)
	if err != nil {
		return nil, err
	}
	if err := k.Pair(ctx); err != nil {
		return nil, err
	}
	return k, nil
}

func (m *Manager) kettle(ctx context.Context, mac string) (*Kettle, error) {
	mac = strings.ToUpper(strings.TrimSpace(mac))

	m.mu.Lock()
	k, ok := m.kettles[mac]
	m.mu.Unlock()
	if ok {
		return k, nil
	}

	k, err := m.newKettle(ctx, mac)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.kettles[mac]; ok {
		return existing, nil
	}
	m.kettles[mac] = k
	return k, nil
}

func (m *Manager) newKettle(ctx context.Context, mac string) (*Kettle, error) {
	var dc DeviceConfig
	if m.cfg.Lookup != nil {
		var err error
		if dc, err = m.cfg.Lookup(mac); err != nil {
			return nil, err
		}
	}

	handles := ble.DefaultHandles
	name := dc.Model
	if name == "" {
		if m.cfg.Discovery == nil {
			return nil, fmt.Errorf("device: %s: no model configured and no discovery", mac)
		}
		info, err := m.cfg.Discovery.Discover(ctx, mac)
		if err != nil {
			return nil, fmt.Errorf("device: discover %s: %w", mac, err)
		}
		name, handles = info.Name, info.Handles
	}

	model, err := LookupModel(name)
	if err != nil {
		return nil, err
	}
	if err := model.Supported(); err != nil {
		return nil, err
	}
	if model.Kind != KindKettle {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotImplemented, model.Name, model.Kind)
	}

	opts := m.cfg.Options
	opts.Handles = handles
	opts.Catalogue = model.Catalogue()
	if dc.Catalogue != (protocol.Catalogue{}) {
		opts.Catalogue = dc.Catalogue
	}
	if len(dc.Key) > 0 {
		opts.Key = dc.Key
	}
	m.log.Info("new device", zap.String("mac", mac), zap.String("model", model.Name), zap.Stringer("era", opts.Catalogue.Era()))
	return NewKettle(m.cfg.Dial(mac, handles), opts)
}

// Close disconnects every appliance.
func (m *Manager) Close() error {
	m.mu.Lock()
	kettles := make([]*Kettle, 0, len(m.kettles))
	for _, k := range m.kettles {
		kettles = append(kettles, k)
	}
	m.mu.Unlock()

	var errs []error
	for _, k := range kettles {
		if err := k.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
