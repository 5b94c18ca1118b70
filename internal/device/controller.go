// Package device drives Ready for Sky appliances: connection and
// authentication with retries, the bring-up batch that primes cached state,
// command batches that survive a dropped link, and appliance façades built on
// top of them.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
	"github.com/chaz8081/redmond-ble/internal/logging"
	"github.com/chaz8081/redmond-ble/internal/session"
)

// Options configures a Controller.
type Options struct {
	Key            []byte             // authentication key, exactly 8 bytes
	Catalogue      protocol.Catalogue // zero value selects protocol.Revised
	Handles        ble.Handles        // zero value selects ble.DefaultHandles
	Retries        int                // attempts for authentication and batches (default 3)
	Backoff        time.Duration      // fixed sleep between attempts
	NotifyTimeout  time.Duration      // wait for one reply (default session.DefaultTimeout)
	TimezoneOffset time.Duration      // sent with clock sync
	Now            func() time.Time   // clock source for sync (default time.Now)
}

// DefaultOptions returns sensible defaults; Key must still be set.
func DefaultOptions() Options {
	return Options{
		Catalogue:     protocol.Revised,
		Handles:       ble.DefaultHandles,
		Retries:       3,
		Backoff:       time.Second,
		NotifyTimeout: session.DefaultTimeout,
		Now:           time.Now,
	}
}

// Controller owns one appliance connection and the values parsed from its
// replies. Operations are serialized; cached values may be read at any time.
type Controller struct {
	transport ble.Transport
	session   *session.Session
	cat       protocol.Catalogue
	key       protocol.Key
	opts      Options
	log       *zap.Logger

	// bringUp is sent between the statistics and the clock sync of the
	// first-connect batch.
	bringUp []protocol.Command

	run sync.Mutex // serializes operations

	mu       sync.Mutex
	firmware *protocol.Version
	status   *protocol.Status
	stats    protocol.Statistics
	lights   map[uint8]protocol.ColorScheme
	calendar *protocol.CalendarInfo
}

// NewController creates a controller talking through t. It fails with a
// *protocol.ValidationError when the key is not 8 bytes long.
func NewController(t ble.Transport, opts Options) (*Controller, error) {
	key, err := protocol.ParseKey(opts.Key)
	if err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.Catalogue == (protocol.Catalogue{}) {
		opts.Catalogue = def.Catalogue
	}
	if opts.Handles == (ble.Handles{}) {
		opts.Handles = def.Handles
	}
	if opts.Retries <= 0 {
		opts.Retries = def.Retries
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = def.NotifyTimeout
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Controller{
		transport: t,
		session:   session.New(t, session.Options{Handles: opts.Handles, Timeout: opts.NotifyTimeout}),
		cat:       opts.Catalogue,
		key:       key,
		opts:      opts,
		log:       logging.Named("device"),
		lights:    make(map[uint8]protocol.ColorScheme),
	}, nil
}

// Catalogue returns the command catalogue the controller speaks.
func (c *Controller) Catalogue() protocol.Catalogue { return c.cat }

// State returns the session state.
func (c *Controller) State() session.State { return c.session.State() }

// Phase returns the session lifecycle phase.
func (c *Controller) Phase() session.Phase { return c.session.Phase() }

// policy returns the retry schedule: Retries attempts, Backoff apart.
func (c *Controller) policy(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.Backoff), uint64(c.opts.Retries-1))
	return backoff.WithContext(b, ctx)
}

func (c *Controller) notify(op string, attempt *int) backoff.Notify {
	return func(err error, next time.Duration) {
		c.log.Warn(op+" failed, retrying",
			zap.Int("attempt", *attempt),
			zap.Int("retries", c.opts.Retries),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
}

// Connect establishes the connection and authenticates, retrying failed
// attempts. When every attempt fails the connection is torn down and the
// error matches ErrAuthFailed.
func (c *Controller) Connect(ctx context.Context) error {
	c.run.Lock()
	defer c.run.Unlock()
	return c.connect(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	attempt := 0
	authTried := false
	err := backoff.RetryNotify(func() error {
		attempt++
		tried, err := c.connectOnce(ctx)
		authTried = authTried || tried
		return err
	}, c.policy(ctx), c.notify("connect", &attempt))
	if err == nil {
		c.log.Info("authenticated", zap.Int("attempts", attempt), zap.Stringer("session", c.session.ID()))
		return nil
	}
	c.teardown()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("device: connect: %w", ctxErr)
	}
	if authTried {
		return fmt.Errorf("%w after %d attempts: %w", ErrAuthFailed, attempt, err)
	}
	return fmt.Errorf("device: connect after %d attempts: %w", attempt, err)
}

// errKeyRejected is a single refused authentication.
var errKeyRejected = errors.New("device: key rejected")

// connectOnce makes one connection and authentication attempt. It reports
// whether an authentication request was sent.
func (c *Controller) connectOnce(ctx context.Context) (bool, error) {
	if !c.transport.Connected() {
		if err := c.transport.Connect(ctx); err != nil {
			return false, &session.TransportError{Op: "connect", Err: err}
		}
		c.session.Reset()
	}
	if err := c.session.EnableNotifications(); err != nil {
		c.teardown()
		return false, err
	}
	resp, err := c.session.Send(c.cat.Auth(c.key))
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return true, backoff.Permanent(err)
		}
		if session.IsRetryable(err) {
			c.teardown()
		}
		return true, err
	}
	if ok := resp.(protocol.Success).OK; !ok {
		return true, errKeyRejected
	}
	return true, nil
}

// teardown drops the connection and forgets the session state.
func (c *Controller) teardown() {
	if err := c.transport.Disconnect(); err != nil {
		c.log.Warn("disconnect failed", zap.Error(err))
	}
	c.session.Reset()
}

// Disconnect closes the connection. Cached values are kept.
func (c *Controller) Disconnect() error {
	c.run.Lock()
	defer c.run.Unlock()
	err := c.transport.Disconnect()
	c.session.Reset()
	if err != nil {
		return fmt.Errorf("device: disconnect: %w", err)
	}
	return nil
}

// FirstConnect clears all cached values, connects if needed and runs the
// bring-up batch: firmware, usage statistics, cycle statistics, the
// appliance specific commands, clock sync and status. On failure the values
// cached by the commands that succeeded are kept.
func (c *Controller) FirstConnect(ctx context.Context) error {
	c.run.Lock()
	defer c.run.Unlock()

	c.clearCache()
	if c.session.Phase() != session.Authenticated {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}
	c.session.ResetCounter()

	cmds := []protocol.Command{c.cat.Firmware(), c.cat.UsageStats(), c.cat.CycleStats()}
	cmds = append(cmds, c.bringUp...)
	cmds = append(cmds, c.sync(), c.cat.Status())
	_, err := c.runBatch(ctx, cmds)
	return err
}

// DoCommand sends one command and returns its reply.
func (c *Controller) DoCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	resps, err := c.DoCommands(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// DoCommands sends cmds in order and returns their replies. A timeout or
// link failure tears the connection down; the batch then reconnects,
// authenticates and resumes at the failed command, up to Retries attempts.
// When the last attempt failed to authenticate, the connection is torn down
// and the error matches ErrAuthFailed. Other failures end the batch at once. Values cached by completed commands
// are kept either way.
func (c *Controller) DoCommands(ctx context.Context, cmds ...protocol.Command) ([]protocol.Response, error) {
	c.run.Lock()
	defer c.run.Unlock()
	return c.runBatch(ctx, cmds)
}

func (c *Controller) runBatch(ctx context.Context, cmds []protocol.Command) ([]protocol.Response, error) {
	resps := make([]protocol.Response, 0, len(cmds))
	attempt := 0
	inAuth := false
	op := func() error {
		attempt++
		inAuth = false
		if c.session.Phase() != session.Authenticated {
			tried, err := c.connectOnce(ctx)
			if err != nil {
				inAuth = tried
				return err
			}
		}
		for len(resps) < len(cmds) {
			cmd := cmds[len(resps)]
			resp, err := c.session.Send(cmd)
			if err != nil {
				if session.IsRetryable(err) {
					c.teardown()
					return err
				}
				return backoff.Permanent(err)
			}
			c.apply(resp)
			resps = append(resps, resp)
			if err := rejection(cmd.Opcode(), resp); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}
	if err := backoff.RetryNotify(op, c.policy(ctx), c.notify("batch", &attempt)); err != nil {
		if inAuth {
			c.teardown()
		}
		if ctxErr := ctx.Err(); ctxErr != nil && (inAuth || session.IsRetryable(err)) {
			return resps, fmt.Errorf("device: batch: %w", ctxErr)
		}
		if inAuth {
			return resps, fmt.Errorf("%w after %d attempts: %w", ErrAuthFailed, attempt, err)
		}
		if len(resps) < len(cmds) && attempt >= c.opts.Retries {
			return resps, fmt.Errorf("device: %s failed after %d attempts: %w", cmds[len(resps)].Opcode(), attempt, err)
		}
		return resps, err
	}
	return resps, nil
}

// sync builds a clock sync for the current time.
func (c *Controller) sync() protocol.Command {
	return c.cat.Sync(c.opts.Now(), c.opts.TimezoneOffset)
}

// apply caches the values carried by resp.
func (c *Controller) apply(resp protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r := resp.(type) {
	case protocol.Version:
		c.firmware = &r
	case protocol.Status:
		c.status = &r
	case protocol.UsageStats:
		c.stats = c.stats.Merge(r.Statistics())
	case protocol.CycleStats:
		c.stats = c.stats.Merge(r.Statistics())
	case protocol.ColorScheme:
		c.lights[r.ID] = r
	case protocol.CalendarInfo:
		c.calendar = &r
	}
}

func (c *Controller) clearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.firmware = nil
	c.status = nil
	c.stats = protocol.Statistics{}
	c.lights = make(map[uint8]protocol.ColorScheme)
	c.calendar = nil
}

// Firmware returns the cached firmware version.
func (c *Controller) Firmware() (protocol.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firmware == nil {
		return protocol.Version{}, false
	}
	return *c.firmware, true
}

// Status returns the cached status.
func (c *Controller) Status() (protocol.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == nil {
		return protocol.Status{}, false
	}
	return *c.status, true
}

// Statistics returns the merged usage statistics.
func (c *Controller) Statistics() protocol.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Lights returns the cached scheme with the given id.
func (c *Controller) Lights(id uint8) (protocol.ColorScheme, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.lights[id]
	return cs, ok
}

// CalendarInfo returns the cached calendar capacity.
func (c *Controller) CalendarInfo() (protocol.CalendarInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendar == nil {
		return protocol.CalendarInfo{}, false
	}
	return *c.calendar, true
}

// Pair authenticates with a new key while the user holds the appliance's
// pairing button. It keeps trying, Backoff apart, until the key is accepted
// or ctx is done.
func (c *Controller) Pair(ctx context.Context) error {
	c.run.Lock()
	defer c.run.Unlock()

	attempt := 0
	b := backoff.WithContext(backoff.NewConstantBackOff(c.opts.Backoff), ctx)
	err := backoff.RetryNotify(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		_, err := c.connectOnce(ctx)
		return err
	}, b, func(err error, _ time.Duration) {
		c.log.Info("waiting for pairing mode", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		c.teardown()
		return fmt.Errorf("%w: pairing: %w", ErrAuthFailed, err)
	}
	c.log.Info("paired", zap.Int("attempts", attempt))
	return nil
}
