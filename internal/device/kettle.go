package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/redmond-ble/internal/ble"
	"github.com/chaz8081/redmond-ble/internal/ble/protocol"
)

// Kettle is the façade of RK-G200 family kettles.
type Kettle struct {
	*Controller
}

// NewKettle creates a kettle controller. The bring-up batch also reads the
// boil light scheme.
func NewKettle(t ble.Transport, opts Options) (*Kettle, error) {
	c, err := NewController(t, opts)
	if err != nil {
		return nil, err
	}
	c.bringUp = []protocol.Command{c.cat.GetLights(protocol.LightBoil)}
	return &Kettle{Controller: c}, nil
}

// unknownBoilTime is assumed when the status cannot be decoded.
const unknownBoilTime = -protocol.MaxBoilTime

// SetMode selects a program and switches the kettle on, or switches it off.
// The boil time offset is kept from the kettle's status, which is read first
// when none is cached, or falls back to the shortest offset when that status
// is unreadable. Invalid combinations fail with a
// *protocol.ValidationError before anything is sent.
func (k *Kettle) SetMode(ctx context.Context, on bool, mode protocol.Mode, temp uint8) error {
	if !on {
		return k.do(ctx, k.sync(), k.cat.SwitchOff(), k.cat.Status())
	}

	if _, err := protocol.NewStatus(mode, temp, 0); err != nil {
		return err
	}
	boil := int8(unknownBoilTime)
	if current, ok := k.Status(); ok {
		boil = current.BoilTime
	} else if current, err := k.UpdateStatus(ctx); err == nil {
		boil = current.BoilTime
	} else if !errors.As(err, new(*protocol.DecodeError)) {
		return err
	}
	st, err := protocol.NewStatus(mode, temp, boil)
	if err != nil {
		return err
	}
	setMode, err := k.cat.SetMode(st)
	if err != nil {
		return err
	}
	return k.do(ctx, k.sync(), setMode, k.cat.SwitchOn(), k.cat.Status())
}

// SwitchOn starts the selected program.
func (k *Kettle) SwitchOn(ctx context.Context) error {
	return k.do(ctx, k.cat.SwitchOn(), k.cat.Status())
}

// SwitchOff stops the running program.
func (k *Kettle) SwitchOff(ctx context.Context) error {
	return k.do(ctx, k.cat.SwitchOff(), k.cat.Status())
}

// UpdateStatus refreshes the cached status.
func (k *Kettle) UpdateStatus(ctx context.Context) (protocol.Status, error) {
	if err := k.do(ctx, k.cat.Status()); err != nil {
		return protocol.Status{}, err
	}
	st, _ := k.Status()
	return st, nil
}

// UpdateStatistics refreshes the usage statistics.
func (k *Kettle) UpdateStatistics(ctx context.Context) (protocol.Statistics, error) {
	if err := k.do(ctx, k.cat.UsageStats(), k.cat.CycleStats()); err != nil {
		return protocol.Statistics{}, err
	}
	return k.Statistics(), nil
}

// SyncClock sets the kettle clock.
func (k *Kettle) SyncClock(ctx context.Context) error {
	return k.do(ctx, k.sync())
}

// SetLights installs a light scheme and reads it back.
func (k *Kettle) SetLights(ctx context.Context, cs protocol.ColorScheme) error {
	return k.do(ctx, k.cat.SetLights(cs), k.cat.GetLights(protocol.LightType(cs.ID)))
}

// UseBacklight switches the night light.
func (k *Kettle) UseBacklight(ctx context.Context, on bool) error {
	return k.do(ctx, k.cat.UseBacklight(on))
}

// SetSound enables or disables the beeper.
func (k *Kettle) SetSound(ctx context.Context, on bool) error {
	return k.do(ctx, k.cat.SetSound(on), k.cat.Status())
}

// SetLock enables or disables the child lock.
func (k *Kettle) SetLock(ctx context.Context, on bool) error {
	return k.do(ctx, k.cat.SetLock(on), k.cat.Status())
}

// AddEvent schedules a calendar event and returns the uid the kettle
// assigned.
func (k *Kettle) AddEvent(ctx context.Context, ev protocol.CalendarEvent) (uint8, error) {
	resps, err := k.DoCommands(ctx, k.cat.AddEvent(ev), k.cat.CalendarInfo())
	if err != nil {
		return 0, err
	}
	return resps[0].(protocol.AddEventResult).UID, nil
}

// Event reads a calendar event.
func (k *Kettle) Event(ctx context.Context, uid uint8) (protocol.CalendarEvent, error) {
	resp, err := k.DoCommand(ctx, k.cat.GetEvent(uid))
	if err != nil {
		return protocol.CalendarEvent{}, err
	}
	return resp.(protocol.CalendarEvent), nil
}

// DeleteEvent removes a calendar event.
func (k *Kettle) DeleteEvent(ctx context.Context, uid uint8) error {
	return k.do(ctx, k.cat.DeleteEvent(uid), k.cat.CalendarInfo())
}

func (k *Kettle) do(ctx context.Context, cmds ...protocol.Command) error {
	if _, err := k.DoCommands(ctx, cmds...); err != nil {
		return fmt.Errorf("device: kettle: %w", err)
	}
	return nil
}
