package intiface

import (
	"fmt"
	"sync"
	"time"

	"github.com/nullaxis/intibridge/internal/device"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
)

// commandSender is the slice of the client the dispatcher needs.
type commandSender interface {
	Send(data []byte) error
	State() State
}

// CommandKind identifies the kind of a tracked command.
type CommandKind string

const (
	CommandVibrate CommandKind = "vibrate"
	CommandStop    CommandKind = "stop"
)

// PendingCommand is a command awaiting its scheduled auto-stop.
type PendingCommand struct {
	ID          uint32      `json:"id"`
	DeviceIndex uint32      `json:"device_index"`
	Kind        CommandKind `json:"kind"`
	Speed       float64     `json:"speed"`
	Position    *float64    `json:"position,omitempty"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Acked       bool        `json:"acked"`
}

// CommandReceipt describes a command as it was sent, after defaults
// and clamping were applied.
type CommandReceipt struct {
	ID          uint32   `json:"id"`
	DeviceIndex uint32   `json:"device_index"`
	DeviceName  string   `json:"device_name"`
	Speed       float64  `json:"speed"`
	Position    *float64 `json:"position,omitempty"`
	Duration    float64  `json:"duration"`
}

// stopTimer pairs an auto-stop timer with the command it belongs to.
// The map holds at most one per device; pointer identity tells a fired
// callback whether it has been superseded.
type stopTimer struct {
	timer *time.Timer
	cmdID uint32
}

// Dispatcher translates high-level control operations into protocol
// messages. It owns auto-stop scheduling: a vibrate with a duration
// arms a timer that sends a stop unless a later command supersedes it
// first, so at most one auto-stop is ever live per device.
type Dispatcher struct {
	sender   commandSender
	codec    *codec
	registry *device.Registry
	defaults config.DeviceConfig
	scanWait time.Duration

	timerMu    sync.Mutex
	stopTimers map[uint32]*stopTimer
	scanTimer  *time.Timer

	pendMu  sync.Mutex
	pending map[uint32]*PendingCommand

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a dispatcher. The codec must be the one the
// client uses so correlation ids stay unique across the session.
func NewDispatcher(sender commandSender, c *codec, registry *device.Registry, cfg config.IntifaceConfig, defaults config.DeviceConfig) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		codec:      c,
		registry:   registry,
		defaults:   defaults,
		scanWait:   cfg.GetScanTimeout(),
		stopTimers: make(map[uint32]*stopTimer),
		pending:    make(map[uint32]*PendingCommand),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dispatcher) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Vibrate drives the active device. Nil arguments take the configured
// defaults; speed and position are clamped to [0.0, 1.0].
//
// Without a position every vibration actuator receives the speed. With
// a position the device must have at least two vibration motors: the
// first gets the speed, the second the position value. A positive
// duration (seconds) schedules an automatic stop; a later vibrate on
// the same device cancels the earlier one's stop.
func (d *Dispatcher) Vibrate(speed, position, duration *float64) (*CommandReceipt, error) {
	if d.sender.State() != StateReady {
		return nil, ErrNotConnected
	}
	active := d.registry.Active()
	if active == nil {
		return nil, device.ErrNoActiveDevice
	}

	spd := d.defaults.DefaultSpeed
	if speed != nil {
		spd = clamp01(*speed)
	}
	dur := d.defaults.DefaultDuration
	if duration != nil {
		dur = *duration
	}
	if dur < 0 {
		return nil, fmt.Errorf("%w: duration %v is negative", ErrInvalidParameter, dur)
	}

	vibrators := active.Vibrators()
	if len(vibrators) == 0 {
		return nil, fmt.Errorf("%w: %s has no vibration actuator", ErrUnsupportedCapability, active.Name)
	}

	var scalars []Scalar
	var pos *float64
	if position != nil {
		if len(vibrators) < 2 {
			return nil, fmt.Errorf("%w: %s has a single motor, position targeting needs two",
				ErrUnsupportedCapability, active.Name)
		}
		p := clamp01(*position)
		pos = &p
		scalars = []Scalar{
			{Index: vibrators[0].Index, Value: spd, ActuatorType: vibrators[0].ActuatorType},
			{Index: vibrators[1].Index, Value: p, ActuatorType: vibrators[1].ActuatorType},
		}
	} else {
		for _, v := range vibrators {
			scalars = append(scalars, Scalar{Index: v.Index, Value: spd, ActuatorType: v.ActuatorType})
		}
	}

	data, id, err := d.codec.EncodeScalarCmd(active.Index, scalars)
	if err != nil {
		return nil, err
	}
	if err := d.sender.Send(data); err != nil {
		return nil, err
	}

	d.log().Info("vibrate command sent",
		"device", active.Name, "device_index", active.Index,
		"speed", spd, "duration", dur, "id", id)

	if dur > 0 {
		d.trackPending(&PendingCommand{
			ID:          id,
			DeviceIndex: active.Index,
			Kind:        CommandVibrate,
			Speed:       spd,
			Position:    pos,
			IssuedAt:    time.Now(),
			ExpiresAt:   time.Now().Add(durationSeconds(dur)),
		})
		d.armAutoStop(active.Index, id, durationSeconds(dur))
	} else {
		// A new open-ended command overrides any scheduled stop.
		d.cancelAutoStop(active.Index)
	}

	return &CommandReceipt{
		ID:          id,
		DeviceIndex: active.Index,
		DeviceName:  active.Name,
		Speed:       spd,
		Position:    pos,
		Duration:    dur,
	}, nil
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// armAutoStop schedules a stop for the device, replacing any earlier
// one. The fired callback checks that it has not been superseded
// before sending anything.
func (d *Dispatcher) armAutoStop(deviceIndex, cmdID uint32, after time.Duration) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if prev, ok := d.stopTimers[deviceIndex]; ok {
		prev.timer.Stop()
		d.dropPending(prev.cmdID)
	}

	st := &stopTimer{cmdID: cmdID}
	st.timer = time.AfterFunc(after, func() {
		d.timerMu.Lock()
		current, ok := d.stopTimers[deviceIndex]
		if !ok || current != st {
			// Superseded between firing and acquiring the lock.
			d.timerMu.Unlock()
			return
		}
		delete(d.stopTimers, deviceIndex)
		d.timerMu.Unlock()

		d.dropPending(cmdID)
		if err := d.sendStop(deviceIndex); err != nil {
			d.log().Warn("scheduled stop failed", "device_index", deviceIndex, "error", err)
			return
		}
		d.log().Info("scheduled stop sent", "device_index", deviceIndex, "after", after.String())
	})
	d.stopTimers[deviceIndex] = st
}

// cancelAutoStop drops any scheduled stop for the device.
func (d *Dispatcher) cancelAutoStop(deviceIndex uint32) {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if prev, ok := d.stopTimers[deviceIndex]; ok {
		prev.timer.Stop()
		d.dropPending(prev.cmdID)
		delete(d.stopTimers, deviceIndex)
	}
}

func (d *Dispatcher) sendStop(deviceIndex uint32) error {
	data, _, err := d.codec.EncodeStopDevice(deviceIndex)
	if err != nil {
		return err
	}
	return d.sender.Send(data)
}

// Stop halts a device. A nil index targets the active device. Stop is
// idempotent: no selection, an unknown index being already gone, or a
// dead connection all count as stopped, so it never fails a shutdown
// path.
func (d *Dispatcher) Stop(index *uint32) error {
	var target uint32
	if index != nil {
		target = *index
	} else {
		idx, ok := d.registry.ActiveIndex()
		if !ok {
			return nil
		}
		target = idx
	}

	d.cancelAutoStop(target)

	if d.sender.State() != StateReady {
		return nil
	}
	if err := d.sendStop(target); err != nil {
		d.log().Warn("stop command failed", "device_index", target, "error", err)
		return nil
	}
	d.log().Info("stop command sent", "device_index", target)
	return nil
}

// StopAll halts every device the server knows. Best effort, used on
// shutdown.
func (d *Dispatcher) StopAll() error {
	d.timerMu.Lock()
	for idx, st := range d.stopTimers {
		st.timer.Stop()
		d.dropPending(st.cmdID)
		delete(d.stopTimers, idx)
	}
	d.timerMu.Unlock()

	if d.sender.State() != StateReady {
		return nil
	}
	data, _, err := d.codec.EncodeStopAllDevices()
	if err != nil {
		return err
	}
	if err := d.sender.Send(data); err != nil {
		d.log().Warn("stop-all command failed", "error", err)
		return nil
	}
	d.log().Info("stop-all command sent")
	return nil
}

// Scan opens a discovery window and schedules its end. A zero or nil
// timeout takes the configured default; a new scan supersedes the
// previous window's scheduled stop.
func (d *Dispatcher) Scan(timeout *float64) error {
	if d.sender.State() != StateReady {
		return ErrNotConnected
	}

	window := d.scanWait
	if timeout != nil {
		if *timeout < 0 {
			return fmt.Errorf("%w: scan timeout %v is negative", ErrInvalidParameter, *timeout)
		}
		if *timeout > 0 {
			window = durationSeconds(*timeout)
		}
	}

	data, _, err := d.codec.EncodeStartScanning()
	if err != nil {
		return err
	}
	if err := d.sender.Send(data); err != nil {
		return err
	}
	d.log().Info("scanning started", "window", window.String())

	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.scanTimer != nil {
		d.scanTimer.Stop()
	}
	d.scanTimer = time.AfterFunc(window, func() {
		stop, _, err := d.codec.EncodeStopScanning()
		if err != nil {
			return
		}
		if err := d.sender.Send(stop); err != nil {
			d.log().Debug("stop scanning failed", "error", err)
			return
		}
		d.log().Debug("scanning window closed", "window", window.String())
	})
	return nil
}

func (d *Dispatcher) trackPending(cmd *PendingCommand) {
	d.pendMu.Lock()
	d.pending[cmd.ID] = cmd
	d.pendMu.Unlock()
}

func (d *Dispatcher) dropPending(id uint32) {
	if id == 0 {
		return
	}
	d.pendMu.Lock()
	delete(d.pending, id)
	d.pendMu.Unlock()
}

// HandleResult records the server's verdict on a tracked command.
// Wired to the client's command result callback.
func (d *Dispatcher) HandleResult(id uint32, err error) {
	d.pendMu.Lock()
	cmd, ok := d.pending[id]
	if !ok {
		d.pendMu.Unlock()
		return
	}
	if err == nil {
		cmd.Acked = true
		d.pendMu.Unlock()
		return
	}

	// The command never took effect; retire it and disarm its
	// auto-stop so no stop is sent for a vibration that never ran.
	delete(d.pending, id)
	deviceIndex := cmd.DeviceIndex
	d.pendMu.Unlock()

	d.timerMu.Lock()
	if st, armed := d.stopTimers[deviceIndex]; armed && st.cmdID == id {
		st.timer.Stop()
		delete(d.stopTimers, deviceIndex)
	}
	d.timerMu.Unlock()
}

// PendingCommands returns a snapshot of commands awaiting auto-stop.
func (d *Dispatcher) PendingCommands() []PendingCommand {
	d.pendMu.Lock()
	defer d.pendMu.Unlock()

	out := make([]PendingCommand, 0, len(d.pending))
	for _, cmd := range d.pending {
		out = append(out, *cmd)
	}
	return out
}

// Close cancels every scheduled timer. It does not send anything; the
// caller decides whether a final StopAll is wanted.
func (d *Dispatcher) Close() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	for idx, st := range d.stopTimers {
		st.timer.Stop()
		delete(d.stopTimers, idx)
	}
	if d.scanTimer != nil {
		d.scanTimer.Stop()
		d.scanTimer = nil
	}
}
