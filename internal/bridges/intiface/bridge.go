package intiface

import (
	"context"

	"github.com/nullaxis/intibridge/internal/device"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
)

// Bridge is the facade over the client, registry and dispatcher. It is
// the single entry point the HTTP layer talks to.
type Bridge struct {
	cfg        config.IntifaceConfig
	registry   *device.Registry
	client     *Client
	dispatcher *Dispatcher
	logger     Logger
}

// NewBridge wires the pieces together. The registry is fed by the
// client's event pump, the dispatcher shares the client's codec so
// correlation ids stay unique, and every established session triggers
// a discovery scan.
func NewBridge(cfg config.IntifaceConfig, defaults config.DeviceConfig) *Bridge {
	registry := device.NewRegistry()
	client := NewClient(cfg, registry)
	dispatcher := NewDispatcher(client, client.codec, registry, cfg, defaults)

	b := &Bridge{
		cfg:        cfg,
		registry:   registry,
		client:     client,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}

	client.SetOnCommandResult(dispatcher.HandleResult)
	client.SetOnReady(func() {
		if err := dispatcher.Scan(nil); err != nil {
			b.logger.Warn("post-connect scan failed", "error", err)
		}
	})
	return b
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
	b.client.SetLogger(logger)
	b.dispatcher.SetLogger(logger)
	b.registry.SetLogger(logger)
}

// Start opens the background session. Connection failures are not
// fatal: the client keeps retrying and the REST surface stays up.
func (b *Bridge) Start(ctx context.Context) error {
	return b.client.Start(ctx)
}

// Close stops outstanding timers, best-effort stops all devices, and
// tears the session down.
func (b *Bridge) Close() error {
	if err := b.dispatcher.StopAll(); err != nil {
		b.logger.Warn("final stop-all failed", "error", err)
	}
	b.dispatcher.Close()
	return b.client.Close()
}

// Devices returns all currently known devices.
func (b *Bridge) Devices() []device.Device {
	return b.registry.List()
}

// SelectDevice makes the device with the given index the target of
// subsequent commands.
func (b *Bridge) SelectDevice(index uint32) (*device.Device, error) {
	if err := b.registry.Select(index); err != nil {
		return nil, err
	}
	return b.registry.Active(), nil
}

// ActiveDevice returns the selected device, or nil.
func (b *Bridge) ActiveDevice() *device.Device {
	return b.registry.Active()
}

// Vibrate drives the active device. See Dispatcher.Vibrate.
func (b *Bridge) Vibrate(speed, position, duration *float64) (*CommandReceipt, error) {
	return b.dispatcher.Vibrate(speed, position, duration)
}

// Stop halts the active device (or the given one). Idempotent.
func (b *Bridge) Stop(index *uint32) error {
	return b.dispatcher.Stop(index)
}

// StopAll halts every device. Best effort.
func (b *Bridge) StopAll() error {
	return b.dispatcher.StopAll()
}

// Scan opens a discovery window.
func (b *Bridge) Scan(timeout *float64) error {
	return b.dispatcher.Scan(timeout)
}

// Connected reports whether the session is ready for commands.
func (b *Bridge) Connected() bool {
	return b.client.State() == StateReady
}

// Status assembles a point-in-time snapshot across all components.
// Reads are lock-cheap; the numbers are not a consistent cut but are
// each individually current.
func (b *Bridge) Status() Status {
	devices := b.registry.List()

	s := Status{
		ConnectionState: string(b.client.State()),
		URL:             b.client.URL(),
		ServerName:      b.client.ServerName(),
		ProtocolVersion: b.client.ServerVersion(),
		DeviceCount:     len(devices),
		Devices:         make([]DeviceStatus, 0, len(devices)),
		PendingCommands: b.dispatcher.PendingCommands(),
		Stats:           b.client.Stats(),
	}
	if err := b.client.LastError(); err != nil {
		s.LastError = err.Error()
	}
	if idx, ok := b.registry.ActiveIndex(); ok {
		s.ActiveIndex = &idx
	}
	for _, d := range devices {
		s.Devices = append(s.Devices, deviceStatus(d, s.ActiveIndex))
	}
	return s
}
