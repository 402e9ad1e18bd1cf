package device

import (
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the set of currently-known devices and the active
// selection. It is mutated only in response to discovery events from
// the websocket session and explicit selection from the REST layer.
//
// All public methods are thread-safe. Devices are copied on the way in
// and out, so callers never share memory with the registry.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]*Device

	// active is the index of the selected device. The selection is a
	// weak reference: removing the referenced device clears it.
	active    uint32
	hasActive bool

	logger Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[uint32]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Add inserts or replaces the device at its index. A duplicate index is
// treated as a refreshed descriptor and overwrites the previous entry;
// an existing selection of that index stays valid.
func (r *Registry) Add(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, refresh := r.devices[d.Index]
	r.devices[d.Index] = d.Copy()

	if refresh {
		r.logger.Debug("device descriptor refreshed", "index", d.Index, "name", d.Name)
	} else {
		r.logger.Info("device added", "index", d.Index, "name", d.Name,
			"scalar_actuators", len(d.ScalarActuators),
			"linear_actuators", len(d.LinearActuators),
		)
	}
}

// Remove deletes the device at the given index. If it was the active
// selection, the selection becomes empty. Removing an unknown index is
// a no-op.
func (r *Registry) Remove(index uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[index]
	if !ok {
		return
	}
	delete(r.devices, index)

	if r.hasActive && r.active == index {
		r.hasActive = false
		r.logger.Info("active device removed, selection cleared", "index", index, "name", d.Name)
	} else {
		r.logger.Info("device removed", "index", index, "name", d.Name)
	}
}

// List returns all known devices ordered by index ascending.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Get returns the device at the given index, or ErrDeviceNotFound.
func (r *Registry) Get(index uint32) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[index]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.Copy(), nil
}

// Select sets the active device. It fails with ErrDeviceNotFound if the
// index is absent, leaving any previous selection unchanged.
func (r *Registry) Select(index uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[index]
	if !ok {
		return ErrDeviceNotFound
	}

	r.active = index
	r.hasActive = true
	r.logger.Info("active device selected", "index", index, "name", d.Name)
	return nil
}

// Active returns a copy of the currently selected device, or nil if no
// valid selection exists.
func (r *Registry) Active() *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.hasActive {
		return nil
	}
	d, ok := r.devices[r.active]
	if !ok {
		return nil
	}
	return d.Copy()
}

// ActiveIndex returns the selected device index and whether a valid
// selection exists.
func (r *Registry) ActiveIndex() (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.hasActive {
		return 0, false
	}
	if _, ok := r.devices[r.active]; !ok {
		return 0, false
	}
	return r.active, true
}

// Clear empties all devices and the selection. The connection layer
// calls this on every disconnect: indices are not trustworthy across a
// session boundary.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.devices)
	r.devices = make(map[uint32]*Device)
	r.hasActive = false

	if n > 0 {
		r.logger.Info("device registry cleared", "count", n)
	}
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
