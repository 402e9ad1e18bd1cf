package device

// ActuatorType identifies what kind of output a scalar actuator drives.
// Values come from the Buttplug v3 message spec.
type ActuatorType string

// Known actuator types.
const (
	ActuatorVibrate   ActuatorType = "Vibrate"
	ActuatorRotate    ActuatorType = "Rotate"
	ActuatorOscillate ActuatorType = "Oscillate"
	ActuatorConstrict ActuatorType = "Constrict"
	ActuatorInflate   ActuatorType = "Inflate"
	ActuatorPosition  ActuatorType = "Position"
)

// ScalarActuator describes one scalar-addressable output on a device,
// as advertised in the DeviceMessages block of a DeviceAdded message.
type ScalarActuator struct {
	Index             uint32       `json:"index"`
	ActuatorType      ActuatorType `json:"actuator_type"`
	StepCount         uint32       `json:"step_count"`
	FeatureDescriptor string       `json:"feature_descriptor,omitempty"`
}

// LinearActuator describes one position-over-time output (e.g. a stroker).
type LinearActuator struct {
	Index             uint32 `json:"index"`
	StepCount         uint32 `json:"step_count"`
	FeatureDescriptor string `json:"feature_descriptor,omitempty"`
}

// Device is one device currently known to the bridge.
//
// The Index is assigned by the Intiface server at discovery time and is
// unique among currently-known devices within the session.
type Device struct {
	Index uint32 `json:"index"`
	Name  string `json:"name"`

	// DisplayName is the optional user-assigned name configured in
	// Intiface Central. Empty if the user never set one.
	DisplayName string `json:"display_name,omitempty"`

	// MessageTimingGap is the minimum gap between commands in
	// milliseconds, as advertised by the server. 0 if unspecified.
	MessageTimingGap uint32 `json:"message_timing_gap,omitempty"`

	ScalarActuators []ScalarActuator `json:"scalar_actuators"`
	LinearActuators []LinearActuator `json:"linear_actuators,omitempty"`

	// CanStop reports whether the device accepts StopDeviceCmd.
	CanStop bool `json:"can_stop"`
}

// Copy returns an independent copy of the Device so callers can never
// alias registry-owned state.
func (d *Device) Copy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.ScalarActuators != nil {
		cpy.ScalarActuators = make([]ScalarActuator, len(d.ScalarActuators))
		copy(cpy.ScalarActuators, d.ScalarActuators)
	}
	if d.LinearActuators != nil {
		cpy.LinearActuators = make([]LinearActuator, len(d.LinearActuators))
		copy(cpy.LinearActuators, d.LinearActuators)
	}
	return &cpy
}

// Vibrators returns the device's scalar actuators of type Vibrate, in
// advertised order.
func (d *Device) Vibrators() []ScalarActuator {
	var out []ScalarActuator
	for _, a := range d.ScalarActuators {
		if a.ActuatorType == ActuatorVibrate {
			out = append(out, a)
		}
	}
	return out
}

// SupportsVibration reports whether the device has at least one
// vibration motor.
func (d *Device) SupportsVibration() bool {
	return len(d.Vibrators()) > 0
}

// SupportsDualMotor reports whether the device exposes two or more
// vibration motors, allowing independent speed/position commands.
func (d *Device) SupportsDualMotor() bool {
	return len(d.Vibrators()) >= 2
}

// SupportsLinear reports whether the device has linear (position)
// actuators.
func (d *Device) SupportsLinear() bool {
	return len(d.LinearActuators) > 0
}
