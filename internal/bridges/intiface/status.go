package intiface

import "github.com/nullaxis/intibridge/internal/device"

// Status is a point-in-time snapshot of the bridge, shaped for the
// REST status endpoint.
type Status struct {
	ConnectionState string           `json:"connection_state"`
	URL             string           `json:"url"`
	ServerName      string           `json:"server_name,omitempty"`
	ProtocolVersion uint32           `json:"protocol_version,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	DeviceCount     int              `json:"device_count"`
	ActiveIndex     *uint32          `json:"active_index,omitempty"`
	Devices         []DeviceStatus   `json:"devices"`
	PendingCommands []PendingCommand `json:"pending_commands"`
	Stats           Stats            `json:"stats"`
}

// DeviceStatus is the wire shape of one device in status and device
// listings.
type DeviceStatus struct {
	Index            uint32   `json:"index"`
	Name             string   `json:"name"`
	DisplayName      string   `json:"display_name,omitempty"`
	Active           bool     `json:"active"`
	VibratorCount    int      `json:"vibrator_count"`
	SupportsPosition bool     `json:"supports_position"`
	CanStop          bool     `json:"can_stop"`
	Features         []string `json:"features,omitempty"`
}

// deviceStatus shapes a registry device for JSON output.
func deviceStatus(d device.Device, activeIndex *uint32) DeviceStatus {
	ds := DeviceStatus{
		Index:            d.Index,
		Name:             d.Name,
		DisplayName:      d.DisplayName,
		Active:           activeIndex != nil && *activeIndex == d.Index,
		VibratorCount:    len(d.Vibrators()),
		SupportsPosition: d.SupportsDualMotor(),
		CanStop:          d.CanStop,
	}
	for _, a := range d.ScalarActuators {
		if a.FeatureDescriptor != "" {
			ds.Features = append(ds.Features, a.FeatureDescriptor)
		}
	}
	return ds
}
