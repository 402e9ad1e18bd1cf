package intiface

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nullaxis/intibridge/internal/device"
)

// messageVersion is the Buttplug message spec version this client
// speaks. The wire schema (message names and field names below) is the
// published v3 contract.
const messageVersion = 3

// Message type names as they appear on the wire.
const (
	msgRequestServerInfo = "RequestServerInfo"
	msgServerInfo        = "ServerInfo"
	msgRequestDeviceList = "RequestDeviceList"
	msgDeviceList        = "DeviceList"
	msgDeviceAdded       = "DeviceAdded"
	msgDeviceRemoved     = "DeviceRemoved"
	msgStartScanning     = "StartScanning"
	msgStopScanning      = "StopScanning"
	msgScanningFinished  = "ScanningFinished"
	msgScalarCmd         = "ScalarCmd"
	msgStopDeviceCmd     = "StopDeviceCmd"
	msgStopAllDevices    = "StopAllDevices"
	msgPing              = "Ping"
	msgOk                = "Ok"
	msgError             = "Error"
)

// Wire structures. A frame is a JSON array of single-key objects, the
// key being the message type.

type requestServerInfoBody struct {
	ID             uint32 `json:"Id"`
	ClientName     string `json:"ClientName"`
	MessageVersion uint32 `json:"MessageVersion"`
}

type serverInfoBody struct {
	ID             uint32 `json:"Id"`
	ServerName     string `json:"ServerName"`
	MessageVersion uint32 `json:"MessageVersion"`
	MaxPingTime    uint32 `json:"MaxPingTime"`
}

type idBody struct {
	ID uint32 `json:"Id"`
}

type errorBody struct {
	ID           uint32 `json:"Id"`
	ErrorMessage string `json:"ErrorMessage"`
	ErrorCode    int    `json:"ErrorCode"`
}

type scalarEntry struct {
	Index        uint32  `json:"Index"`
	Scalar       float64 `json:"Scalar"`
	ActuatorType string  `json:"ActuatorType"`
}

type scalarCmdBody struct {
	ID          uint32        `json:"Id"`
	DeviceIndex uint32        `json:"DeviceIndex"`
	Scalars     []scalarEntry `json:"Scalars"`
}

type stopDeviceBody struct {
	ID          uint32 `json:"Id"`
	DeviceIndex uint32 `json:"DeviceIndex"`
}

type deviceAttribute struct {
	StepCount         uint32 `json:"StepCount"`
	FeatureDescriptor string `json:"FeatureDescriptor"`
	ActuatorType      string `json:"ActuatorType"`
}

type deviceMessagesBody struct {
	ScalarCmd []deviceAttribute `json:"ScalarCmd"`
	LinearCmd []deviceAttribute `json:"LinearCmd"`
	// StopDeviceCmd is an empty object when present; only presence matters.
	StopDeviceCmd json.RawMessage `json:"StopDeviceCmd"`
}

type deviceDescriptor struct {
	DeviceIndex            uint32             `json:"DeviceIndex"`
	DeviceName             string             `json:"DeviceName"`
	DeviceDisplayName      string             `json:"DeviceDisplayName"`
	DeviceMessageTimingGap uint32             `json:"DeviceMessageTimingGap"`
	DeviceMessages         deviceMessagesBody `json:"DeviceMessages"`
}

type deviceAddedBody struct {
	ID uint32 `json:"Id"`
	deviceDescriptor
}

type deviceListBody struct {
	ID      uint32             `json:"Id"`
	Devices []deviceDescriptor `json:"Devices"`
}

type deviceRemovedBody struct {
	ID          uint32 `json:"Id"`
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// Scalar is one actuator value of an outgoing command.
type Scalar struct {
	Index        uint32
	Value        float64
	ActuatorType device.ActuatorType
}

// codec encodes outgoing control messages and decodes inbound frames.
// It owns the correlation id sequence: ids are unique for the lifetime
// of the codec and never 0 (the server reserves 0 for unsolicited
// messages).
type codec struct {
	nextID atomic.Uint32
}

func newCodec() *codec {
	return &codec{}
}

func (c *codec) id() uint32 {
	return c.nextID.Add(1)
}

// encode wraps a single message body into a wire frame.
func encode(msgType string, body any) ([]byte, error) {
	frame := []map[string]any{{msgType: body}}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("intiface: encoding %s: %w", msgType, err)
	}
	return data, nil
}

// EncodeRequestServerInfo produces the handshake message that must be
// accepted before any other traffic.
func (c *codec) EncodeRequestServerInfo(clientName string) ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgRequestServerInfo, requestServerInfoBody{
		ID:             id,
		ClientName:     clientName,
		MessageVersion: messageVersion,
	})
	return data, id, err
}

// EncodeRequestDeviceList asks the server for all currently connected
// devices. Sent after each handshake to seed the registry.
func (c *codec) EncodeRequestDeviceList() ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgRequestDeviceList, idBody{ID: id})
	return data, id, err
}

// EncodeStartScanning starts a device discovery window.
func (c *codec) EncodeStartScanning() ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgStartScanning, idBody{ID: id})
	return data, id, err
}

// EncodeStopScanning ends a device discovery window.
func (c *codec) EncodeStopScanning() ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgStopScanning, idBody{ID: id})
	return data, id, err
}

// EncodePing produces a keepalive message, required when the server
// advertises a non-zero MaxPingTime.
func (c *codec) EncodePing() ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgPing, idBody{ID: id})
	return data, id, err
}

// EncodeScalarCmd produces an actuator command for the given device.
//
// The codec validates strictly: values outside [0.0, 1.0] or an empty
// scalar list fail with ErrInvalidParameter. Clamping is the REST
// boundary's job; rejecting here defends against internal bugs.
func (c *codec) EncodeScalarCmd(deviceIndex uint32, scalars []Scalar) ([]byte, uint32, error) {
	if len(scalars) == 0 {
		return nil, 0, fmt.Errorf("%w: no actuator values", ErrInvalidParameter)
	}
	entries := make([]scalarEntry, 0, len(scalars))
	for _, s := range scalars {
		if s.Value < 0.0 || s.Value > 1.0 {
			return nil, 0, fmt.Errorf("%w: scalar %v for actuator %d outside [0.0, 1.0]",
				ErrInvalidParameter, s.Value, s.Index)
		}
		entries = append(entries, scalarEntry{
			Index:        s.Index,
			Scalar:       s.Value,
			ActuatorType: string(s.ActuatorType),
		})
	}

	id := c.id()
	data, err := encode(msgScalarCmd, scalarCmdBody{
		ID:          id,
		DeviceIndex: deviceIndex,
		Scalars:     entries,
	})
	return data, id, err
}

// EncodeStopDevice produces a stop command for one device.
func (c *codec) EncodeStopDevice(deviceIndex uint32) ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgStopDeviceCmd, stopDeviceBody{ID: id, DeviceIndex: deviceIndex})
	return data, id, err
}

// EncodeStopAllDevices produces a stop command for every device the
// server knows. Used on shutdown.
func (c *codec) EncodeStopAllDevices() ([]byte, uint32, error) {
	id := c.id()
	data, err := encode(msgStopAllDevices, idBody{ID: id})
	return data, id, err
}

// Event is a typed inbound protocol event.
type Event interface {
	eventType() string
}

// ServerInfoEvent is the handshake acknowledgement.
type ServerInfoEvent struct {
	ID             uint32
	ServerName     string
	MessageVersion uint32
	MaxPingTime    uint32
}

// DeviceAddedEvent reports a newly discovered device.
type DeviceAddedEvent struct {
	Device device.Device
}

// DeviceListEvent reports all devices currently connected to the server.
type DeviceListEvent struct {
	ID      uint32
	Devices []device.Device
}

// DeviceRemovedEvent reports a device disconnection.
type DeviceRemovedEvent struct {
	Index uint32
}

// OkEvent acknowledges the command with the matching correlation id.
type OkEvent struct {
	ID uint32
}

// ErrorEvent reports a server-side failure for the command with the
// matching correlation id (0 for unsolicited errors).
type ErrorEvent struct {
	ID      uint32
	Code    int
	Message string
}

// ScanningFinishedEvent reports that the server stopped scanning.
type ScanningFinishedEvent struct{}

// UnknownEvent carries a message type this client does not understand.
// It is logged and dropped; processing continues.
type UnknownEvent struct {
	Type string
}

func (ServerInfoEvent) eventType() string       { return msgServerInfo }
func (DeviceAddedEvent) eventType() string      { return msgDeviceAdded }
func (DeviceListEvent) eventType() string       { return msgDeviceList }
func (DeviceRemovedEvent) eventType() string    { return msgDeviceRemoved }
func (OkEvent) eventType() string               { return msgOk }
func (ErrorEvent) eventType() string            { return msgError }
func (ScanningFinishedEvent) eventType() string { return msgScanningFinished }
func (e UnknownEvent) eventType() string        { return e.Type }

// decodeFrame parses an inbound frame into typed events.
//
// A frame that is not a JSON array of messages fails as a whole with
// ErrMalformedMessage. Individual messages that fail to parse are
// skipped and reported via the joined error while the rest of the
// frame is still returned; unknown message types become UnknownEvent.
// Both conditions are non-fatal to the connection.
func decodeFrame(data []byte) ([]Event, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	var events []Event
	var errs []error
	for _, msg := range raw {
		for name, body := range msg {
			ev, err := decodeMessage(name, body)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func decodeMessage(name string, body json.RawMessage) (Event, error) {
	switch name {
	case msgServerInfo:
		var b serverInfoBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		return ServerInfoEvent{
			ID:             b.ID,
			ServerName:     b.ServerName,
			MessageVersion: b.MessageVersion,
			MaxPingTime:    b.MaxPingTime,
		}, nil

	case msgDeviceAdded:
		var b deviceAddedBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		return DeviceAddedEvent{Device: toDevice(b.deviceDescriptor)}, nil

	case msgDeviceList:
		var b deviceListBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		devices := make([]device.Device, 0, len(b.Devices))
		for _, d := range b.Devices {
			devices = append(devices, toDevice(d))
		}
		return DeviceListEvent{ID: b.ID, Devices: devices}, nil

	case msgDeviceRemoved:
		var b deviceRemovedBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		return DeviceRemovedEvent{Index: b.DeviceIndex}, nil

	case msgOk:
		var b idBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		return OkEvent{ID: b.ID}, nil

	case msgError:
		var b errorBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, name, err)
		}
		return ErrorEvent{ID: b.ID, Code: b.ErrorCode, Message: b.ErrorMessage}, nil

	case msgScanningFinished:
		return ScanningFinishedEvent{}, nil

	default:
		return UnknownEvent{Type: name}, nil
	}
}

// toDevice converts a wire descriptor to the registry model.
func toDevice(d deviceDescriptor) device.Device {
	dev := device.Device{
		Index:            d.DeviceIndex,
		Name:             d.DeviceName,
		DisplayName:      d.DeviceDisplayName,
		MessageTimingGap: d.DeviceMessageTimingGap,
		CanStop:          len(d.DeviceMessages.StopDeviceCmd) > 0,
	}
	for i, a := range d.DeviceMessages.ScalarCmd {
		dev.ScalarActuators = append(dev.ScalarActuators, device.ScalarActuator{
			Index:             uint32(i),
			ActuatorType:      device.ActuatorType(a.ActuatorType),
			StepCount:         a.StepCount,
			FeatureDescriptor: a.FeatureDescriptor,
		})
	}
	for i, a := range d.DeviceMessages.LinearCmd {
		dev.LinearActuators = append(dev.LinearActuators, device.LinearActuator{
			Index:             uint32(i),
			StepCount:         a.StepCount,
			FeatureDescriptor: a.FeatureDescriptor,
		})
	}
	return dev
}
