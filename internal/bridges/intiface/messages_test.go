package intiface

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nullaxis/intibridge/internal/device"
)

// unwrapFrame parses an encoded frame and returns the body of the
// single expected message.
func unwrapFrame(t *testing.T, data []byte, wantType string) map[string]any {
	t.Helper()

	var frame []map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not a JSON array of objects: %v", err)
	}
	if len(frame) != 1 {
		t.Fatalf("frame has %d messages, want 1", len(frame))
	}
	body, ok := frame[0][wantType]
	if !ok {
		t.Fatalf("frame does not contain %q: %s", wantType, data)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatalf("message body is not an object: %v", err)
	}
	return fields
}

func TestCodecIDsMonotonicAndNonZero(t *testing.T) {
	c := newCodec()
	prev := uint32(0)
	for i := 0; i < 100; i++ {
		id := c.id()
		if id == 0 {
			t.Fatal("correlation id 0 issued; 0 is reserved for unsolicited messages")
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestEncodeRequestServerInfo(t *testing.T) {
	c := newCodec()
	data, id, err := c.EncodeRequestServerInfo("testclient")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	fields := unwrapFrame(t, data, "RequestServerInfo")
	if got := fields["ClientName"]; got != "testclient" {
		t.Errorf("ClientName = %v, want testclient", got)
	}
	if got := fields["MessageVersion"]; got != float64(3) {
		t.Errorf("MessageVersion = %v, want 3", got)
	}
	if got := fields["Id"]; got != float64(id) {
		t.Errorf("Id = %v, want %d", got, id)
	}
}

func TestEncodeScalarCmd(t *testing.T) {
	c := newCodec()
	data, _, err := c.EncodeScalarCmd(7, []Scalar{
		{Index: 0, Value: 0.5, ActuatorType: device.ActuatorVibrate},
		{Index: 1, Value: 1.0, ActuatorType: device.ActuatorVibrate},
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	fields := unwrapFrame(t, data, "ScalarCmd")
	if got := fields["DeviceIndex"]; got != float64(7) {
		t.Errorf("DeviceIndex = %v, want 7", got)
	}
	scalars, ok := fields["Scalars"].([]any)
	if !ok || len(scalars) != 2 {
		t.Fatalf("Scalars = %v, want 2 entries", fields["Scalars"])
	}
	first := scalars[0].(map[string]any)
	if first["Index"] != float64(0) || first["Scalar"] != 0.5 || first["ActuatorType"] != "Vibrate" {
		t.Errorf("first scalar = %v", first)
	}
}

func TestEncodeScalarCmdRejectsBadInput(t *testing.T) {
	c := newCodec()

	cases := []struct {
		name    string
		scalars []Scalar
	}{
		{"empty list", nil},
		{"negative value", []Scalar{{Value: -0.1, ActuatorType: device.ActuatorVibrate}}},
		{"value above one", []Scalar{{Value: 1.01, ActuatorType: device.ActuatorVibrate}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := c.EncodeScalarCmd(0, tc.scalars)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("err = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestEncodeStopMessages(t *testing.T) {
	c := newCodec()

	data, _, err := c.EncodeStopDevice(3)
	if err != nil {
		t.Fatalf("EncodeStopDevice failed: %v", err)
	}
	fields := unwrapFrame(t, data, "StopDeviceCmd")
	if got := fields["DeviceIndex"]; got != float64(3) {
		t.Errorf("DeviceIndex = %v, want 3", got)
	}

	data, _, err = c.EncodeStopAllDevices()
	if err != nil {
		t.Fatalf("EncodeStopAllDevices failed: %v", err)
	}
	unwrapFrame(t, data, "StopAllDevices")
}

func TestDecodeServerInfo(t *testing.T) {
	frame := []byte(`[{"ServerInfo":{"Id":1,"ServerName":"Intiface Central","MessageVersion":3,"MaxPingTime":0}}]`)

	events, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	si, ok := events[0].(ServerInfoEvent)
	if !ok {
		t.Fatalf("event type = %T, want ServerInfoEvent", events[0])
	}
	if si.ID != 1 || si.ServerName != "Intiface Central" || si.MessageVersion != 3 {
		t.Errorf("unexpected event: %+v", si)
	}
}

func TestDecodeDeviceAdded(t *testing.T) {
	frame := []byte(`[{"DeviceAdded":{
		"Id":0,
		"DeviceIndex":2,
		"DeviceName":"Lovense Edge",
		"DeviceDisplayName":"Edge",
		"DeviceMessageTimingGap":100,
		"DeviceMessages":{
			"ScalarCmd":[
				{"StepCount":20,"FeatureDescriptor":"Main motor","ActuatorType":"Vibrate"},
				{"StepCount":20,"FeatureDescriptor":"Second motor","ActuatorType":"Vibrate"}
			],
			"StopDeviceCmd":{}
		}
	}}]`)

	events, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	ev, ok := events[0].(DeviceAddedEvent)
	if !ok {
		t.Fatalf("event type = %T, want DeviceAddedEvent", events[0])
	}

	d := ev.Device
	if d.Index != 2 || d.Name != "Lovense Edge" || d.DisplayName != "Edge" {
		t.Errorf("unexpected device identity: %+v", d)
	}
	if d.MessageTimingGap != 100 {
		t.Errorf("MessageTimingGap = %d, want 100", d.MessageTimingGap)
	}
	if !d.CanStop {
		t.Error("CanStop = false, StopDeviceCmd was present")
	}
	if len(d.ScalarActuators) != 2 {
		t.Fatalf("got %d scalar actuators, want 2", len(d.ScalarActuators))
	}
	if d.ScalarActuators[1].Index != 1 {
		t.Errorf("actuator indices not positional: %+v", d.ScalarActuators)
	}
	if !d.SupportsDualMotor() {
		t.Error("SupportsDualMotor = false for a two-motor device")
	}
}

func TestDecodeDeviceList(t *testing.T) {
	frame := []byte(`[{"DeviceList":{"Id":4,"Devices":[
		{"DeviceIndex":0,"DeviceName":"A","DeviceMessages":{"ScalarCmd":[{"StepCount":10,"ActuatorType":"Vibrate"}]}},
		{"DeviceIndex":1,"DeviceName":"B","DeviceMessages":{}}
	]}}]`)

	events, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	ev, ok := events[0].(DeviceListEvent)
	if !ok {
		t.Fatalf("event type = %T, want DeviceListEvent", events[0])
	}
	if ev.ID != 4 || len(ev.Devices) != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Devices[0].SupportsVibration() {
		t.Error("first device should support vibration")
	}
	if ev.Devices[1].SupportsVibration() {
		t.Error("second device should not support vibration")
	}
	if ev.Devices[1].CanStop {
		t.Error("CanStop = true without StopDeviceCmd in the descriptor")
	}
}

func TestDecodeOkAndError(t *testing.T) {
	frame := []byte(`[{"Ok":{"Id":9}},{"Error":{"Id":10,"ErrorMessage":"device busy","ErrorCode":3}}]`)

	events, err := decodeFrame(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	ok, isOk := events[0].(OkEvent)
	if !isOk || ok.ID != 9 {
		t.Errorf("events[0] = %+v, want OkEvent{ID:9}", events[0])
	}
	ee, isErr := events[1].(ErrorEvent)
	if !isErr || ee.ID != 10 || ee.Code != 3 || ee.Message != "device busy" {
		t.Errorf("events[1] = %+v, want ErrorEvent{ID:10, Code:3}", events[1])
	}
}

func TestDecodeDeviceRemoved(t *testing.T) {
	events, err := decodeFrame([]byte(`[{"DeviceRemoved":{"Id":0,"DeviceIndex":5}}]`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	ev, ok := events[0].(DeviceRemovedEvent)
	if !ok || ev.Index != 5 {
		t.Errorf("event = %+v, want DeviceRemovedEvent{Index:5}", events[0])
	}
}

func TestDecodeUnknownMessageType(t *testing.T) {
	events, err := decodeFrame([]byte(`[{"RawReading":{"Id":0,"Data":[1,2,3]}}]`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	ev, ok := events[0].(UnknownEvent)
	if !ok || ev.Type != "RawReading" {
		t.Errorf("event = %+v, want UnknownEvent{Type:RawReading}", events[0])
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := decodeFrame([]byte(`{"Ok":{"Id":1}}`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("non-array frame: err = %v, want ErrMalformedMessage", err)
	}

	_, err = decodeFrame([]byte(`not json`))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("garbage frame: err = %v, want ErrMalformedMessage", err)
	}
}

func TestDecodePartiallyMalformedFrame(t *testing.T) {
	// One broken message must not discard the rest of the frame.
	frame := []byte(`[{"Ok":{"Id":"not-a-number"}},{"ScanningFinished":{"Id":0}}]`)

	events, err := decodeFrame(frame)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("err = %v, want ErrMalformedMessage", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want the 1 well-formed message", len(events))
	}
	if _, ok := events[0].(ScanningFinishedEvent); !ok {
		t.Errorf("surviving event = %T, want ScanningFinishedEvent", events[0])
	}
}
