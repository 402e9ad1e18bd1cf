package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// queryFloat reads an optional float query parameter. A missing key
// returns (nil, false, nil); a key present without a value returns
// (nil, true, nil) so the caller can apply its configured default.
func queryFloat(r *http.Request, key string) (*float64, bool, error) {
	q := r.URL.Query()
	if !q.Has(key) {
		return nil, false, nil
	}
	raw := q.Get(key)
	if raw == "" {
		return nil, true, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, true, fmt.Errorf("parameter %q is not a number: %q", key, raw)
	}
	return &v, true, nil
}

// handleStatus returns the full bridge snapshot. Always 200: a broken
// session is a value in the body, not an HTTP failure.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

// handleListDevices returns all currently known devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	status := s.bridge.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":      status.Devices,
		"count":        status.DeviceCount,
		"active_index": status.ActiveIndex,
	})
}

// selectDeviceRequest is the body of POST /device.
type selectDeviceRequest struct {
	Index *uint32 `json:"index"`
}

// handleSelectDevice makes a device the target of subsequent commands.
func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "request body must be JSON with a device index")
		return
	}
	if req.Index == nil {
		writeBadRequest(w, "index is required")
		return
	}

	d, err := s.bridge.SelectDevice(*req.Index)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	s.logger.Info("device selected", "index", d.Index, "name", d.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "selected",
		"index":  d.Index,
		"name":   d.Name,
	})
}

// handleVibrate drives the active device.
//
// All parameters are optional: speed and duration fall back to the
// configured defaults, and position is only engaged when the parameter
// is present (an empty value takes the configured default position).
func (s *Server) handleVibrate(w http.ResponseWriter, r *http.Request) {
	speed, _, err := queryFloat(r, "speed")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, err.Error())
		return
	}
	position, hasPosition, err := queryFloat(r, "position")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, err.Error())
		return
	}
	duration, _, err := queryFloat(r, "duration")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, err.Error())
		return
	}

	if hasPosition && position == nil {
		p := s.defaults.DefaultPosition
		position = &p
	}

	receipt, err := s.bridge.Vibrate(speed, position, duration)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "vibrating",
		"command": receipt,
	})
}

// handleStop halts the active device. Stopping is idempotent: with no
// selection or no session there is nothing running, which is the state
// the caller asked for, so the response is always success.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.bridge.Stop(nil); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// handleScan opens a device discovery window.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	timeout, _, err := queryFloat(r, "timeout")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, err.Error())
		return
	}

	if err := s.bridge.Scan(timeout); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "scanning"})
}
