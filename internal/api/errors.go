package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nullaxis/intibridge/internal/bridges/intiface"
	"github.com/nullaxis/intibridge/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest            = "bad_request"
	ErrCodeNotFound              = "not_found"
	ErrCodeInternal              = "internal_error"
	ErrCodeNotConnected          = "not_connected"
	ErrCodeNoActiveDevice        = "no_active_device"
	ErrCodeDeviceNotFound        = "device_not_found"
	ErrCodeUnsupportedCapability = "unsupported_capability"
	ErrCodeInvalidParameter      = "invalid_parameter"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps a bridge error to its HTTP status and code.
// Conflicts (no session, no selection) are 409; requests the device or
// the protocol cannot satisfy are 422.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intiface.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeNotConnected, "no active connection to the device server")
	case errors.Is(err, device.ErrNoActiveDevice):
		writeError(w, http.StatusConflict, ErrCodeNoActiveDevice, "no device selected")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, ErrCodeDeviceNotFound, err.Error())
	case errors.Is(err, intiface.ErrUnsupportedCapability):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupportedCapability, err.Error())
	case errors.Is(err, intiface.ErrInvalidParameter):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
