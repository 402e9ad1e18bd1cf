package intiface

import "errors"

// Domain errors for the intiface bridge package.
var (
	// ErrNotConnected is returned when an operation requires a ready
	// session but the client is not connected to the server.
	ErrNotConnected = errors.New("intiface: not connected")

	// ErrConnectionFailed is returned when opening the websocket
	// transport fails.
	ErrConnectionFailed = errors.New("intiface: connection failed")

	// ErrConnectionLost is returned when an established session drops
	// unexpectedly.
	ErrConnectionLost = errors.New("intiface: connection lost")

	// ErrHandshakeTimeout is returned when the server does not answer
	// the handshake within the configured bound.
	ErrHandshakeTimeout = errors.New("intiface: handshake timed out")

	// ErrSendTimeout is returned when a transport write exceeds the
	// configured bound.
	ErrSendTimeout = errors.New("intiface: send timed out")

	// ErrMalformedMessage is returned when an inbound frame cannot be
	// parsed. This is recovered locally and never fatal to the session.
	ErrMalformedMessage = errors.New("intiface: malformed message")

	// ErrUnsupportedCapability is returned when a command requires an
	// actuator the active device does not advertise.
	ErrUnsupportedCapability = errors.New("intiface: unsupported capability")

	// ErrInvalidParameter is returned when a command parameter is
	// outside its allowed range.
	ErrInvalidParameter = errors.New("intiface: invalid parameter")
)
