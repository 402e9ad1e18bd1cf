package intiface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nullaxis/intibridge/internal/device"
	"github.com/nullaxis/intibridge/internal/infrastructure/config"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// State is the connection state of the client session.
type State string

// Connection states. Transitions are strictly sequential: the single
// session goroutine is the only writer.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
)

const (
	// eventQueueSize is the buffer size for the inbound event channel.
	eventQueueSize = 64

	// closeWriteTimeout bounds the best-effort close frame on shutdown.
	closeWriteTimeout = time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn abstracts the websocket connection for testability.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the websocket transport. Tests substitute their own.
type Dialer func(ctx context.Context, url string) (Conn, error)

// defaultDialer dials with gorilla/websocket.
func defaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// Stats holds operational statistics for diagnostics.
type Stats struct {
	FramesTx        uint64    `json:"frames_tx"`
	FramesRx        uint64    `json:"frames_rx"`
	EventsDropped   uint64    `json:"events_dropped"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

// Client owns the websocket session to the Intiface server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - State transitions are driven only by the background session
//     goroutine; Send, State and LastError may be called from any
//     goroutine without blocking on the session.
//
// Auto-Reconnection:
//   - Any transport error or unexpected closure while ready enters the
//     reconnecting state and retries with exponential backoff (1.5x
//     growth up to the configured ceiling).
//   - A configured max attempt count turns exhaustion into the
//     disconnected state; 0 retries indefinitely.
//   - The device registry is cleared on every disconnect: device
//     indices are not trustworthy across a session boundary.
type Client struct {
	cfg      config.IntifaceConfig
	dialer   Dialer
	codec    *codec
	registry *device.Registry

	// mu guards state, conn, lastErr and the handshake results.
	mu            sync.RWMutex
	state         State
	conn          Conn
	lastErr       error
	serverName    string
	serverVersion uint32
	maxPingTime   uint32

	// writeMu serialises transport writes (gorilla allows one writer).
	writeMu sync.Mutex

	events chan Event

	// Callbacks (optional).
	cbMu     sync.RWMutex
	onReady  func()
	onResult func(id uint32, err error)

	// Shutdown coordination.
	done    *closeOnce
	wg      sync.WaitGroup
	started atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for cheap snapshot reads).
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	reconnectsTotal atomic.Uint64
	sessionsTotal   atomic.Uint64
	lastActivity    atomic.Int64
}

// NewClient creates a client for the configured Intiface endpoint.
// The session is not opened until Start is called.
func NewClient(cfg config.IntifaceConfig, registry *device.Registry) *Client {
	return &Client{
		cfg:      cfg,
		dialer:   defaultDialer,
		codec:    newCodec(),
		registry: registry,
		state:    StateDisconnected,
		events:   make(chan Event, eventQueueSize),
		done:     newCloseOnce(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// SetOnReady sets a callback invoked each time a session reaches the
// ready state (initial connect and every reconnect). It runs on the
// session goroutine and must not block.
func (c *Client) SetOnReady(cb func()) {
	c.cbMu.Lock()
	c.onReady = cb
	c.cbMu.Unlock()
}

// SetOnCommandResult sets a callback invoked for every command
// acknowledgement or server-side error, keyed by correlation id.
func (c *Client) SetOnCommandResult(cb func(id uint32, err error)) {
	c.cbMu.Lock()
	c.onResult = cb
	c.cbMu.Unlock()
}

// Start launches the background session goroutine and the event pump.
// It returns immediately; connection progress is observable through
// State and LastError. Calling Start twice is an error.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("intiface: client already started")
	}

	// Leave the disconnected state before Start returns, so observers
	// can tell "not yet attempted" from "gave up".
	c.setState(StateConnecting)

	c.wg.Add(2)
	go c.eventPump()
	go c.run(ctx)
	return nil
}

// run owns the connect/serve/backoff cycle. Reconnect attempts are
// strictly sequential; there is never more than one in flight.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.Reconnect.GetInitialDelay()
	failures := 0

	for {
		if c.stopping(ctx) {
			c.setState(StateDisconnected)
			return
		}

		wasReady, err := c.session(ctx)
		c.registry.Clear()

		if c.stopping(ctx) {
			c.setState(StateDisconnected)
			return
		}

		if wasReady {
			// The session was established and later dropped: the
			// failure streak starts over.
			backoff = c.cfg.Reconnect.GetInitialDelay()
			failures = 0
		}

		failures++
		c.setLastError(err)

		if max := c.cfg.Reconnect.MaxAttempts; max > 0 && failures >= max {
			c.log().Error("giving up after consecutive connection failures",
				"attempts", failures, "error", err)
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateReconnecting)
		c.log().Warn("connection lost, will reconnect",
			"error", err, "backoff", backoff.String(), "attempt", failures)

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-c.done.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(backoff):
		}

		// Exponential backoff with cap.
		backoff = backoff * 3 / 2
		if max := c.cfg.Reconnect.GetMaxDelay(); backoff > max {
			backoff = max
		}
	}
}

// session runs one transport connection from dial to teardown.
// It returns whether the ready state was reached, and the error that
// ended the session. The transport handle is released on every exit
// path.
func (c *Client) session(ctx context.Context) (wasReady bool, err error) {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.GetHandshakeTimeout())
	conn, err := c.dialer(dialCtx, c.cfg.URL)
	cancel()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateHandshaking)
	if err := c.handshake(conn); err != nil {
		return false, err
	}

	c.setState(StateReady)
	if c.sessionsTotal.Add(1) > 1 {
		c.reconnectsTotal.Add(1)
	}
	c.log().Info("session ready",
		"server", c.ServerName(),
		"protocol_version", c.ServerVersion(),
		"url", c.cfg.URL,
	)

	// Seed the registry with devices already connected to the server.
	if data, _, encErr := c.codec.EncodeRequestDeviceList(); encErr == nil {
		if writeErr := c.write(conn, data); writeErr != nil {
			return true, writeErr
		}
	}

	c.cbMu.RLock()
	ready := c.onReady
	c.cbMu.RUnlock()
	if ready != nil {
		ready()
	}

	stopPing := c.startPingLoop(conn)
	defer stopPing()

	return true, c.readLoop(conn)
}

// handshake sends RequestServerInfo and waits for the matching
// ServerInfo within the configured bound.
func (c *Client) handshake(conn Conn) error {
	data, id, err := c.codec.EncodeRequestServerInfo(c.cfg.ClientName)
	if err != nil {
		return err
	}
	if err := c.write(conn, data); err != nil {
		return err
	}

	timeout := c.cfg.GetHandshakeTimeout()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return fmt.Errorf("%w: no ServerInfo within %s", ErrHandshakeTimeout, timeout)
			}
			if c.isClosed() {
				return ErrConnectionLost
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		events, derr := decodeFrame(frame)
		if derr != nil {
			c.log().Warn("malformed frame during handshake", "error", derr)
		}
		for _, ev := range events {
			si, ok := ev.(ServerInfoEvent)
			if !ok {
				// Anything else arriving mid-handshake is routed
				// normally once the pump gets to it.
				c.publish(ev)
				continue
			}
			if si.ID != id {
				c.log().Warn("ServerInfo with unexpected correlation id",
					"got", si.ID, "want", id)
				continue
			}
			if si.MessageVersion < messageVersion {
				return fmt.Errorf("%w: server speaks message version %d, need %d",
					ErrConnectionFailed, si.MessageVersion, messageVersion)
			}

			c.mu.Lock()
			c.serverName = si.ServerName
			c.serverVersion = si.MessageVersion
			c.maxPingTime = si.MaxPingTime
			c.mu.Unlock()

			// Clear the handshake deadline; the receive loop blocks
			// until traffic or closure.
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
			}
			return nil
		}
	}
}

// readLoop reads frames for the lifetime of one transport connection.
// Malformed frames are logged and skipped; any read error ends the
// session.
func (c *Client) readLoop(conn Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		c.framesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		events, derr := decodeFrame(frame)
		if derr != nil {
			// Non-fatal: record, log, keep reading.
			c.setLastError(derr)
			c.log().Warn("malformed protocol frame", "error", derr)
		}
		for _, ev := range events {
			c.publish(ev)
		}
	}
}

// publish queues an event for the pump, dropping on overflow to keep
// the receive loop from blocking on a slow consumer.
func (c *Client) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.log().Warn("event queue full, dropping event", "type", ev.eventType())
	}
}

// eventPump is the single consumer of inbound events. It is the only
// goroutine that mutates the registry in response to server traffic.
func (c *Client) eventPump() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case ev := <-c.events:
			c.route(ev)
		}
	}
}

func (c *Client) route(ev Event) {
	switch e := ev.(type) {
	case DeviceAddedEvent:
		c.registry.Add(e.Device)
	case DeviceListEvent:
		for _, d := range e.Devices {
			c.registry.Add(d)
		}
	case DeviceRemovedEvent:
		c.registry.Remove(e.Index)
	case OkEvent:
		c.notifyResult(e.ID, nil)
	case ErrorEvent:
		err := fmt.Errorf("intiface: server error %d: %s", e.Code, e.Message)
		c.setLastError(err)
		c.log().Warn("server reported error", "code", e.Code, "message", e.Message, "id", e.ID)
		c.notifyResult(e.ID, err)
	case ScanningFinishedEvent:
		c.log().Debug("scanning finished")
	case ServerInfoEvent:
		// Already consumed during handshake; a late duplicate is noise.
		c.log().Debug("unexpected ServerInfo outside handshake")
	case UnknownEvent:
		c.log().Debug("unrecognised message type", "type", e.Type)
	}
}

func (c *Client) notifyResult(id uint32, err error) {
	c.cbMu.RLock()
	cb := c.onResult
	c.cbMu.RUnlock()
	if cb != nil {
		cb(id, err)
	}
}

// write performs one serialised, deadline-bounded transport write.
func (c *Client) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.GetSendTimeout())); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return fmt.Errorf("%w: write exceeded %s", ErrSendTimeout, c.cfg.GetSendTimeout())
		}
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Send transmits an encoded frame over the live session.
// It fails fast with ErrNotConnected unless the state is ready, and
// with ErrSendTimeout if the transport write exceeds its bound.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	state := c.state
	conn := c.conn
	c.mu.RUnlock()

	if state != StateReady || conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, data)
}

// startPingLoop starts a keepalive goroutine when the server requires
// pings. The returned function stops the loop.
func (c *Client) startPingLoop(conn Conn) func() {
	c.mu.RLock()
	maxPing := c.maxPingTime
	c.mu.RUnlock()

	if maxPing == 0 {
		return func() {}
	}

	// Ping at half the allowed interval to stay well clear of the cut-off.
	interval := time.Duration(maxPing) * time.Millisecond / 2
	stop := make(chan struct{})
	var stopOnce sync.Once

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-c.done.Done():
				return
			case <-ticker.C:
				data, _, err := c.codec.EncodePing()
				if err != nil {
					continue
				}
				if err := c.write(conn, data); err != nil {
					c.log().Warn("keepalive ping failed", "error", err)
					return
				}
			}
		}
	}()

	return func() { stopOnce.Do(func() { close(stop) }) }
}

// Close shuts the client down: the receive loop is cancelled, the
// transport is closed with a best-effort close frame, and all
// goroutines are waited out. Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		// Best-effort normal closure so the server can clean up.
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	if c.isClosed() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log().Debug("connection state changed", "from", string(prev), "to", string(s))
	}
}

func (c *Client) setLastError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// State returns the current connection state. Never blocks.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the most recent error, or nil. Never blocks.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ServerName returns the name announced by the server in the handshake.
func (c *Client) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName
}

// ServerVersion returns the protocol version the server answered with.
func (c *Client) ServerVersion() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// URL returns the configured websocket endpoint.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Stats returns a snapshot of operational statistics.
func (c *Client) Stats() Stats {
	s := Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
	}
	if ts := c.lastActivity.Load(); ts > 0 {
		s.LastActivity = time.Unix(ts, 0).UTC()
	}
	return s
}
