// Package intiface implements the bridge core: a persistent websocket
// session speaking the Buttplug JSON protocol v3 to an Intiface Central
// server, plus the command dispatch layer driven by the REST API.
//
// The package is organised around four cooperating pieces:
//
//   - the message codec (messages.go): typed encode/decode of protocol
//     frames, strict about outgoing values, forgiving about incoming
//     garbage (malformed frames are reported, never fatal);
//   - the Client (client.go): owns the websocket transport, the
//     handshake, the receive loop, and the reconnection policy;
//   - the Dispatcher (dispatcher.go): validates command parameters,
//     builds protocol messages, and manages duration-based auto-stop
//     timers;
//   - the Bridge facade (bridge.go, status.go): the single owned
//     instance handed to the HTTP layer, composing point-in-time
//     status snapshots.
//
// Concurrency model: one background goroutine owns each live transport
// connection and its receive loop; decoded frames are published as
// typed events onto an internal channel consumed by a single event
// pump, which is the only place that mutates the device registry in
// response to server traffic. REST-triggered operations run on their
// own goroutines and reach the session only through Send, which is
// serialised and bounded by a write deadline.
package intiface
