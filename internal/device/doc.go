// Package device holds the in-memory model of devices announced by the
// Intiface server, and the registry tracking the currently active one.
//
// Device indices are assigned by the remote server and are only
// meaningful within a single websocket session: the registry is cleared
// in full whenever the connection is lost, so stale indices can never be
// addressed after a reconnect.
package device
