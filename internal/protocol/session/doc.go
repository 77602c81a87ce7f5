// Package session owns the hub<->spoke link wire messages and the settings
// that govern a link's lifetime.
//
// Ownership boundary:
// - handshake, packet, ack, close and error message payloads
//
// - link timing and dial retry/backoff
//
// - transport security policy (tls files, development vs production)
//
// - the pending-packet outbox used to fire timeouts
package session
