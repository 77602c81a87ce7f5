// Package hub owns the relay hub contract.
//
// Ownership boundary:
// - channel registry keyed by remote endpoint
//
// - fan-out of inbound ToHub packets to every other registered channel
//
// - hub queries
//
// Lifecycle order:
// - open -> connect -> (receive)* -> close
//
// - a connect under an occupied registry key is rejected, never replaced.
//
// Hub keeps no message log. It is a pure relay.
package hub
