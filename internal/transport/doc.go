// Package transport defines the packet transport contract between relay
// instances.
//
// Ownership boundary:
// - channel and endpoint identity
//
// - packet and outbound packet shapes
//
// - callback surface every relay instance implements
//
// Delivery, sequencing and timeout detection belong to the transports
// (internal/relay, internal/link), not to this package.
package transport
