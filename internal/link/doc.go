// Package link carries hub<->spoke channels over a network byte stream.
//
// Ownership boundary:
// - QUIC (default) and TCP listeners and dialers
//
// - the four-step channel handshake over session frames
//
// - per-channel packet send, receive, ack and timeout sweep
//
// - closing a channel when its connection is lost
//
// Lifecycle order:
// - spoke dials -> open_init (join token) -> open_try -> open_ack -> open_confirm
//
// - packets flow both ways until either side closes or the stream fails.
//
// One connection carries exactly one channel. Contracts never block on the
// wire: outgoing frames are queued and written by a per-link writer.
package link
