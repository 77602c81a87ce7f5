// Package protocol owns the relay wire contract.
//
// Ownership boundary:
// - ToHub/ToSpoke packet codec
// - acknowledgement envelope
// - channel handshake validation
// - error taxonomy shared by hub and spoke
package protocol
