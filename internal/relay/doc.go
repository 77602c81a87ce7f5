// Package relay is a synchronous, in-process packet transport that drives
// any number of transport.Module instances.
//
// Ownership boundary:
// - chain registration (one module and one port per chain)
//
// - the four-step channel handshake and channel close
//
// - packet queueing, delivery, acknowledgement and timeout
//
// - a controllable clock
//
// Nothing here is concurrent with the modules it drives: every callback is
// issued from the caller's goroutine under the relayer lock.
package relay
