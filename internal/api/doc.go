// Package api serves the HTTP query and action surface of hub and spoke nodes.
//
// Ownership boundary:
// - gin router setup (recovery, access log, metrics, cors)
//
// - hub queries: health, readiness, info, live channels
//
// - spoke queries and actions: info, channel, paged message log, send
//
// - the spoke websocket feed of logged messages
package api
