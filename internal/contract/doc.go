// Package contract holds plumbing shared by the hub and spoke contracts.
//
// Ownership boundary:
// - persisted contract identity (kind, version)
//
// - response assembly with common event attributes
//
// - channel and chat-message event shapes
package contract
