// Package chat owns the relay's message vocabulary.
//
// Ownership boundary:
// - chat message and logged message shapes
//
// - participating network identifiers
//
// - log pagination order
//
// Chat does not own storage or transport.
package chat
