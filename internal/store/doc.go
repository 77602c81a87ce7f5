// Package store owns persisted instance state.
//
// Ownership boundary:
// - ordered, bucketed key/value storage
//
// - backend selection (memory, sqlite, postgres, redis, mongo)
//
// Keys within a bucket are ordered bytewise. Callers that need numeric
// ordering encode numbers with fixed width (see SequenceKey).
package store
