// Package spoke owns the relay spoke contract.
//
// Ownership boundary:
// - the single channel slot to the hub
//
// - the append-only message log and its pagination
//
// - the local send action
//
// A successful connect overwrites the slot without a close. Hubs reject
// the same situation; the two policies are intentionally not unified.
package spoke
