// Package storage persists the session's credential pair.
//
// Layers, bottom up:
//
//   - KV: a narrow key-value contract (Get, atomic Apply, Close)
//   - BadgerEngine / MemoryEngine: durable and in-process KV backends
//   - TokenStore: the only component that knows the two credential keys,
//     optionally sealing values with pkg/crypto/adaptive
//   - Fallback: keeps the process working in memory once the durable
//     store fails
package storage
