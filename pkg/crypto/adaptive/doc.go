// Package adaptive provides adaptive encryption for sessionkeep.
//
// It seals stored credentials at rest. The cipher is picked from hardware
// capabilities and recorded in each ciphertext:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for systems without AES-NI
//
// The first byte of a ciphertext names the algorithm, so a value sealed on
// one machine opens on any other holding the same key.
//
// Keys are either random secrets kept in a 0600 file or derived from a
// passphrase with Argon2id.
//
// Usage:
//
//	key, err := adaptive.LoadOrCreateSecret(path, adaptive.KeySize)
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(sealed, aad)
package adaptive
