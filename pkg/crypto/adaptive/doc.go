// Package adaptive provides authenticated encryption of record payloads at
// rest.
//
// The cipher is picked from the hardware: AES-256-GCM where the CPU has
// AES instructions, ChaCha20-Poly1305 elsewhere. Output is the random
// nonce followed by the sealed payload, so a sealed payload is
// SealedSize(n) bytes long.
//
// Usage:
//
//	key, err := adaptive.ParseKey(cfg.EncryptionKey)
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(payload, id)
//	payload, err := c.Decrypt(sealed, id)
package adaptive
