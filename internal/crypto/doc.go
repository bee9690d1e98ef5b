// Package crypto provides cryptographic operations for lockd.
//
// Store encryption uses AES-256-GCM with:
//   - 32-byte key derived from the user/machine identity via PBKDF2
//   - 12-byte random nonce per encryption, prepended to the ciphertext
//   - Authenticated encryption so tampered namespaces fail to open
//
// Key derivation uses PBKDF2-HMAC-SHA256 with:
//   - 16-byte random salt per namespace (stored unencrypted, never rotated)
//   - 210,000 iterations by default (OWASP minimum recommendation)
//
// The operator password is hashed separately with argon2id and stored in
// the account namespace as a self-describing encoded string.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
