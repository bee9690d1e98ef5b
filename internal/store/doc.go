// Package store provides the namespaced, encrypted key-value store lockd
// keeps its state in.
//
// Each namespace is an independent document in the data directory:
//   - <ns>.dat: AES-256-GCM encrypted JSON (default)
//   - <ns>.json: plaintext JSON (namespaces listed as plaintext)
//   - <ns>.salt: 16-byte KDF salt, created once per encrypted namespace
//   - <live>.bak: last-known-good copy, used when the live file cannot be read
//
// Saves write a temporary file next to the live one and rename it into
// place, so an interrupted save leaves either the old or the new document.
// Loads never fail: a corrupt namespace falls back to its backup and then
// to an empty map.
//
// Values are a small tagged union (string, bool, number, nested map). Typed
// getters return the caller's default on a type mismatch.
package store
