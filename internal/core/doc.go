// Package core wires configuration, logging, the encrypted store, the
// registry, the permission ledger and the daemon into one handle.
//
// Core operations include:
//   - Open: derive the identity, open and load the store
//   - Daemon: open the ledger and build the enforcement daemon
//   - Status: registry and ledger summary, no password required
//   - ReleaseAll: one-shot fail-open pass without a daemon
//   - CompactLedger: reclaim ledger space
//
// The ledger is opened on first use. BBolt locks it exclusively, so while
// a daemon runs other processes only get a read-only view, or ErrBusy.
package core
