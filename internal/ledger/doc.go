// Package ledger records which filesystem nodes lockd has denied, so that
// original permissions can be restored after a crash or a partial lock.
//
// The BBolt database holds two buckets:
//   - nodes: every path currently denied, with its original mode
//   - roots: protected folders whose whole tree is denied
//
// A node is recorded before it is denied and forgotten after it is allowed
// again. A root is recorded only after its last node is denied, so a root
// entry means the tree is fully locked.
//
// BBolt holds an exclusive file lock while open. Read-only openers (the
// CLI status view) wait up to Options.Timeout and then give up.
package ledger
