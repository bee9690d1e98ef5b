// Package enforcer applies the lock policy to the filesystem and to running
// processes.
//
// Folder trees are locked deepest first, so every node is still reachable
// when it is denied and the root goes last. They are unlocked root first:
// each directory is allowed before it is listed, so its children become
// reachable one level at a time. Every denied node is journaled in the
// ledger before the change, which lets a later pass restore original modes
// after a crash or a partial walk.
//
// Process enforcement kills every running process whose name matches a
// locked program. Nothing is cached between ticks; a process that survives
// a kill is found again on the next scan.
package enforcer
