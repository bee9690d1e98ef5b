// Package daemon runs the enforcement loop.
//
// One scheduler goroutine ticks at a fixed interval, starting immediately.
// Each tick refreshes the registry, reads the global mode fresh, scans
// processes and then reconciles folders. A panicking tick is recovered and
// the schedule carries on.
//
// Stop is fail-open: once the scheduler has been cancelled and has exited,
// or the grace period has run out, every tracked folder is unlocked
// regardless of its flags. No timeout skips that pass.
package daemon
