// Package registry owns the work-item state machine. All phase mutations go
// through checkpoint operations that validate the requested transition, stamp
// timestamps, rederive the item's overall status, and persist the whole
// document durably.
//
// Phase transitions: pending -> in_progress -> {completed, failed};
// failed -> in_progress (retry); pending -> skipped. completed and skipped
// are terminal.
//
// The registry is single-writer: callers must serialize checkpoint calls, a
// save is a whole-document read-modify-write.
package registry
