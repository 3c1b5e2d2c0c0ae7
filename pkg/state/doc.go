// Package state defines the persisted document model for pipeline
// checkpointing: work items keyed by address, their per-phase records, the
// owning session, and the derived summary.
//
// Two rules hold everywhere:
//   - a work item's overall status is always derived from its phase statuses,
//     never set directly
//   - the document summary is always recomputed from the work items, never
//     edited independently
package state
