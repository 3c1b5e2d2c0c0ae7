// Package statestore persists the pipeline state document with crash-safe
// semantics: every save copies the prior file to a timestamped backup, writes
// the new document to a temporary file, and atomically renames it over the
// primary. A crash mid-write never leaves a partially written primary file.
//
// Backups beyond a retention count are pruned after each successful save;
// pruning is best-effort and never fails a save.
package statestore
