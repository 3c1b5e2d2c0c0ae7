// Package resume decides whether an interrupted session can be picked up
// where it left off. The coordinator validates the loaded state document,
// reclaims phases orphaned by a crash, and exposes the pending and completed
// key sets an orchestrator needs to continue. The failure recorder persists
// exhausted and permanent operation failures back into the state document
// with their classification, for reporting.
package resume
