package registry

import (
	"time"

	"propscan/pkg/logger"
	"propscan/pkg/state"
)

// DefaultStaleTimeout is how long a phase may sit in_progress before a
// resume treats it as orphaned by a crash
const DefaultStaleTimeout = 30 * time.Minute

// Reclaimer resets phases left in_progress past a timeout, presumed orphaned
// by a crash. The timeout is a liveness heuristic, not a correctness
// guarantee: a legitimately long-running phase past the timeout gets a false
// reset, which is an accepted tradeoff.
type Reclaimer struct {
	timeout time.Duration
	logger  logger.Logger
}

// NewReclaimer creates a reclaimer with the given stale timeout. A timeout
// of zero or less falls back to DefaultStaleTimeout.
func NewReclaimer(timeout time.Duration, log logger.Logger) *Reclaimer {
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Reclaimer{timeout: timeout, logger: log}
}

// ResetStale scans all phases for in_progress records whose started_at is
// older than the timeout, resets them to pending, and returns the keys of
// the affected items. Any prior error message is moved to previous_error so
// the audit trail survives the reset. The document is mutated in place; the
// caller is responsible for persisting it.
func (rc *Reclaimer) ResetStale(doc *state.Document, now time.Time) []string {
	var affected []string

	for _, item := range doc.WorkItems {
		itemTouched := false
		for phase, rec := range item.Phases {
			if rec.Status != state.PhaseInProgress || rec.StartedAt == nil {
				continue
			}
			age := now.Sub(*rec.StartedAt)
			if age <= rc.timeout {
				continue
			}

			resetAt := now
			rec.Status = state.PhasePending
			rec.StaleResetAt = &resetAt
			if rec.ErrorMessage != "" {
				rec.PreviousError = rec.ErrorMessage
				rec.ErrorMessage = ""
			}
			rec.StartedAt = nil
			itemTouched = true

			rc.logger.WarnWithFields("stale phase reset", map[string]interface{}{
				"key":     item.Key,
				"phase":   phase,
				"age":     age,
				"timeout": rc.timeout,
			})
		}
		if itemTouched {
			item.UpdatedAt = now
			item.RecomputeStatus()
			affected = append(affected, item.Key)
		}
	}

	if len(affected) > 0 {
		doc.RecomputeSummary()
	}

	return affected
}
