package registry

import (
	"fmt"
	"time"

	errs "propscan/pkg/errors"
	"propscan/pkg/logger"
	"propscan/pkg/state"
	"propscan/pkg/statestore"
)

// Registry tracks work items through the pipeline's phase sequence
type Registry struct {
	store  *statestore.Store
	phases []string
	logger logger.Logger
}

// New creates a registry over the given store and phase sequence
func New(store *statestore.Store, phases []string, log logger.Logger) *Registry {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Registry{
		store:  store,
		phases: append([]string(nil), phases...),
		logger: log,
	}
}

// Phases returns the configured phase sequence
func (r *Registry) Phases() []string {
	return append([]string(nil), r.phases...)
}

// InitializeSession builds a fresh state document with one work item per key,
// all phases pending, and persists it. An empty sessionID generates one.
func (r *Registry) InitializeSession(mode state.SessionMode, keys []string, sessionID string) (*state.Document, error) {
	doc := state.NewDocument(sessionID, mode, keys, r.phases, time.Now())

	if err := r.store.Save(doc); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	r.logger.InfoWithFields("session initialized", map[string]interface{}{
		"session_id": doc.Session.SessionID,
		"mode":       string(mode),
		"items":      len(doc.WorkItems),
		"phases":     r.phases,
	})

	return doc, nil
}

// CheckpointPhaseStart marks a phase in_progress and persists the change.
// The phase must currently be pending or failed.
func (r *Registry) CheckpointPhaseStart(key, phase string) error {
	return r.checkpoint(key, phase, func(rec *state.PhaseRecord, now time.Time) error {
		if !rec.CanStart() {
			return &errs.TransitionError{
				Key:   key,
				Phase: phase,
				From:  string(rec.Status),
				To:    string(state.PhaseInProgress),
			}
		}
		rec.Status = state.PhaseInProgress
		rec.StartedAt = &now
		rec.CompletedAt = nil
		return nil
	})
}

// CheckpointPhaseComplete records the outcome of an in_progress phase. A nil
// opErr completes the phase; a non-nil opErr fails it, increments its retry
// count, and stores the error message.
func (r *Registry) CheckpointPhaseComplete(key, phase string, opErr error) error {
	return r.checkpoint(key, phase, func(rec *state.PhaseRecord, now time.Time) error {
		target := state.PhaseCompleted
		if opErr != nil {
			target = state.PhaseFailed
		}
		if !rec.CanComplete() {
			return &errs.TransitionError{
				Key:   key,
				Phase: phase,
				From:  string(rec.Status),
				To:    string(target),
			}
		}
		rec.Status = target
		rec.CompletedAt = &now
		if opErr != nil {
			rec.RetryCount++
			rec.ErrorMessage = opErr.Error()
		} else {
			rec.ErrorMessage = ""
		}
		return nil
	})
}

// CheckpointPhaseSkip marks a pending phase skipped. Skipped is terminal and
// does not block item completion.
func (r *Registry) CheckpointPhaseSkip(key, phase string) error {
	return r.checkpoint(key, phase, func(rec *state.PhaseRecord, now time.Time) error {
		if rec.Status != state.PhasePending {
			return &errs.TransitionError{
				Key:   key,
				Phase: phase,
				From:  string(rec.Status),
				To:    string(state.PhaseSkipped),
			}
		}
		rec.Status = state.PhaseSkipped
		rec.CompletedAt = &now
		return nil
	})
}

// checkpoint runs a load-mutate-save cycle for a single phase record
func (r *Registry) checkpoint(key, phase string, mutate func(*state.PhaseRecord, time.Time) error) error {
	doc, err := r.store.Load()
	if err != nil {
		return err
	}

	item := doc.Item(key)
	if item == nil {
		return &errs.KeyNotFoundError{Key: key}
	}

	rec := item.Phase(phase)
	if rec == nil {
		return fmt.Errorf("work item %q has no phase %q", key, phase)
	}

	now := time.Now()
	prior := rec.Status
	if err := mutate(rec, now); err != nil {
		return err
	}

	item.UpdatedAt = now
	item.RecomputeStatus()
	doc.RecomputeSummary()

	if err := r.store.Save(doc); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	r.logger.DebugWithFields("phase checkpointed", map[string]interface{}{
		"key":         key,
		"phase":       phase,
		"from":        string(prior),
		"to":          string(rec.Status),
		"item_status": string(item.Status),
	})

	return nil
}

// GetPending returns the keys of items whose overall status is pending
func (r *Registry) GetPending() ([]string, error) {
	doc, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	return doc.KeysWithStatus(state.ItemPending), nil
}

// GetIncomplete returns the keys of items whose overall status is anything
// but completed
func (r *Registry) GetIncomplete() ([]string, error) {
	doc, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, item := range doc.WorkItems {
		if item.Status != state.ItemCompleted {
			keys = append(keys, item.Key)
		}
	}
	return keys, nil
}

// Document loads and returns the current state document
func (r *Registry) Document() (*state.Document, error) {
	return r.store.Load()
}

// Store returns the underlying state store
func (r *Registry) Store() *statestore.Store {
	return r.store
}
