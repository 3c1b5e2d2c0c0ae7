package resume

import (
	"fmt"
	"time"

	errs "propscan/pkg/errors"
	"propscan/pkg/logger"
	"propscan/pkg/state"
	"propscan/pkg/statestore"
)

// FailureRecorder persists exhausted and permanent operation failures back
// into the state document with their classification
type FailureRecorder struct {
	store      *statestore.Store
	classifier *errs.Classifier
	logger     logger.Logger
}

// FailureDetail describes one failed phase for reporting
type FailureDetail struct {
	Key       string     `json:"key"`
	Phase     string     `json:"phase"`
	Message   string     `json:"message"`
	Category  string     `json:"category"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// FailureReport aggregates all recorded failures
type FailureReport struct {
	Total    int             `json:"total"`
	Failures []FailureDetail `json:"failures"`
}

// NewFailureRecorder creates a failure recorder over the given store
func NewFailureRecorder(store *statestore.Store, classifier *errs.Classifier, log logger.Logger) *FailureRecorder {
	if classifier == nil {
		classifier = errs.NewClassifier()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &FailureRecorder{
		store:      store,
		classifier: classifier,
		logger:     log,
	}
}

// RecordFailure marks the given phase failed with the error's classification
// and formatted message, then persists the document. Unlike a checkpoint,
// recording tolerates any prior phase status: an exhausted retry loop must
// always be able to leave its trace.
func (r *FailureRecorder) RecordFailure(key, phase string, opErr error) error {
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

	classification := r.classifier.Classify(opErr)
	now := time.Now()

	if rec.Status != state.PhaseFailed {
		rec.RetryCount++
	}
	rec.Status = state.PhaseFailed
	rec.CompletedAt = &now
	rec.ErrorMessage = r.classifier.FormatMessage(opErr, fmt.Sprintf("phase %s", phase))
	rec.ErrorCategory = string(classification)

	item.UpdatedAt = now
	item.RecomputeStatus()
	doc.RecomputeSummary()

	if err := r.store.Save(doc); err != nil {
		return fmt.Errorf("failed to persist failure record: %w", err)
	}

	r.logger.ErrorWithFields("phase failure recorded", map[string]interface{}{
		"key":            key,
		"phase":          phase,
		"classification": string(classification),
		"error":          opErr.Error(),
	})

	return nil
}

// GetFailureSummary returns the total failure count plus per-item details
func (r *FailureRecorder) GetFailureSummary() (*FailureReport, error) {
	doc, err := r.store.Load()
	if err != nil {
		return nil, err
	}

	report := &FailureReport{}
	for _, item := range doc.WorkItems {
		for _, phase := range item.PhaseOrder {
			rec := item.Phases[phase]
			if rec == nil || rec.Status != state.PhaseFailed {
				continue
			}
			report.Total++
			report.Failures = append(report.Failures, FailureDetail{
				Key:       item.Key,
				Phase:     phase,
				Message:   rec.ErrorMessage,
				Category:  rec.ErrorCategory,
				Timestamp: rec.CompletedAt,
			})
		}
	}

	return report, nil
}
