package resume

import (
	"fmt"
	"time"

	errs "propscan/pkg/errors"
	"propscan/pkg/logger"
	"propscan/pkg/registry"
	"propscan/pkg/state"
)

// Coordinator validates loaded state and decides resume vs. fresh start
type Coordinator struct {
	registry       *registry.Registry
	reclaimer      *registry.Reclaimer
	maxItemRetries int
	freshRequested bool
	logger         logger.Logger
}

// ResumeSummary carries the session plus aggregate counts for logging at
// resume time
type ResumeSummary struct {
	Session *state.Session `json:"session"`
	Summary state.Summary  `json:"summary"`
}

// NewCoordinator creates a coordinator. maxItemRetries bounds how often a
// failed item is offered for retry; freshRequested forces CanResume to
// report false even when a valid session exists.
func NewCoordinator(reg *registry.Registry, reclaimer *registry.Reclaimer, maxItemRetries int, freshRequested bool, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Coordinator{
		registry:       reg,
		reclaimer:      reclaimer,
		maxItemRetries: maxItemRetries,
		freshRequested: freshRequested,
		logger:         log,
	}
}

// CanResume reports whether a valid session exists in storage and a fresh
// start was not requested
func (c *Coordinator) CanResume() bool {
	if c.freshRequested {
		return false
	}
	if !c.registry.Store().Exists() {
		return false
	}
	if _, err := c.LoadAndValidate(); err != nil {
		return false
	}
	return true
}

// LoadAndValidate loads the state document and checks it for schema
// compatibility and required fields. Validation failures carry a remediation
// suggestion including the estimated data loss of starting fresh.
func (c *Coordinator) LoadAndValidate() (*state.Document, error) {
	doc, err := c.registry.Store().Load()
	if err != nil {
		return nil, err
	}

	suggestion := fmt.Sprintf("start fresh; estimated data loss = %d completed items",
		doc.Summary.Completed)

	if doc.Session == nil {
		return nil, &errs.ValidationError{
			Field:      "session",
			Suggestion: suggestion,
		}
	}
	if doc.Version != state.SchemaVersion {
		return nil, &errs.ValidationError{
			ExpectedVersion: state.SchemaVersion,
			FoundVersion:    doc.Version,
			Suggestion:      suggestion,
		}
	}

	seen := make(map[string]bool, len(doc.WorkItems))
	for _, item := range doc.WorkItems {
		if item.Key == "" {
			return nil, &errs.ValidationError{
				Field:      "work_items.key",
				Suggestion: suggestion,
			}
		}
		if seen[item.Key] {
			return nil, &errs.ValidationError{
				Field:      "work_items",
				Suggestion: fmt.Sprintf("duplicate key %q; %s", item.Key, suggestion),
			}
		}
		seen[item.Key] = true
	}

	return doc, nil
}

// ResetStaleItems reclaims phases orphaned by a crash and persists the
// result. Returns the keys of the affected items.
func (c *Coordinator) ResetStaleItems() ([]string, error) {
	doc, err := c.LoadAndValidate()
	if err != nil {
		return nil, err
	}

	affected := c.reclaimer.ResetStale(doc, time.Now())
	if len(affected) == 0 {
		return nil, nil
	}

	if err := c.registry.Store().Save(doc); err != nil {
		return nil, fmt.Errorf("failed to persist stale resets: %w", err)
	}

	c.logger.InfoWithFields("stale items reclaimed", map[string]interface{}{
		"keys": affected,
	})

	return affected, nil
}

// PendingKeys returns keys whose status is pending, plus failed keys whose
// retry budget is not yet exhausted
func (c *Coordinator) PendingKeys() ([]string, error) {
	doc, err := c.LoadAndValidate()
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, item := range doc.WorkItems {
		switch item.Status {
		case state.ItemPending:
			keys = append(keys, item.Key)
		case state.ItemFailed:
			if item.MaxRetryCount() < c.maxItemRetries {
				keys = append(keys, item.Key)
			}
		}
	}
	return keys, nil
}

// CompletedKeys returns keys whose status is completed
func (c *Coordinator) CompletedKeys() ([]string, error) {
	doc, err := c.LoadAndValidate()
	if err != nil {
		return nil, err
	}
	return doc.KeysWithStatus(state.ItemCompleted), nil
}

// GetResumeSummary returns the session and the aggregate counts for
// logging and telemetry at resume time
func (c *Coordinator) GetResumeSummary() (*ResumeSummary, error) {
	doc, err := c.LoadAndValidate()
	if err != nil {
		return nil, err
	}
	return &ResumeSummary{
		Session: doc.Session,
		Summary: doc.Summary,
	}, nil
}

// EstimateDataLoss returns the count of currently completed items, usable to
// warn a user before they commit to a fresh start
func (c *Coordinator) EstimateDataLoss() (int, error) {
	doc, err := c.registry.Store().Load()
	if err != nil {
		return 0, err
	}
	return doc.Summary.Completed, nil
}

// PrepareFreshStart backs up any existing document, warns about the number
// of previously completed items that will be reprocessed, and initializes a
// new session with the given keys. Returns the backup path, or an empty
// string if there was nothing to back up.
func (c *Coordinator) PrepareFreshStart(newKeys []string) (string, error) {
	var backupPath string

	if c.registry.Store().Exists() {
		// The old document may be corrupt; data-loss estimation is
		// best-effort, the backup is not.
		completed, err := c.EstimateDataLoss()
		if err != nil {
			completed = 0
		}

		backupPath, err = c.registry.Store().Backup()
		if err != nil {
			return "", fmt.Errorf("failed to back up prior state: %w", err)
		}

		c.logger.WarnWithFields("discarding prior session state", map[string]interface{}{
			"backup":             backupPath,
			"completed_reworked": completed,
		})
	}

	mode := state.ModeBatch
	if len(newKeys) == 1 {
		mode = state.ModeSingle
	}

	if _, err := c.registry.InitializeSession(mode, newKeys, ""); err != nil {
		return "", err
	}

	return backupPath, nil
}
