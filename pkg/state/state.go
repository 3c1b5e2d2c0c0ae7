package state

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped into every document and checked on load
const SchemaVersion = 1

// PhaseStatus represents the status of a single phase of a work item
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
	PhaseBlocked    PhaseStatus = "blocked"
)

// ItemStatus represents the derived overall status of a work item
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemBlocked    ItemStatus = "blocked"
)

// SessionMode distinguishes batch runs from single-item runs
type SessionMode string

const (
	ModeBatch  SessionMode = "batch"
	ModeSingle SessionMode = "single"
)

// PhaseRecord tracks one phase of one work item
type PhaseRecord struct {
	Status       PhaseStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	// ErrorCategory records the transient/permanent classification of the
	// failure that put this phase into failed
	ErrorCategory string `json:"error_category,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`

	// Audit trail for stale resets: the reset timestamp and the error that
	// was on the record before it was reset.
	StaleResetAt  *time.Time `json:"stale_reset_at,omitempty"`
	PreviousError string     `json:"previous_error,omitempty"`
}

// CanStart reports whether the phase may transition to in_progress
func (p *PhaseRecord) CanStart() bool {
	return p.Status == PhasePending || p.Status == PhaseFailed
}

// CanComplete reports whether the phase may transition to a terminal outcome
func (p *PhaseRecord) CanComplete() bool {
	return p.Status == PhaseInProgress
}

// WorkItem tracks one unit of batched work through the phase sequence
type WorkItem struct {
	ID        string                  `json:"id"`
	Key       string                  `json:"key"`
	Status    ItemStatus              `json:"status"`
	Phases    map[string]*PhaseRecord `json:"phases"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`

	// PhaseOrder preserves the pipeline's phase sequence; JSON objects do
	// not guarantee key order.
	PhaseOrder []string `json:"phase_order"`
}

// NewWorkItem creates a work item with all phases pending
func NewWorkItem(key string, phases []string, now time.Time) *WorkItem {
	item := &WorkItem{
		ID:         uuid.NewString(),
		Key:        key,
		Status:     ItemPending,
		Phases:     make(map[string]*PhaseRecord, len(phases)),
		PhaseOrder: append([]string(nil), phases...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, phase := range phases {
		item.Phases[phase] = &PhaseRecord{Status: PhasePending}
	}
	return item
}

// Phase returns the named phase record, or nil if the item has no such phase
func (w *WorkItem) Phase(name string) *PhaseRecord {
	return w.Phases[name]
}

// RecomputeStatus derives the overall status from the phase statuses.
// Precedence: failed, then blocked, then in_progress, then completed (all
// phases terminal with at least every phase completed or skipped), otherwise
// pending.
func (w *WorkItem) RecomputeStatus() {
	var anyFailed, anyBlocked, anyInProgress bool
	allDone := true

	for _, rec := range w.Phases {
		switch rec.Status {
		case PhaseFailed:
			anyFailed = true
			allDone = false
		case PhaseBlocked:
			anyBlocked = true
			allDone = false
		case PhaseInProgress:
			anyInProgress = true
			allDone = false
		case PhasePending:
			allDone = false
		}
	}

	switch {
	case anyFailed:
		w.Status = ItemFailed
	case anyBlocked:
		w.Status = ItemBlocked
	case anyInProgress:
		w.Status = ItemInProgress
	case allDone && len(w.Phases) > 0:
		w.Status = ItemCompleted
	default:
		w.Status = ItemPending
	}
}

// MaxRetryCount returns the highest retry count across the item's phases
func (w *WorkItem) MaxRetryCount() int {
	max := 0
	for _, rec := range w.Phases {
		if rec.RetryCount > max {
			max = rec.RetryCount
		}
	}
	return max
}

// Session describes one pipeline run
type Session struct {
	SessionID    string      `json:"session_id"`
	StartedAt    time.Time   `json:"started_at"`
	Mode         SessionMode `json:"mode"`
	TotalItems   int         `json:"total_items"`
	CurrentIndex int         `json:"current_index"`
}

// Summary holds aggregate counts per overall status. It is always recomputed
// from the work items.
type Summary struct {
	Total                int     `json:"total"`
	Pending              int     `json:"pending"`
	InProgress           int     `json:"in_progress"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	Blocked              int     `json:"blocked"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Document is the persisted state of a session and its work items
type Document struct {
	Version   int         `json:"version"`
	Session   *Session    `json:"session"`
	WorkItems []*WorkItem `json:"work_items"`
	Summary   Summary     `json:"summary"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewDocument builds a fresh document with one pending work item per key
func NewDocument(sessionID string, mode SessionMode, keys, phases []string, now time.Time) *Document {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	doc := &Document{
		Version: SchemaVersion,
		Session: &Session{
			SessionID:  sessionID,
			StartedAt:  now,
			Mode:       mode,
			TotalItems: len(keys),
		},
		WorkItems: make([]*WorkItem, 0, len(keys)),
		UpdatedAt: now,
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		doc.WorkItems = append(doc.WorkItems, NewWorkItem(key, phases, now))
	}
	doc.Session.TotalItems = len(doc.WorkItems)
	doc.RecomputeSummary()

	return doc
}

// Item returns the work item with the given key, or nil
func (d *Document) Item(key string) *WorkItem {
	for _, item := range d.WorkItems {
		if item.Key == key {
			return item
		}
	}
	return nil
}

// Keys returns all work-item keys in document order
func (d *Document) Keys() []string {
	keys := make([]string, len(d.WorkItems))
	for i, item := range d.WorkItems {
		keys[i] = item.Key
	}
	return keys
}

// KeysWithStatus returns the keys of items with the given overall status
func (d *Document) KeysWithStatus(status ItemStatus) []string {
	var keys []string
	for _, item := range d.WorkItems {
		if item.Status == status {
			keys = append(keys, item.Key)
		}
	}
	return keys
}

// RecomputeSummary rebuilds the aggregate counts from the work items
func (d *Document) RecomputeSummary() {
	s := Summary{Total: len(d.WorkItems)}
	for _, item := range d.WorkItems {
		switch item.Status {
		case ItemPending:
			s.Pending++
		case ItemInProgress:
			s.InProgress++
		case ItemCompleted:
			s.Completed++
		case ItemFailed:
			s.Failed++
		case ItemBlocked:
			s.Blocked++
		}
	}
	if s.Total > 0 {
		s.CompletionPercentage = float64(s.Completed) / float64(s.Total) * 100
	}
	d.Summary = s
}
