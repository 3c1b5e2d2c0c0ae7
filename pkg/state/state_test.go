package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPhases = []string{"fetch", "score", "report"}

func TestNewDocument(t *testing.T) {
	now := time.Now()
	doc := NewDocument("", ModeBatch, []string{"A", "B", "C"}, testPhases, now)

	require.NotNil(t, doc.Session)
	assert.NotEmpty(t, doc.Session.SessionID)
	assert.Equal(t, ModeBatch, doc.Session.Mode)
	assert.Equal(t, 3, doc.Session.TotalItems)
	assert.Equal(t, SchemaVersion, doc.Version)

	require.Len(t, doc.WorkItems, 3)
	for _, item := range doc.WorkItems {
		assert.Equal(t, ItemPending, item.Status)
		assert.Len(t, item.Phases, len(testPhases))
		for _, rec := range item.Phases {
			assert.Equal(t, PhasePending, rec.Status)
		}
	}

	assert.Equal(t, 3, doc.Summary.Total)
	assert.Equal(t, 3, doc.Summary.Pending)
}

func TestNewDocumentDeduplicatesKeys(t *testing.T) {
	doc := NewDocument("s1", ModeBatch, []string{"A", "B", "A"}, testPhases, time.Now())

	assert.Len(t, doc.WorkItems, 2)
	assert.Equal(t, 2, doc.Session.TotalItems)
	assert.Equal(t, []string{"A", "B"}, doc.Keys())
}

func TestNewDocumentKeepsExplicitSessionID(t *testing.T) {
	doc := NewDocument("my-session", ModeSingle, []string{"A"}, testPhases, time.Now())
	assert.Equal(t, "my-session", doc.Session.SessionID)
}

func TestRecomputeStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []PhaseStatus
		expected ItemStatus
	}{
		{"all pending", []PhaseStatus{PhasePending, PhasePending, PhasePending}, ItemPending},
		{"all completed", []PhaseStatus{PhaseCompleted, PhaseCompleted, PhaseCompleted}, ItemCompleted},
		{"completed and skipped", []PhaseStatus{PhaseCompleted, PhaseSkipped, PhaseCompleted}, ItemCompleted},
		{"one in progress", []PhaseStatus{PhaseCompleted, PhaseInProgress, PhasePending}, ItemInProgress},
		{"one failed wins over in progress", []PhaseStatus{PhaseFailed, PhaseInProgress, PhasePending}, ItemFailed},
		{"blocked wins over in progress", []PhaseStatus{PhaseBlocked, PhaseInProgress, PhasePending}, ItemBlocked},
		{"failed wins over blocked", []PhaseStatus{PhaseFailed, PhaseBlocked, PhasePending}, ItemFailed},
		{"partially completed is pending", []PhaseStatus{PhaseCompleted, PhasePending, PhasePending}, ItemPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewWorkItem("key", testPhases, time.Now())
			for i, phase := range testPhases {
				item.Phases[phase].Status = tt.statuses[i]
			}
			item.RecomputeStatus()
			assert.Equal(t, tt.expected, item.Status)
		})
	}
}

func TestRecomputeSummaryCountsSumToTotal(t *testing.T) {
	doc := NewDocument("s1", ModeBatch, []string{"A", "B", "C", "D", "E"}, testPhases, time.Now())

	// Push items into a mix of states.
	doc.WorkItems[0].Phases["fetch"].Status = PhaseInProgress
	doc.WorkItems[1].Phases["fetch"].Status = PhaseFailed
	for _, phase := range testPhases {
		doc.WorkItems[2].Phases[phase].Status = PhaseCompleted
	}
	for _, item := range doc.WorkItems {
		item.RecomputeStatus()
	}
	doc.RecomputeSummary()

	s := doc.Summary
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, s.Total, s.Pending+s.InProgress+s.Completed+s.Failed+s.Blocked)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 2, s.Pending)
	assert.InDelta(t, 20.0, s.CompletionPercentage, 0.001)
}

func TestPhaseTransitionGuards(t *testing.T) {
	rec := &PhaseRecord{Status: PhasePending}
	assert.True(t, rec.CanStart())
	assert.False(t, rec.CanComplete())

	rec.Status = PhaseInProgress
	assert.False(t, rec.CanStart())
	assert.True(t, rec.CanComplete())

	rec.Status = PhaseFailed
	assert.True(t, rec.CanStart(), "failed phases may be retried")

	rec.Status = PhaseCompleted
	assert.False(t, rec.CanStart())
	assert.False(t, rec.CanComplete())

	rec.Status = PhaseSkipped
	assert.False(t, rec.CanStart())
	assert.False(t, rec.CanComplete())
}

func TestMaxRetryCount(t *testing.T) {
	item := NewWorkItem("key", testPhases, time.Now())
	assert.Equal(t, 0, item.MaxRetryCount())

	item.Phases["fetch"].RetryCount = 2
	item.Phases["score"].RetryCount = 5
	assert.Equal(t, 5, item.MaxRetryCount())
}

func TestKeysWithStatus(t *testing.T) {
	doc := NewDocument("s1", ModeBatch, []string{"A", "B"}, testPhases, time.Now())
	for _, phase := range testPhases {
		doc.WorkItems[0].Phases[phase].Status = PhaseCompleted
	}
	doc.WorkItems[0].RecomputeStatus()

	assert.Equal(t, []string{"A"}, doc.KeysWithStatus(ItemCompleted))
	assert.Equal(t, []string{"B"}, doc.KeysWithStatus(ItemPending))
	assert.Nil(t, doc.Item("missing"))
	assert.NotNil(t, doc.Item("B"))
}
