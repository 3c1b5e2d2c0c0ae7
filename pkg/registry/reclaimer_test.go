package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propscan/pkg/state"
)

func TestResetStale(t *testing.T) {
	now := time.Now()
	doc := state.NewDocument("s1", state.ModeBatch, []string{"A", "B"}, testPhases, now)

	// A's score phase has been in progress for 40 minutes and carries an
	// error from an earlier attempt.
	stale := now.Add(-40 * time.Minute)
	recA := doc.Item("A").Phase("score")
	recA.Status = state.PhaseInProgress
	recA.StartedAt = &stale
	recA.ErrorMessage = "interrupted mid-scoring"
	doc.Item("A").RecomputeStatus()

	// B's fetch phase started recently.
	fresh := now.Add(-5 * time.Minute)
	recB := doc.Item("B").Phase("fetch")
	recB.Status = state.PhaseInProgress
	recB.StartedAt = &fresh
	doc.Item("B").RecomputeStatus()

	reclaimer := NewReclaimer(30*time.Minute, nil)
	affected := reclaimer.ResetStale(doc, now)

	assert.Equal(t, []string{"A"}, affected)

	assert.Equal(t, state.PhasePending, recA.Status)
	require.NotNil(t, recA.StaleResetAt)
	assert.Equal(t, "interrupted mid-scoring", recA.PreviousError, "audit trail preserved")
	assert.Empty(t, recA.ErrorMessage)
	assert.Nil(t, recA.StartedAt)
	assert.Equal(t, state.ItemPending, doc.Item("A").Status)

	// The fresh phase is untouched.
	assert.Equal(t, state.PhaseInProgress, recB.Status)
	assert.Equal(t, state.ItemInProgress, doc.Item("B").Status)

	assert.Equal(t, 1, doc.Summary.InProgress)
	assert.Equal(t, 1, doc.Summary.Pending)
}

func TestResetStaleNothingToDo(t *testing.T) {
	now := time.Now()
	doc := state.NewDocument("s1", state.ModeBatch, []string{"A"}, testPhases, now)

	reclaimer := NewReclaimer(30*time.Minute, nil)
	assert.Empty(t, reclaimer.ResetStale(doc, now))
}

func TestResetStaleExactTimeoutNotReset(t *testing.T) {
	now := time.Now()
	doc := state.NewDocument("s1", state.ModeBatch, []string{"A"}, testPhases, now)

	started := now.Add(-30 * time.Minute)
	rec := doc.Item("A").Phase("fetch")
	rec.Status = state.PhaseInProgress
	rec.StartedAt = &started

	reclaimer := NewReclaimer(30*time.Minute, nil)
	assert.Empty(t, reclaimer.ResetStale(doc, now), "age must exceed the timeout")
	assert.Equal(t, state.PhaseInProgress, rec.Status)
}

func TestNewReclaimerDefaultTimeout(t *testing.T) {
	reclaimer := NewReclaimer(0, nil)
	assert.Equal(t, DefaultStaleTimeout, reclaimer.timeout)
}
