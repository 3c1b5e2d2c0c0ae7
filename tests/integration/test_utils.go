package integration

import (
	"path/filepath"
	"testing"
	"time"

	"propscan/internal/runner"
	errs "propscan/pkg/errors"
	"propscan/pkg/registry"
	"propscan/pkg/resume"
	"propscan/pkg/retry"
	"propscan/pkg/state"
	"propscan/pkg/statestore"
)

// TestHelper wires a complete pipeline against a throwaway state file
type TestHelper struct {
	t           *testing.T
	StatePath   string
	Store       *statestore.Store
	Registry    *registry.Registry
	Coordinator *resume.Coordinator
	Recorder    *resume.FailureRecorder
	Runner      *runner.Runner
}

// NewTestHelper creates a helper with the default three-phase pipeline
func NewTestHelper(t *testing.T) *TestHelper {
	return NewTestHelperWithPhases(t, []string{"fetch", "score", "report"})
}

// NewTestHelperWithPhases creates a helper with a custom phase sequence
func NewTestHelperWithPhases(t *testing.T, phases []string) *TestHelper {
	t.Helper()

	statePath := filepath.Join(t.TempDir(), "propscan_state.json")
	store := statestore.New(statePath, 5, nil)
	reg := registry.New(store, phases, nil)
	reclaimer := registry.NewReclaimer(30*time.Minute, nil)
	coordinator := resume.NewCoordinator(reg, reclaimer, 3, false, nil)
	recorder := resume.NewFailureRecorder(store, errs.NewClassifier(), nil)

	retryCfg := retry.DefaultConfig()
	retryCfg.Backoff = &retry.ConstantBackoff{Delay: time.Millisecond}

	return &TestHelper{
		t:           t,
		StatePath:   statePath,
		Store:       store,
		Registry:    reg,
		Coordinator: coordinator,
		Recorder:    recorder,
		Runner:      runner.New(reg, coordinator, recorder, retryCfg, nil, 2, nil),
	}
}

// Reopen builds a second pipeline over the same state file, the way a new
// process invocation would after a crash or restart.
func (h *TestHelper) Reopen() *TestHelper {
	h.t.Helper()

	store := statestore.New(h.StatePath, 5, nil)
	reg := registry.New(store, h.Registry.Phases(), nil)
	reclaimer := registry.NewReclaimer(30*time.Minute, nil)
	coordinator := resume.NewCoordinator(reg, reclaimer, 3, false, nil)
	recorder := resume.NewFailureRecorder(store, errs.NewClassifier(), nil)

	retryCfg := retry.DefaultConfig()
	retryCfg.Backoff = &retry.ConstantBackoff{Delay: time.Millisecond}

	return &TestHelper{
		t:           h.t,
		StatePath:   h.StatePath,
		Store:       store,
		Registry:    reg,
		Coordinator: coordinator,
		Recorder:    recorder,
		Runner:      runner.New(reg, coordinator, recorder, retryCfg, nil, 2, nil),
	}
}

// BackdatePhase rewinds a phase's start time and marks it in progress, the
// footprint a crashed worker leaves behind.
func (h *TestHelper) BackdatePhase(key, phase string, age time.Duration) {
	h.t.Helper()

	doc, err := h.Store.Load()
	if err != nil {
		h.t.Fatalf("load state: %v", err)
	}
	item := doc.Item(key)
	if item == nil {
		h.t.Fatalf("no work item %q", key)
	}
	rec := item.Phase(phase)
	if rec == nil {
		h.t.Fatalf("no phase %q on %q", phase, key)
	}
	rec.Status = state.PhaseInProgress
	started := time.Now().Add(-age)
	rec.StartedAt = &started
	item.RecomputeStatus()
	if err := h.Store.Save(doc); err != nil {
		h.t.Fatalf("save state: %v", err)
	}
}
