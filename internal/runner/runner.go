package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"propscan/pkg/logger"
	"propscan/pkg/ratelimit"
	"propscan/pkg/registry"
	"propscan/pkg/resume"
	"propscan/pkg/retry"
	"propscan/pkg/state"
)

// PhaseFunc is the externally-defined fallible operation for one phase of
// one work item. Payloads and return values are opaque to the runner.
type PhaseFunc func(ctx context.Context, key, phase string) error

// Results summarizes a run
type Results struct {
	Processed int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Runner processes pending work items concurrently while serializing every
// state mutation through a single coordinating goroutine. The state document
// is a whole-document read-modify-write, so two concurrent checkpoints must
// never interleave.
type Runner struct {
	registry    *registry.Registry
	coordinator *resume.Coordinator
	recorder    *resume.FailureRecorder
	retryConfig *retry.Config
	limiter     ratelimit.Limiter
	workers     int
	logger      logger.Logger
}

// New creates a runner
func New(
	reg *registry.Registry,
	coordinator *resume.Coordinator,
	recorder *resume.FailureRecorder,
	retryConfig *retry.Config,
	limiter ratelimit.Limiter,
	workers int,
	log logger.Logger,
) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{
		registry:    reg,
		coordinator: coordinator,
		recorder:    recorder,
		retryConfig: retryConfig,
		limiter:     limiter,
		workers:     workers,
		logger:      log,
	}
}

// mutation is a state-changing request funneled to the coordinator goroutine
type mutation struct {
	apply func() error
	resp  chan error
}

// Run reclaims stale phases, then drives every pending item through its
// remaining phases. Phase operations execute on a worker pool; an item whose
// phase fails permanently or exhausts its retries stops there, later phases
// stay pending for a future resume.
func (r *Runner) Run(ctx context.Context, op PhaseFunc) (*Results, error) {
	start := time.Now()

	if reset, err := r.coordinator.ResetStaleItems(); err != nil {
		return nil, fmt.Errorf("stale reclaim failed: %w", err)
	} else if len(reset) > 0 {
		r.logger.InfoWithFields("reclaimed stale items before run", map[string]interface{}{
			"count": len(reset),
		})
	}

	doc, err := r.coordinator.LoadAndValidate()
	if err != nil {
		return nil, err
	}

	pending, err := r.coordinator.PendingKeys()
	if err != nil {
		return nil, err
	}

	// Snapshot each item's phase statuses so workers can skip already
	// completed phases without touching shared state.
	snapshots := make(map[string]map[string]state.PhaseStatus, len(pending))
	for _, key := range pending {
		item := doc.Item(key)
		if item == nil {
			continue
		}
		phases := make(map[string]state.PhaseStatus, len(item.Phases))
		for name, rec := range item.Phases {
			phases[name] = rec.Status
		}
		snapshots[key] = phases
	}

	mutations := make(chan mutation)
	var coordWG sync.WaitGroup
	coordWG.Add(1)
	go func() {
		defer coordWG.Done()
		for m := range mutations {
			m.resp <- m.apply()
		}
	}()

	jobs := make(chan string)
	results := &Results{}
	var mu sync.Mutex
	var workerWG sync.WaitGroup

	for i := 0; i < r.workers; i++ {
		workerWG.Add(1)
		go func(id int) {
			defer workerWG.Done()
			for key := range jobs {
				ok := r.processItem(ctx, key, snapshots[key], op, mutations)
				mu.Lock()
				results.Processed++
				if ok {
					results.Succeeded++
				} else {
					results.Failed++
				}
				mu.Unlock()
			}
		}(i)
	}

	r.logger.InfoWithFields("run started", map[string]interface{}{
		"pending": len(pending),
		"workers": r.workers,
	})

dispatch:
	for _, key := range pending {
		select {
		case jobs <- key:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	workerWG.Wait()
	close(mutations)
	coordWG.Wait()

	results.Duration = time.Since(start)

	r.logger.InfoWithFields("run finished", map[string]interface{}{
		"processed": results.Processed,
		"succeeded": results.Succeeded,
		"failed":    results.Failed,
		"duration":  results.Duration,
	})

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// processItem drives one work item through its remaining phases. Returns
// true when every phase ends completed or skipped.
func (r *Runner) processItem(ctx context.Context, key string, phases map[string]state.PhaseStatus, op PhaseFunc, mutations chan<- mutation) bool {
	for _, phase := range r.registry.Phases() {
		switch phases[phase] {
		case state.PhaseCompleted, state.PhaseSkipped:
			continue
		}
		if ctx.Err() != nil {
			return false
		}

		if err := r.mutate(mutations, func() error {
			return r.registry.CheckpointPhaseStart(key, phase)
		}); err != nil {
			r.logger.ErrorWithFields("phase start checkpoint failed", map[string]interface{}{
				"key":   key,
				"phase": phase,
				"error": err.Error(),
			})
			return false
		}

		if r.limiter != nil {
			r.limiter.Wait()
		}

		cfg := *r.retryConfig
		cfg.Context = ctx
		opErr := retry.Do(func() error {
			return op(ctx, key, phase)
		}, &cfg)

		if opErr != nil {
			// Exhausted or permanent: record it and stop this item here.
			if err := r.mutate(mutations, func() error {
				return r.recorder.RecordFailure(key, phase, opErr)
			}); err != nil {
				r.logger.ErrorWithFields("failure record could not be persisted", map[string]interface{}{
					"key":   key,
					"phase": phase,
					"error": err.Error(),
				})
			}
			return false
		}

		if err := r.mutate(mutations, func() error {
			return r.registry.CheckpointPhaseComplete(key, phase, nil)
		}); err != nil {
			r.logger.ErrorWithFields("phase completion checkpoint failed", map[string]interface{}{
				"key":   key,
				"phase": phase,
				"error": err.Error(),
			})
			return false
		}
	}

	// Item finished; advance the session cursor.
	if err := r.mutate(mutations, r.advanceSession); err != nil {
		r.logger.WarnWithFields("session cursor update failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	return true
}

// mutate runs a state mutation on the coordinator goroutine and waits for
// the outcome
func (r *Runner) mutate(mutations chan<- mutation, apply func() error) error {
	resp := make(chan error, 1)
	mutations <- mutation{apply: apply, resp: resp}
	return <-resp
}

func (r *Runner) advanceSession() error {
	doc, err := r.registry.Store().Load()
	if err != nil {
		return err
	}
	if doc.Session == nil {
		return nil
	}
	doc.Session.CurrentIndex++
	return r.registry.Store().Save(doc)
}
