package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/genforge/genforge/pkg/capability"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	vramDemandThreshold = 0.75
	ramDemandThreshold  = 0.75
	reloadRetryDelay    = 2 * time.Second
)

// Orchestrator decides whether a diffusion job needs the LLM server
// offloaded first, and coordinates the save/stop/execute/reload protocol
// around it (spec §4.4).
type Orchestrator struct {
	log        logging.Logger
	llm        LLMServer
	oracle     capability.Oracle
	estimator  FootprintEstimator
	tracker    *metrics.Tracker

	mu           sync.Mutex
	saved        *SavedLLMState
	reloadGroup  *errgroup.Group

	// sleep is indirected so tests can skip the 2s retry delay.
	sleep func(time.Duration)
}

// New constructs an Orchestrator. llm and oracle are the only external
// collaborators (spec §6.4); both must be supplied explicitly at the
// composition root — no package-level singletons (spec §9).
func New(log logging.Logger, llm LLMServer, oracle capability.Oracle) *Orchestrator {
	return &Orchestrator{
		log:       log.WithField("component", "orchestrator"),
		llm:       llm,
		oracle:    oracle,
		estimator: DefaultFootprintEstimator,
		sleep:     time.Sleep,
	}
}

// SetTracker attaches a metrics.Tracker so offload and reload-failure events
// are recorded. Optional: a nil tracker (the default) disables recording.
func (o *Orchestrator) SetTracker(t *metrics.Tracker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracker = t
}

// WouldNeedOffload reports whether running diffusionModelSize concurrently
// with the LLM server's current state would exceed 75% of total VRAM or
// 75% of available RAM (spec §4.4 "Decision").
func (o *Orchestrator) WouldNeedOffload(diffusionModelSize int64) (bool, error) {
	snap, err := o.oracle.Snapshot()
	if err != nil {
		return false, err
	}

	var llmUse llmUsage
	if o.llm.IsRunning() {
		llmUse = o.estimator.llmFootprint(o.llm.GetConfig())
	}
	diffUse := o.estimator.diffusionFootprint(diffusionModelSize)

	vramDemand := llmUse.gpu + diffUse
	ramDemand := llmUse.cpu + diffUse

	vramExceeded := snap.GPU.VRAMTotal > 0 && float64(vramDemand) > vramDemandThreshold*float64(snap.GPU.VRAMTotal)
	ramExceeded := snap.Memory.Available > 0 && float64(ramDemand) > ramDemandThreshold*float64(snap.Memory.Available)

	return vramExceeded || ramExceeded, nil
}

// SavedState returns the current SavedLLMState, or nil if none is pending
// (no offload in progress, or the last reload succeeded).
func (o *Orchestrator) SavedState() *SavedLLMState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.saved == nil {
		return nil
	}
	cp := *o.saved
	return &cp
}

// ClearSavedState discards any retained SavedLLMState; idempotent (spec §8
// "Idempotence laws").
func (o *Orchestrator) ClearSavedState() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saved = nil
}

// awaitPendingReload blocks until any previously-scheduled reload task has
// completed. Spec §5: "An orchestration call waits for any prior pending
// reload before reading the LLM's running state."
func (o *Orchestrator) awaitPendingReload() {
	o.mu.Lock()
	grp := o.reloadGroup
	o.mu.Unlock()
	if grp != nil {
		grp.Wait()
	}
}

// scheduleReload starts the background reload task on a fresh single-slot
// handle, superseding any already-completed prior one. It does not block
// the caller (spec §4.4 step 4 / §9's "spawn a task awaited by the next
// call, not the current caller").
func (o *Orchestrator) scheduleReload(saved SavedLLMState) {
	grp := &errgroup.Group{}
	o.mu.Lock()
	o.reloadGroup = grp
	o.mu.Unlock()

	grp.Go(func() error {
		o.runReload(saved)
		return nil
	})
}

// runReload attempts llm.Start(saved.Config), retrying once after a 2s
// delay with the capability cache cleared (spec §4.4 step 5).
func (o *Orchestrator) runReload(saved SavedLLMState) {
	err := o.llm.Start(saved.Config)
	if err != nil {
		o.log.WithError(err).Warn("orchestrator: llm reload attempt 1 failed, retrying")
		o.sleep(reloadRetryDelay)
		o.oracle.ClearCache()
		err = o.llm.Start(saved.Config)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.saved = nil
		o.log.Info("orchestrator: llm reloaded after offload")
		return
	}
	o.saved = &saved
	o.log.WithError(err).Error("orchestrator: llm reload failed after retry; saved state retained for UI")
	if o.tracker != nil {
		o.tracker.ObserveReloadFailure()
	}
}

// Orchestrate runs the offload protocol around one diffusion job (spec
// §4.4 "Offload protocol"). execute is DSM's internal execution path,
// invoked either directly or after stopping the LLM server. The reload
// task (if scheduled) is not awaited by this call — only by the next
// Orchestrate call, via awaitPendingReload.
func Orchestrate[T any](ctx context.Context, o *Orchestrator, diffusionModelSize int64, execute func(context.Context) (T, error)) (T, error) {
	o.awaitPendingReload()

	wasRunning := o.llm.IsRunning()
	var cfg LLMConfig
	if wasRunning {
		cfg = o.llm.GetConfig()
	}

	needOffload := false
	if wasRunning {
		var err error
		needOffload, err = o.WouldNeedOffload(diffusionModelSize)
		if err != nil {
			o.log.WithError(err).Warn("orchestrator: capability snapshot failed, assuming offload needed")
			needOffload = true
		}
	}

	if !wasRunning || !needOffload {
		return execute(ctx)
	}

	saved := SavedLLMState{Config: cfg, WasRunning: true, SavedAt: time.Now()}
	o.mu.Lock()
	o.saved = &saved
	o.mu.Unlock()

	if o.tracker != nil {
		o.tracker.ObserveOffload()
	}

	if err := o.llm.Stop(); err != nil {
		o.log.WithError(err).Warn("orchestrator: llm stop failed before offloaded generation")
	}

	result, execErr := execute(ctx)

	o.scheduleReload(saved)

	return result, execErr
}
