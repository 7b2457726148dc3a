package diffusion

import (
	"sync"
	"time"

	"github.com/genforge/genforge/pkg/logging"
)

const (
	defaultTTL           = 5 * time.Minute
	defaultSweepInterval = 1 * time.Minute
)

// registry is the process-wide, mutually-exclusive store of GenerationState
// (spec §5 "shared resource policy"). Entries are garbage-collected after
// TTL following their last update.
type registry struct {
	log           logging.Logger
	ttl           time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]*GenerationState

	stop chan struct{}
	once sync.Once
}

func newRegistry(log logging.Logger, ttl, sweepInterval time.Duration) *registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &registry{
		log:           log,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		entries:       make(map[string]*GenerationState),
		stop:          make(chan struct{}),
	}
}

// runGC runs the sweep loop until Close is called; intended to be launched
// as a goroutine for the lifetime of a running server.
func (r *registry) runGC() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.entries {
		if st.UpdatedAt.Before(cutoff) {
			delete(r.entries, id)
		}
	}
}

// Close stops the GC sweep goroutine; safe to call more than once.
func (r *registry) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *registry) put(st *GenerationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[st.ID] = st
}

func (r *registry) get(id string) (*GenerationState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	cp := *st
	if st.Progress != nil {
		p := *st.Progress
		cp.Progress = &p
	}
	if st.Result != nil {
		rcp := *st.Result
		cp.Result = &rcp
	}
	if st.Error != nil {
		ecp := *st.Error
		cp.Error = &ecp
	}
	return &cp, true
}

func (r *registry) update(id string, fn func(*GenerationState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entries[id]
	if !ok {
		return
	}
	fn(st)
	st.UpdatedAt = time.Now()
}
