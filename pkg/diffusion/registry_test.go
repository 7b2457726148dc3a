package diffusion

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/genforge/genforge/pkg/logging"
)

func newTestLogger() logging.Logger {
	return logging.NewLogrusAdapter(logrus.New())
}

func TestRegistryPutGetRoundTrips(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Minute, time.Minute)
	defer r.Close()

	now := time.Now()
	r.put(&GenerationState{ID: "a", CreatedAt: now, UpdatedAt: now, Status: GenerationPending})

	st, ok := r.get("a")
	require.True(t, ok)
	require.Equal(t, GenerationPending, st.Status)
}

func TestRegistryGetMissingReturnsFalse(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Minute, time.Minute)
	defer r.Close()
	_, ok := r.get("nope")
	require.False(t, ok)
}

func TestRegistryGetReturnsDeepCopy(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Minute, time.Minute)
	defer r.Close()

	now := time.Now()
	r.put(&GenerationState{ID: "a", CreatedAt: now, UpdatedAt: now, Progress: &Progress{CurrentStep: 1}})

	st, _ := r.get("a")
	st.Progress.CurrentStep = 99

	fresh, _ := r.get("a")
	require.Equal(t, 1, fresh.Progress.CurrentStep, "mutating a returned copy must not affect the stored entry")
}

func TestRegistryUpdateBumpsUpdatedAt(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Minute, time.Minute)
	defer r.Close()

	past := time.Now().Add(-time.Hour)
	r.put(&GenerationState{ID: "a", CreatedAt: past, UpdatedAt: past, Status: GenerationPending})

	r.update("a", func(st *GenerationState) { st.Status = GenerationComplete })

	st, _ := r.get("a")
	require.Equal(t, GenerationComplete, st.Status)
	require.True(t, st.UpdatedAt.After(past))
}

func TestRegistrySweepEvictsExpiredEntries(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Millisecond, time.Hour)
	defer r.Close()

	old := time.Now().Add(-time.Hour)
	r.put(&GenerationState{ID: "stale", CreatedAt: old, UpdatedAt: old})
	r.put(&GenerationState{ID: "fresh", CreatedAt: time.Now(), UpdatedAt: time.Now()})

	r.sweep()

	_, staleOK := r.get("stale")
	_, freshOK := r.get("fresh")
	require.False(t, staleOK)
	require.True(t, freshOK)
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := newRegistry(newTestLogger(), time.Minute, time.Minute)
	r.Close()
	r.Close()
}
