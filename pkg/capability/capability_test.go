package capability

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/genforge/genforge/pkg/logging"
)

type fakeProber struct {
	cpu    CPU
	mem    Memory
	gpu    GPU
	gpuErr error
	calls  int
}

func (f *fakeProber) probeCPU() (CPU, error) { return f.cpu, nil }
func (f *fakeProber) probeMemory() (Memory, error) {
	return f.mem, nil
}
func (f *fakeProber) probeGPU() (GPU, error) {
	f.calls++
	return f.gpu, f.gpuErr
}

func newTestOracle(p prober) *HostOracle {
	return &HostOracle{log: logging.NewLogrusAdapter(logrus.New()), prober: p}
}

func TestSnapshotCachesUntilCleared(t *testing.T) {
	p := &fakeProber{cpu: CPU{Cores: 8}, mem: Memory{Total: 32 << 30}, gpu: GPU{Available: true, Type: GPUNVIDIA, VRAMTotal: 24 << 30}}
	o := newTestOracle(p)

	snap, err := o.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 8, snap.CPU.Cores)
	require.Equal(t, 1, p.calls)

	// Second read must hit the cache, not the prober.
	_, err = o.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 1, p.calls)

	o.ClearCache()
	_, err = o.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 2, p.calls)
}

func TestSnapshotToleratesGPUProbeFailure(t *testing.T) {
	p := &fakeProber{gpuErr: errors.New("no /dev/nvidia*")}
	o := newTestOracle(p)

	snap, err := o.Snapshot()
	require.NoError(t, err)
	require.Equal(t, GPUNone, snap.GPU.Type)
	require.False(t, snap.GPU.Available)
}
