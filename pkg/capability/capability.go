// Package capability implements the read-only host capability oracle: CPU,
// memory and GPU figures consumed by the diffusion server manager and the
// resource orchestrator when deciding offload and optimization flags.
//
// Consumers must never cache a Snapshot across a server start/stop
// transition — call ClearCache (or take a fresh Snapshot) immediately after
// any such transition. See Oracle.ClearCache.
package capability

import (
	"sync"

	"github.com/genforge/genforge/pkg/logging"
)

// GPUType enumerates the GPU vendors the oracle distinguishes.
type GPUType string

const (
	GPUNone   GPUType = "none"
	GPUNVIDIA GPUType = "nvidia"
	GPUAMD    GPUType = "amd"
	GPUMetal  GPUType = "metal"
	GPUOther  GPUType = "other"
)

// CPU describes the host's processor.
type CPU struct {
	Cores int
	Arch  string
}

// Memory describes host RAM in bytes.
type Memory struct {
	Total     uint64
	Available uint64
}

// GPU describes the detected accelerator, if any.
type GPU struct {
	Available     bool
	Type          GPUType
	VRAMTotal     uint64 // 0 if unknown
	VRAMAvailable uint64 // 0 if unknown
}

// Snapshot is the read-only view returned by Oracle.Snapshot. It must be
// treated as a point-in-time value: hold it only for the duration of one
// decision, never across a server start/stop boundary.
type Snapshot struct {
	CPU    CPU
	Memory Memory
	GPU    GPU
}

// Oracle is the capability oracle contract (spec §6.4): a read interface
// over host capability plus an explicit cache-invalidation hook that must be
// called on every LLM or diffusion server start/stop transition.
type Oracle interface {
	Snapshot() (Snapshot, error)
	ClearCache()
}

// prober is the seam that lets tests substitute host probing without
// touching the real machine.
type prober interface {
	probeCPU() (CPU, error)
	probeMemory() (Memory, error)
	probeGPU() (GPU, error)
}

// HostOracle is the concrete Oracle backed by github.com/elastic/go-sysinfo
// (CPU/RAM) and github.com/jaypipes/ghw (GPU inventory and VRAM).
type HostOracle struct {
	log    logging.Logger
	prober prober

	mu     sync.Mutex
	cached *Snapshot
}

// NewHostOracle constructs the production Oracle.
func NewHostOracle(log logging.Logger) *HostOracle {
	return &HostOracle{
		log:    log,
		prober: sysinfoProber{},
	}
}

// Snapshot returns the cached capability view, probing the host only if the
// cache was cleared since the last call.
func (o *HostOracle) Snapshot() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached != nil {
		return *o.cached, nil
	}

	cpu, err := o.prober.probeCPU()
	if err != nil {
		o.log.WithError(err).Warn("capability: cpu probe failed")
	}
	mem, err := o.prober.probeMemory()
	if err != nil {
		o.log.WithError(err).Warn("capability: memory probe failed")
	}
	gpu, err := o.prober.probeGPU()
	if err != nil {
		o.log.WithError(err).Debug("capability: gpu probe failed, assuming none")
		gpu = GPU{Type: GPUNone}
	}

	snap := Snapshot{CPU: cpu, Memory: mem, GPU: gpu}
	o.cached = &snap
	return snap, nil
}

// ClearCache invalidates the cached snapshot. Must be called on every LLM or
// diffusion server start/stop transition (spec §4.4's cache invariant).
func (o *HostOracle) ClearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cached = nil
}
