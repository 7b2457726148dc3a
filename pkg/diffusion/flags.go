package diffusion

import (
	"github.com/genforge/genforge/pkg/capability"
)

const (
	// modelFootprintOverhead accounts for runtime overhead beyond raw model
	// weights (spec §4.3.3 "20% overhead constant").
	modelFootprintOverhead = 1.2

	gib = int64(1) << 30

	headroomClipThreshold  = 6 * gib
	headroomVAEThreshold   = 2 * gib
	offloadFootprintRatio  = 0.85
	vramAvailableThreshold = 2 * gib
)

// footprintBytes estimates a model's runtime VRAM footprint from its size
// on disk (spec §4.3.3).
func footprintBytes(modelSize int64) int64 {
	return int64(float64(modelSize) * modelFootprintOverhead)
}

// computeOptimizationFlags derives the optimization flag set fresh per job:
// defaults from VRAM headroom, then user overrides applied last (spec
// §4.3.3). variantIsCUDA distinguishes a CUDA build, where offload_to_cpu
// must be suppressed (sd.cpp CUDA builds crash with this flag).
// hasTextEncoderComponent reports whether the model carries an "llm" role
// component, which enables flash attention by default.
func computeOptimizationFlags(snap capability.Snapshot, modelSize int64, variantIsCUDA, hasTextEncoderComponent bool, ov Overrides) OptimizationFlags {
	footprint := footprintBytes(modelSize)

	var clipOnCPU, vaeOnCPU, offloadToCPU, flashAttn bool

	if !snap.GPU.Available || snap.GPU.VRAMTotal == 0 {
		clipOnCPU = true
		vaeOnCPU = false
	} else {
		vramTotal := int64(snap.GPU.VRAMTotal)
		headroom := vramTotal - footprint
		if headroom < headroomClipThreshold {
			clipOnCPU = true
		}
		if headroom < headroomVAEThreshold {
			vaeOnCPU = true
		}
		if float64(footprint) > offloadFootprintRatio*float64(vramTotal) && !variantIsCUDA {
			offloadToCPU = true
		}
		if snap.GPU.VRAMAvailable > 0 {
			vramAvailable := int64(snap.GPU.VRAMAvailable)
			if vramAvailable-footprint < vramAvailableThreshold {
				clipOnCPU = true
			}
		}
	}

	if hasTextEncoderComponent {
		flashAttn = true
	}

	return OptimizationFlags{
		ClipOnCPU:               ov.ClipOnCPU.apply(clipOnCPU),
		VAEOnCPU:                ov.VAEOnCPU.apply(vaeOnCPU),
		OffloadToCPU:            ov.OffloadToCPU.apply(offloadToCPU),
		DiffusionFlashAttention: ov.DiffusionFlashAttention.apply(flashAttn),
	}
}
