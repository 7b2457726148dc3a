package orchestrator

// FootprintEstimator separates "weights" from "runtime overhead" when
// projecting VRAM/RAM demand, named per component rather than a single
// inline fudge factor (spec §4.4, enriched per the supplemental grounding
// in SPEC_FULL.md on gguf-parser-go's stablediffusioncpp memory estimator).
type FootprintEstimator struct {
	// OverheadFactor multiplies raw model size to approximate runtime
	// footprint (KV cache, activations, framework overhead).
	OverheadFactor float64
	// DefaultTotalLayers is used when a model's actual layer count is
	// unknown (spec §9 Open Question: the source hard-codes 32).
	DefaultTotalLayers int
}

// DefaultFootprintEstimator matches the source's constants exactly, with
// names attached so the Open Question (§9) is resolved as "parameterized,
// defaulting to the original constant" rather than silently hard-coded.
var DefaultFootprintEstimator = FootprintEstimator{
	OverheadFactor:     1.2,
	DefaultTotalLayers: 32,
}

// llmUsage is the GPU/CPU split of one LLM server's memory demand (spec
// §4.4 "LLM usage splits across GPU and CPU by gpu_layers/total_layers").
type llmUsage struct {
	gpu int64
	cpu int64
}

func (e FootprintEstimator) llmFootprint(cfg LLMConfig) llmUsage {
	totalLayers := cfg.TotalLayers
	if totalLayers <= 0 {
		totalLayers = e.DefaultTotalLayers
	}
	gpuLayers := cfg.GPULayers
	if gpuLayers > totalLayers {
		gpuLayers = totalLayers
	}
	if gpuLayers < 0 {
		gpuLayers = 0
	}

	split := float64(gpuLayers) / float64(totalLayers)
	total := float64(cfg.SizeBytes) * e.OverheadFactor

	return llmUsage{
		gpu: int64(total * split),
		cpu: int64(total * (1 - split)),
	}
}

// diffusionFootprint estimates a diffusion model's VRAM demand (spec §4.4
// "Diffusion usage ~= size * 1.2").
func (e FootprintEstimator) diffusionFootprint(sizeBytes int64) int64 {
	return int64(float64(sizeBytes) * e.OverheadFactor)
}
