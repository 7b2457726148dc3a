// Package diffusion implements the Diffusion Server Manager (spec §4.3): a
// one-shot-executable wrapper exposing an asynchronous HTTP generation API,
// a multi-stage progress model with self-calibrating time estimates, and
// VRAM-aware optimization flags computed fresh per job.
package diffusion

import "time"

// Status is the lifecycle state of the diffusion server (spec §4.3.1).
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

// GenerationStatus is the lifecycle state of one generation job (spec §3).
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationComplete   GenerationStatus = "complete"
	GenerationError      GenerationStatus = "error"
)

// Stage is a phase of a single sub-generation's execution (spec §4.3.4).
type Stage string

const (
	StageLoading   Stage = "loading"
	StageDiffusion Stage = "diffusion"
	StageDecoding  Stage = "decoding"
)

// Sampler enumerates the accepted sampler names (spec §6.1).
type Sampler string

const (
	SamplerEuler     Sampler = "euler"
	SamplerEulerA    Sampler = "euler_a"
	SamplerHeun      Sampler = "heun"
	SamplerDPM2      Sampler = "dpm2"
	SamplerDPMPP2SA  Sampler = "dpm++2s_a"
	SamplerDPMPP2M   Sampler = "dpm++2m"
	SamplerDPMPP2Mv2 Sampler = "dpm++2mv2"
	SamplerLCM       Sampler = "lcm"
)

var validSamplers = map[Sampler]bool{
	SamplerEuler: true, SamplerEulerA: true, SamplerHeun: true, SamplerDPM2: true,
	SamplerDPMPP2SA: true, SamplerDPMPP2M: true, SamplerDPMPP2Mv2: true, SamplerLCM: true,
}

// GenerationRequest is the decoded POST /v1/images/generations body (spec §6.1).
type GenerationRequest struct {
	Prompt          string  `json:"prompt"`
	NegativePrompt  string  `json:"negativePrompt,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Steps           int     `json:"steps,omitempty"`
	CFGScale        float64 `json:"cfgScale,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
	Sampler         Sampler `json:"sampler,omitempty"`
	Count           int     `json:"count,omitempty"`
}

// withDefaults returns a copy of req with spec §6.1's defaults applied.
func (req GenerationRequest) withDefaults() GenerationRequest {
	if req.Width == 0 {
		req.Width = 512
	}
	if req.Height == 0 {
		req.Height = 512
	}
	if req.Steps == 0 {
		req.Steps = 20
	}
	if req.CFGScale == 0 {
		req.CFGScale = 7.5
	}
	if req.Seed == 0 {
		req.Seed = -1
	}
	if req.Sampler == "" {
		req.Sampler = SamplerEulerA
	}
	if req.Count == 0 {
		req.Count = 1
	}
	return req
}

func (req GenerationRequest) validate() error {
	if req.Prompt == "" {
		return errInvalidRequest("prompt is required")
	}
	if req.Count < 1 || req.Count > 5 {
		return errInvalidRequest("count must be between 1 and 5")
	}
	if !validSamplers[req.Sampler] {
		return errInvalidRequest("unknown sampler " + string(req.Sampler))
	}
	return nil
}

// Progress is the in-flight progress projection (spec §3).
type Progress struct {
	CurrentStep  int    `json:"currentStep"`
	TotalSteps   int    `json:"totalSteps"`
	Stage        Stage  `json:"stage"`
	Percentage   float64 `json:"percentage"`
	CurrentImage int    `json:"currentImage,omitempty"`
	TotalImages  int    `json:"totalImages,omitempty"`
}

// Image is one generated result image (spec §3, §6.1). Data marshals as a
// base64 string under the "image" key (encoding/json's default []byte
// behavior), matching the wire contract's {image: base64-png, seed, width,
// height}.
type Image struct {
	Data   []byte `json:"image"`
	Seed   int64  `json:"seed"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Result is the terminal success payload (spec §3).
type Result struct {
	Images     []Image `json:"images"`
	Format     string  `json:"format"`
	TimeTaken  time.Duration `json:"timeTaken"`
}

// JobError is the terminal failure payload (spec §3, §7).
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// GenerationState is one in-flight or recently-finished generation (spec §3).
type GenerationState struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Status    GenerationStatus `json:"status"`
	Progress  *Progress        `json:"progress,omitempty"`
	Result    *Result          `json:"result,omitempty"`
	Error     *JobError        `json:"error,omitempty"`
}

// OptimizationFlags is the VRAM-aware flag set computed fresh per job (spec
// §4.3.3 "VRAM flag computation").
type OptimizationFlags struct {
	ClipOnCPU              bool
	VAEOnCPU               bool
	OffloadToCPU           bool
	DiffusionFlashAttention bool
}

// TriState models a user override that can be unset, forced-true or
// forced-false; nullish-coalescing winner over computed defaults (spec
// §4.3.3 "User overrides always win").
type TriState int

const (
	Unset TriState = iota
	True
	False
)

// Overrides holds the user-supplied tri-state config overrides for
// optimization flags (spec §6.2's clipOnCpu/vaeOnCpu/offloadToCpu/
// diffusionFlashAttention config fields).
type Overrides struct {
	ClipOnCPU               TriState
	VAEOnCPU                TriState
	OffloadToCPU            TriState
	DiffusionFlashAttention TriState
}

func (t TriState) apply(computed bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return computed
	}
}
