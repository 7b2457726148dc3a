package diffusion

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/genforge/genforge/pkg/binaries"
	"github.com/genforge/genforge/pkg/corerr"
	"github.com/genforge/genforge/pkg/models"
	"github.com/genforge/genforge/pkg/orchestrator"
)

// megapixels returns the image area in megapixels, the unit the estimator's
// per-step constants are calibrated against (spec §4.3.4).
func megapixels(width, height int) float64 {
	return float64(width*height) / 1_000_000
}

// batchSeeds computes the per-image seed sequence for a batch request (spec
// §4.3.5): a user-supplied seed is incremented per image (seed 42, count 3
// ⇒ 42, 43, 44); an omitted seed (negative, per withDefaults) draws a fresh
// random value for every image instead.
func batchSeeds(seed int64, count int) []int64 {
	seeds := make([]int64, count)
	if seed >= 0 {
		for i := range seeds {
			seeds[i] = seed + int64(i)
		}
		return seeds
	}
	for i := range seeds {
		seeds[i] = randomSeed()
	}
	return seeds
}

// startGeneration registers a pending job and launches its execution in the
// background, returning immediately with the job id (spec §4.3.2 "the POST
// never blocks on the inference"). At most one generation may be in flight
// per server (spec §8 property 1); the cancellation slot is claimed here,
// synchronously and under the server lock, so two concurrent POSTs cannot
// both win it.
func (s *Server) startGeneration(req GenerationRequest) (string, *cancelHandle, error) {
	id, err := newJobID()
	if err != nil {
		return "", nil, corerr.Wrap(corerr.ServerError, err, "generate job id")
	}

	now := time.Now()
	cancel := &cancelHandle{}

	s.mu.Lock()
	reg := s.reg
	if reg == nil {
		s.mu.Unlock()
		return "", nil, corerr.New(corerr.ServerNotRunning, "diffusion server is not running")
	}
	if s.current != nil {
		s.mu.Unlock()
		return "", nil, corerr.New(corerr.ServerBusy, "a generation is already in progress")
	}
	s.current = cancel
	s.mu.Unlock()

	reg.put(&GenerationState{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    GenerationPending,
	})

	go s.runGeneration(id, req, cancel)
	return id, cancel, nil
}

// runGeneration executes every sub-generation of a batch request (spec
// §4.3.5). Only the first sub-generation is wrapped through
// orchestrator.Orchestrate — by the time it returns, the LLM (if any) has
// already been stopped and its reload is running in the background, so
// sub-generations 2..count run directly against the now-freed GPU.
func (s *Server) runGeneration(id string, rawReq GenerationRequest, cancel *cancelHandle) {
	req := rawReq.withDefaults()

	s.mu.Lock()
	reg := s.reg
	est := s.est
	binPath := s.binPath
	cfg := s.cfg
	info := s.info
	oracle := s.oracle
	orch := s.orch
	tempDir := s.tempDir
	s.mu.Unlock()

	reg.update(id, func(st *GenerationState) { st.Status = GenerationInProgress })

	variantIsCUDA := s.binMgr.CurrentVariantTag(binaries.BackendDiffusion) == "cuda"

	snap, _ := oracle.Snapshot()
	_, hasLLMComponent := info.Components[models.RoleLLM]
	ov := Overrides{ClipOnCPU: cfg.ClipOnCPU, VAEOnCPU: cfg.VAEOnCPU, OffloadToCPU: cfg.OffloadToCPU, DiffusionFlashAttention: cfg.DiffusionFlashAttention}
	flags := computeOptimizationFlags(snap, info.Size, variantIsCUDA, hasLLMComponent, ov)

	start := time.Now()
	images := make([]Image, 0, req.Count)

	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	seeds := batchSeeds(req.Seed, req.Count)

	var failure error

	for i := 0; i < req.Count; i++ {
		mp := megapixels(req.Width, req.Height)
		pt := newProgressTracker(est, req.Steps, mp, func(cur, tot int, stage Stage, pct float64) {
			reg.update(id, func(st *GenerationState) {
				st.Progress = &Progress{
					CurrentStep: cur, TotalSteps: tot, Stage: stage,
					Percentage:   (float64(i) + pct/100) / float64(req.Count) * 100,
					CurrentImage: i + 1, TotalImages: req.Count,
				}
			})
		})
		tail := newStderrTail()
		r := newRunner(s.log, binPath, tempDir)

		run := func(ctx context.Context) (*subGenerationResult, error) {
			return r.run(ctx, info, req, seeds[i], cfg.Threads, flags, pt, tail, cancel)
		}

		var sub *subGenerationResult
		var err error
		if i == 0 {
			sub, err = orchestrator.Orchestrate(context.Background(), orch, info.Size, run)
		} else {
			sub, err = run(context.Background())
		}

		pt.Stop()
		measurements := pt.measurements()
		est.calibrate(measurements, req.Steps, mp)

		if err != nil {
			failure = err
			break
		}
		images = append(images, Image{Data: sub.imageData, Seed: sub.seed, Width: sub.width, Height: sub.height})
	}

	elapsed := time.Since(start)

	if failure != nil {
		code := string(corerr.CodeOf(failure))
		reg.update(id, func(st *GenerationState) {
			st.Status = GenerationError
			st.Error = &JobError{Message: failure.Error(), Code: code}
			st.Progress = nil
		})
		if s.tracker != nil {
			s.tracker.ObserveGeneration("error", elapsed.Seconds())
		}
		return
	}

	reg.update(id, func(st *GenerationState) {
		st.Status = GenerationComplete
		st.Result = &Result{Images: images, Format: "png", TimeTaken: elapsed}
		st.Progress = nil
	})
	if s.tracker != nil {
		s.tracker.ObserveGeneration("complete", elapsed.Seconds())
	}
}

func newJobID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("gen_%s", hex.EncodeToString(b)), nil
}
