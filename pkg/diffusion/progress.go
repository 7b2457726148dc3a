package diffusion

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// estimator holds the three self-calibrating time constants described in
// spec §4.3.4, shared (and updated) across generations on one server.
type estimator struct {
	mu sync.Mutex

	modelLoadTime                    time.Duration
	diffusionTimePerStepPerMegapixel time.Duration
	vaeTimePerMegapixel               time.Duration
}

func newEstimator() *estimator {
	return &estimator{
		modelLoadTime:                    2000 * time.Millisecond,
		diffusionTimePerStepPerMegapixel: 1000 * time.Millisecond,
		vaeTimePerMegapixel:              8000 * time.Millisecond,
	}
}

func (e *estimator) snapshot() (load, diffusionPerStepPerMP, vaePerMP time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelLoadTime, e.diffusionTimePerStepPerMegapixel, e.vaeTimePerMegapixel
}

// calibrate replaces constants with actual measured values for stages that
// had both a start and end marker. If exactly two of three stages were
// measured, the third is inferred from the remaining wall-clock budget
// (spec §4.3.4 "On successful completion, calibrate").
func (e *estimator) calibrate(m stageMeasurements, steps int, megapixels float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	measured := 0
	if m.loadDuration > 0 {
		measured++
	}
	if m.diffusionDuration > 0 {
		measured++
	}
	if m.vaeDuration > 0 {
		measured++
	}

	if m.loadDuration > 0 {
		e.modelLoadTime = m.loadDuration
	}
	if m.diffusionDuration > 0 && steps > 0 && megapixels > 0 {
		e.diffusionTimePerStepPerMegapixel = time.Duration(float64(m.diffusionDuration) / float64(steps) / megapixels)
	}
	if m.vaeDuration > 0 && megapixels > 0 {
		e.vaeTimePerMegapixel = time.Duration(float64(m.vaeDuration) / megapixels)
	}

	if measured == 2 && m.totalWallClock > 0 {
		switch {
		case m.loadDuration == 0:
			remaining := m.totalWallClock - m.diffusionDuration - m.vaeDuration
			if remaining > 0 {
				e.modelLoadTime = remaining
			}
		case m.diffusionDuration == 0 && steps > 0 && megapixels > 0:
			remaining := m.totalWallClock - m.loadDuration - m.vaeDuration
			if remaining > 0 {
				e.diffusionTimePerStepPerMegapixel = time.Duration(float64(remaining) / float64(steps) / megapixels)
			}
		case m.vaeDuration == 0 && megapixels > 0:
			remaining := m.totalWallClock - m.loadDuration - m.diffusionDuration
			if remaining > 0 {
				e.vaeTimePerMegapixel = time.Duration(float64(remaining) / megapixels)
			}
		}
	}
}

// stageMeasurements records actual elapsed time per stage for one
// generation, used to recalibrate the estimator on completion.
type stageMeasurements struct {
	loadDuration      time.Duration
	diffusionDuration time.Duration
	vaeDuration       time.Duration
	totalWallClock    time.Duration
}

// detectionRule is one substring-to-transition mapping. The table is data,
// not hard-coded control flow, per spec §9's note on stage-detection
// fragility: swap the table to adapt to a different inference engine's
// stdout shape without touching the state machine.
type detectionRule struct {
	substring  string
	transition func(*progressTracker, string)
}

var progressBarPattern = regexp.MustCompile(`\|\s*(\d+)/(\d+)\s*-`)

var defaultDetectionTable = []detectionRule{
	{"loading tensors from", (*progressTracker).enterLoading},
	{"generating image:", (*progressTracker).enterDiffusion},
	{"sampling using", (*progressTracker).enterDiffusion},
	{"decoding 1 latents", (*progressTracker).enterDecoding},
	{"decode_first_stage completed", (*progressTracker).finishDecoding},
}

// OnProgressFunc is the per-job progress callback contract (spec §4.3.4).
type OnProgressFunc func(currentStep, totalSteps int, stage Stage, percentage float64)

// progressTracker drives the three-stage state machine for one
// sub-generation, parsing stdout lines and emitting percentage estimates
// via onProgress.
type progressTracker struct {
	mu sync.Mutex

	est        *estimator
	steps      int
	megapixels float64
	onProgress OnProgressFunc
	table      []detectionRule

	stage          Stage
	currentStep    int
	totalSteps     int
	started        time.Time
	loadStart      time.Time
	diffusionStart time.Time
	decodingStart  time.Time
	loadEnd        time.Time
	diffusionEnd   time.Time
	decodingEnd    time.Time

	totalEstimated time.Duration

	vaeStopCh chan struct{}
	vaeWG     sync.WaitGroup
}

func newProgressTracker(est *estimator, steps int, megapixels float64, onProgress OnProgressFunc) *progressTracker {
	if onProgress == nil {
		onProgress = func(int, int, Stage, float64) {}
	}
	load, diffPerStepPerMP, vaePerMP := est.snapshot()
	total := load + time.Duration(float64(steps)*megapixels*float64(diffPerStepPerMP)) + time.Duration(megapixels*float64(vaePerMP))

	return &progressTracker{
		est:            est,
		steps:          steps,
		megapixels:     megapixels,
		onProgress:     onProgress,
		table:          defaultDetectionTable,
		started:        clockNow(),
		totalEstimated: total,
	}
}

// feedLine processes one line of child stdout, applying the first matching
// detection rule and then re-emitting the current percentage (spec §4.3.4).
func (p *progressTracker) feedLine(line string) {
	lower := strings.ToLower(line)
	p.mu.Lock()
	for _, rule := range p.table {
		if strings.Contains(lower, rule.substring) {
			rule.transition(p, line)
			break
		}
	}
	if m := progressBarPattern.FindStringSubmatch(line); m != nil {
		cur, _ := strconv.Atoi(m[1])
		tot, _ := strconv.Atoi(m[2])
		p.currentStep, p.totalSteps = cur, tot
	}
	p.mu.Unlock()
	p.emit()
}

func (p *progressTracker) enterLoading(string) {
	if p.loadStart.IsZero() {
		p.loadStart = clockNow()
		p.stage = StageLoading
	}
}

func (p *progressTracker) enterDiffusion(string) {
	if p.stage == StageDiffusion {
		return
	}
	now := clockNow()
	if !p.loadStart.IsZero() && p.loadEnd.IsZero() {
		p.loadEnd = now
	}
	p.diffusionStart = now
	p.stage = StageDiffusion
	p.recalculateLocked()
}

func (p *progressTracker) enterDecoding(string) {
	if p.stage == StageDecoding {
		return
	}
	now := clockNow()
	if !p.diffusionStart.IsZero() && p.diffusionEnd.IsZero() {
		p.diffusionEnd = now
	}
	p.decodingStart = now
	p.stage = StageDecoding
	p.currentStep, p.totalSteps = 0, 0
	p.recalculateLocked()
	p.startVAETimerLocked()
}

func (p *progressTracker) finishDecoding(string) {
	if !p.decodingStart.IsZero() && p.decodingEnd.IsZero() {
		p.decodingEnd = clockNow()
	}
	p.stopVAETimerLocked()
}

// recalculateLocked recomputes totalEstimatedTime using actual elapsed
// times for completed stages and current estimates for remaining ones, so
// the overall percentage never clamps to 100% on an underestimate (spec
// §4.3.4). Caller holds p.mu.
func (p *progressTracker) recalculateLocked() {
	load, diffPerStepPerMP, vaePerMP := p.est.snapshot()

	var loadPart, diffPart, vaePart time.Duration
	if !p.loadEnd.IsZero() {
		loadPart = p.loadEnd.Sub(p.loadStart)
	} else {
		loadPart = load
	}
	if !p.diffusionEnd.IsZero() {
		diffPart = p.diffusionEnd.Sub(p.diffusionStart)
	} else {
		diffPart = time.Duration(float64(p.steps) * p.megapixels * float64(diffPerStepPerMP))
	}
	if !p.decodingEnd.IsZero() {
		vaePart = p.decodingEnd.Sub(p.decodingStart)
	} else {
		vaePart = time.Duration(p.megapixels * float64(vaePerMP))
	}
	p.totalEstimated = loadPart + diffPart + vaePart
}

// startVAETimerLocked starts the unref'ed 100ms synthetic-progress timer
// for the decoding stage (spec §4.3.4's "VAE synthetic progress").
func (p *progressTracker) startVAETimerLocked() {
	p.vaeStopCh = make(chan struct{})
	stop := p.vaeStopCh
	p.vaeWG.Add(1)
	go func() {
		defer p.vaeWG.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.emit()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressTracker) stopVAETimerLocked() {
	if p.vaeStopCh != nil {
		close(p.vaeStopCh)
		p.vaeStopCh = nil
	}
}

// Stop halts the VAE synthetic timer if still running; call on job exit
// regardless of outcome.
func (p *progressTracker) Stop() {
	p.mu.Lock()
	p.stopVAETimerLocked()
	p.mu.Unlock()
	p.vaeWG.Wait()
}

func (p *progressTracker) emit() {
	p.mu.Lock()
	stage := p.stage
	cur, tot := p.currentStep, p.totalSteps
	elapsed := clockNow().Sub(p.started)
	total := p.totalEstimated
	p.mu.Unlock()

	pct := 0.0
	if total > 0 {
		pct = float64(elapsed) / float64(total) * 100
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if stage == StageDecoding {
		cur, tot = 0, 0
	}
	p.onProgress(cur, tot, stage, pct)
}

// measurements returns the actual per-stage durations observed, for
// calibration on completion. Durations are zero for stages with no
// start+end pair.
func (p *progressTracker) measurements() stageMeasurements {
	p.mu.Lock()
	defer p.mu.Unlock()
	var m stageMeasurements
	if !p.loadStart.IsZero() && !p.loadEnd.IsZero() {
		m.loadDuration = p.loadEnd.Sub(p.loadStart)
	}
	if !p.diffusionStart.IsZero() && !p.diffusionEnd.IsZero() {
		m.diffusionDuration = p.diffusionEnd.Sub(p.diffusionStart)
	}
	if !p.decodingStart.IsZero() && !p.decodingEnd.IsZero() {
		m.vaeDuration = p.decodingEnd.Sub(p.decodingStart)
	}
	m.totalWallClock = clockNow().Sub(p.started)
	return m
}

// clockNow is indirected so tests can control elapsed-time calculations.
var clockNow = time.Now
