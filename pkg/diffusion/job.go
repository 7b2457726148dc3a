package diffusion

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/genforge/genforge/pkg/corerr"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/models"
)

// cancelHandle is the per-job cancellation token (spec §4.3.3): the child's
// PID plus a cancelled flag, consulted by the exit handler to distinguish a
// user-requested stop from a crash.
type cancelHandle struct {
	mu        sync.Mutex
	proc      *os.Process
	cancelled bool
}

func (c *cancelHandle) arm(proc *os.Process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proc = proc
}

// Cancel SIGTERMs the child with a 5s grace period to SIGKILL (spec §5
// "Cancellation").
func (c *cancelHandle) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		return
	}
	proc.Signal(terminateSignal)
	go func() {
		time.Sleep(5 * time.Second)
		proc.Kill()
	}()
}

func (c *cancelHandle) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// randomSeed generates a uniform 31-bit non-negative seed (spec §4.3.3
// "Seed normalization").
func randomSeed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31))
	if err != nil {
		return time.Now().UnixNano() & ((1 << 31) - 1)
	}
	return n.Int64()
}

// normalizeSeed returns seed unchanged unless it is omitted (0 is not a
// sentinel here; -1 is, per spec §6.1's default) or negative.
func normalizeSeed(seed int64) int64 {
	if seed < 0 {
		return randomSeed()
	}
	return seed
}

// subGenerationResult is the outcome of one spawned child process.
type subGenerationResult struct {
	imageData []byte
	seed      int64
	width     int
	height    int
}

// runner spawns and supervises the diffusion child process for one
// sub-generation (spec §4.3.3 "Process orchestration").
type runner struct {
	log     logging.Logger
	binPath string
	tempDir string
}

func newRunner(log logging.Logger, binPath, tempDir string) *runner {
	return &runner{log: log, binPath: binPath, tempDir: tempDir}
}

// run executes one sub-generation to completion, driving progress via
// tracker and recording stderr into tail. It blocks until the child exits.
func (r *runner) run(ctx context.Context, info *models.Info, req GenerationRequest, seed int64, threads int, flags OptimizationFlags, tracker *progressTracker, tail *stderrTail, cancel *cancelHandle) (*subGenerationResult, error) {
	outPath := outputFilePath(r.tempDir)
	defer os.Remove(outPath)

	args := buildArgs(info, req, seed, threads, flags, outPath)
	r.log.WithField("argv", sanitizeArgv(args)).Debug("diffusion: spawning generation process")

	cmd := exec.Command(r.binPath, args...)
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, corerr.Wrap(corerr.BackendError, err, "attach stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, corerr.Wrap(corerr.BackendError, err, "attach stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, corerr.Wrap(corerr.BackendError, err, "spawn diffusion process")
	}
	cancel.arm(cmd.Process)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			tracker.feedLine(scanner.Text())
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			tail.Append(scanner.Text())
		}
	}()

	waitErr := cmd.Wait()
	wg.Wait()
	tracker.Stop()

	if cancel.isCancelled() {
		return nil, corerr.New(corerr.BackendError, "cancelled")
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, corerr.New(corerr.BackendError, fmt.Sprintf(
			"diffusion process exited with code %d: %s (argv: %s)",
			exitCode, tail.String(), strings.Join(sanitizeArgv(args), " ")))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, corerr.Wrap(corerr.IOError, err, "read generation output file")
	}

	return &subGenerationResult{imageData: data, seed: seed, width: req.Width, height: req.Height}, nil
}

func outputFilePath(tempDir string) string {
	return fmt.Sprintf("%s/sd-output-%d.png", tempDir, time.Now().UnixMilli())
}

// sanitizeArgv redacts absolute filesystem paths from argv for diagnostic
// logging while keeping enough fidelity to debug a failure (spec §4.3.3).
func sanitizeArgv(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "/") && strings.Count(a, "/") > 2 {
			out[i] = "<path>/" + lastPathElement(a)
			continue
		}
		out[i] = a
	}
	return out
}

func lastPathElement(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
