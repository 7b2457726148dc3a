package binaries

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/genforge/genforge/pkg/capability"
	"github.com/genforge/genforge/pkg/checksum"
	"github.com/genforge/genforge/pkg/corerr"
	"github.com/genforge/genforge/pkg/download"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/metrics"
	archivepkg "github.com/genforge/genforge/pkg/archive"
)

// Manager resolves a working executable for a backend+platform, downloading
// and validating variant bundles as needed, and caches the result (spec
// §4.1).
type Manager struct {
	log        logging.Logger
	oracle     capability.Oracle
	downloader *download.Downloader
	baseDir    string // root directory; each backend kind gets its own subdirectory
	tracker    *metrics.Tracker
}

// NewManager constructs a Binary Manager rooted at baseDir.
func NewManager(log logging.Logger, oracle capability.Oracle, dl *download.Downloader, baseDir string) *Manager {
	return &Manager{log: log.WithField("component", "binary-manager"), oracle: oracle, downloader: dl, baseDir: baseDir}
}

// SetTracker attaches a metrics.Tracker so validation attempts are recorded.
// Optional: a nil tracker (the default) disables recording.
func (m *Manager) SetTracker(t *metrics.Tracker) {
	m.tracker = t
}

func (m *Manager) observeValidation(kind BackendKind, tag, outcome string) {
	if m.tracker != nil {
		m.tracker.ObserveBinaryValidation(string(kind), tag, outcome)
	}
}

func (m *Manager) backendDir(kind BackendKind) string {
	return filepath.Join(m.baseDir, string(kind))
}

// CurrentVariantTag reports the variant tag last installed for kind (e.g.
// "cuda", "vulkan", "cpu"), or "" if none has been resolved yet. Consumers
// use this to adapt behavior to the installed variant (spec §4.3.3's
// CUDA-specific offload_to_cpu suppression).
func (m *Manager) CurrentVariantTag(kind BackendKind) string {
	vc, err := loadVariantCache(m.backendDir(kind), kind)
	if err != nil || vc == nil {
		return ""
	}
	return vc.Variant
}

// Resolve produces a path to a validated executable for spec, using
// testModelPath (if non-empty) to drive phase-2 validation.
func (m *Manager) Resolve(ctx context.Context, spec BackendSpec, platformKey, testModelPath string) (string, error) {
	dir := m.backendDir(spec.Kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", corerr.Wrap(corerr.FileSystemError, err, "create binary directory")
	}

	variants, err := m.filterByCapability(spec.Variants)
	if err != nil {
		return "", err
	}
	variants = m.reorderByHint(dir, spec.Kind, variants)

	canonical := filepath.Join(dir, "current")
	binPath := filepath.Join(canonical, primaryBinaryPath(spec, variants))

	// Cache-hit path: if a binary already sits at the canonical location,
	// trust the validation cache as long as its SHA256 still matches.
	if info, statErr := os.Stat(binPath); statErr == nil && !info.IsDir() {
		if cached, cacheErr := m.tryCacheHit(ctx, dir, spec, binPath); cacheErr == nil && cached {
			m.log.WithField("path", binPath).Debug("binary manager: cache hit")
			return binPath, nil
		}
	}

	var errs []string
	for _, v := range variants {
		path, err := m.attemptVariant(ctx, dir, canonical, spec, v, testModelPath)
		if err == nil {
			return path, nil
		}
		m.log.WithField("variant", v.Tag).WithError(err).Warn("binary manager: variant attempt failed")
		errs = append(errs, fmt.Sprintf("%s: %v", v.Tag, err))
	}

	return "", corerr.New(corerr.BinaryError, fmt.Sprintf("all variants failed for %s: %s", spec.Kind, strings.Join(errs, "; ")))
}

// filterByCapability drops CUDA-only variants when the host has no CUDA
// GPU, saving the runtime download on non-NVIDIA hosts (spec §4.1 step 1).
func (m *Manager) filterByCapability(variants []Variant) ([]Variant, error) {
	snap, err := m.oracle.Snapshot()
	if err != nil {
		m.log.WithError(err).Warn("binary manager: capability probe failed, assuming no GPU")
	}

	hasCUDA := snap.GPU.Available && snap.GPU.Type == capability.GPUNVIDIA

	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.RequiresCUDA && !hasCUDA {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, corerr.New(corerr.BinaryError, "no compatible variant after GPU-capability filtering")
	}
	return out, nil
}

// reorderByHint moves the previously-installed variant to the front, per
// the VariantCache hint (spec §4.1 step 3).
func (m *Manager) reorderByHint(dir string, kind BackendKind, variants []Variant) []Variant {
	vc, err := loadVariantCache(dir, kind)
	if err != nil || vc == nil || vc.Variant == "" {
		return variants
	}

	out := make([]Variant, len(variants))
	copy(out, variants)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tag == vc.Variant && out[j].Tag != vc.Variant
	})
	return out
}

func (m *Manager) tryCacheHit(ctx context.Context, dir string, spec BackendSpec, binPath string) (bool, error) {
	vcache, err := loadValidationCache(dir, spec.Kind)
	if err != nil {
		return false, err
	}
	sum, err := checksum.SHA256File(ctx, binPath)
	if err != nil {
		return false, err
	}
	if sum != vcache.BinarySHA256 {
		return false, errors.New("binary sha256 no longer matches validation cache")
	}
	return vcache.Phase1Passed, nil
}

func primaryBinaryPath(spec BackendSpec, variants []Variant) string {
	if len(variants) > 0 && len(variants[0].BinaryNames) > 0 {
		return variants[0].BinaryNames[0]
	}
	return string(spec.Kind)
}

// attemptVariant downloads, extracts and validates a single variant,
// returning the path of the validated binary on success.
func (m *Manager) attemptVariant(ctx context.Context, dir, canonical string, spec BackendSpec, v Variant, testModelPath string) (string, error) {
	work, err := os.MkdirTemp(dir, "variant-"+v.Tag+"-")
	if err != nil {
		return "", corerr.Wrap(corerr.FileSystemError, err, "create variant workdir")
	}
	defer os.RemoveAll(work)

	archivePath := filepath.Join(work, "archive.download")
	if err := m.downloader.File(ctx, v.ArchiveURL, archivePath, download.NoopProgress); err != nil {
		return "", corerr.Wrap(corerr.DownloadFailed, err, "download archive")
	}
	if ok, _, err := checksum.Verify(ctx, archivePath, v.ArchiveSHA256); err != nil {
		return "", corerr.Wrap(corerr.ChecksumError, err, "verify archive checksum")
	} else if !ok {
		return "", corerr.New(corerr.ChecksumError, "archive checksum mismatch for variant "+v.Tag)
	}

	extractDir := filepath.Join(work, "extracted")

	// Dependencies MUST land before the main archive is tested so vendor
	// DLLs are co-located with the binary (spec §4.1 step 3).
	for _, dep := range v.Dependencies {
		depPath := filepath.Join(work, dep.Filename)
		if err := m.downloader.File(ctx, dep.URL, depPath, download.NoopProgress); err != nil {
			return "", corerr.Wrap(corerr.DownloadFailed, err, "download dependency "+dep.Filename)
		}
		if ok, _, err := checksum.Verify(ctx, depPath, dep.SHA256); err != nil || !ok {
			if err == nil {
				err = errors.New("checksum mismatch")
			}
			return "", corerr.Wrap(corerr.ChecksumError, err, "verify dependency "+dep.Filename)
		}
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return "", corerr.Wrap(corerr.FileSystemError, err, "create extraction dir")
		}
		if err := copyFile(depPath, filepath.Join(extractDir, dep.Filename)); err != nil {
			return "", corerr.Wrap(corerr.FileSystemError, err, "place dependency "+dep.Filename)
		}
	}

	if err := archivepkg.Extract(archivePath, extractDir); err != nil {
		return "", corerr.Wrap(corerr.FileSystemError, err, "extract archive")
	}

	binPath, err := archivepkg.FindBinary(extractDir, v.BinaryNames)
	if err != nil {
		return "", corerr.Wrap(corerr.BinaryError, err, "locate binary in archive")
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(binPath, 0o755); err != nil {
			return "", corerr.Wrap(corerr.FileSystemError, err, "mark binary executable")
		}
	}

	if err := m.validate(ctx, dir, spec, v, binPath, testModelPath); err != nil {
		m.observeValidation(spec.Kind, v.Tag, "failure")
		return "", err
	}
	m.observeValidation(spec.Kind, v.Tag, "success")

	if err := os.RemoveAll(canonical); err != nil {
		return "", corerr.Wrap(corerr.FileSystemError, err, "clear canonical directory")
	}
	if err := os.Rename(extractDir, canonical); err != nil {
		return "", corerr.Wrap(corerr.FileSystemError, err, "promote variant to canonical")
	}

	relBin, err := filepath.Rel(extractDir, binPath)
	if err != nil {
		relBin = filepath.Base(binPath)
	}
	finalBin := filepath.Join(canonical, relBin)

	if err := saveVariantCache(dir, spec.Kind, VariantCache{Variant: v.Tag}); err != nil {
		m.log.WithError(err).Warn("binary manager: failed to persist variant cache")
	}

	size, _ := fileSize(finalBin)
	m.log.WithField("variant", v.Tag).WithField("size", units.HumanSize(float64(size))).Info("binary manager: variant installed")

	return finalBin, nil
}

func (m *Manager) validate(ctx context.Context, dir string, spec BackendSpec, v Variant, binPath, testModelPath string) error {
	ok1, res1 := phase1(ctx, binPath, spec.Phase1Args, spec.Phase1Timeout)
	if !ok1 {
		return corerr.New(corerr.BinaryError, fmt.Sprintf("phase-1 validation failed for variant %s (exit=%d timedOut=%v): %s", v.Tag, res1.exitCode, res1.timedOut, lastLines(res1.combined, 20)))
	}

	vc := ValidationCache{VariantTag: v.Tag, ValidatedAt: nowFunc(), Phase1Passed: true}
	if sum, err := checksum.SHA256File(ctx, binPath); err == nil {
		vc.BinarySHA256 = sum
	}

	if testModelPath == "" {
		vc.Phase2Skipped = true
	} else {
		testBin := binPath
		if v.TestBinaryName != "" {
			testBin = filepath.Join(filepath.Dir(binPath), v.TestBinaryName)
		}
		args := phase2Args(spec.Kind, testBin, testModelPath)
		ok2, res2, marker := phase2(ctx, testBin, args, spec.Phase2Timeout, spec.GPUFailureSubstrings)
		if !ok2 {
			return corerr.New(corerr.BinaryError, fmt.Sprintf("phase-2 validation failed for variant %s (exit=%d timedOut=%v marker=%q): %s", v.Tag, res2.exitCode, res2.timedOut, marker, lastLines(res2.combined, 20)))
		}
		vc.Phase2Passed = true
	}

	return saveValidationCache(dir, spec.Kind, vc)
}

func phase2Args(kind BackendKind, testBin, modelPath string) []string {
	if kind == BackendLLM {
		return []string{"-m", modelPath, "-ngl", "1", "-p", "What is 2+2?"}
	}
	return []string{"-m", modelPath, "-W", "64", "-H", "64", "--steps", "1", "-o", testBin + ".phase2.png"}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
