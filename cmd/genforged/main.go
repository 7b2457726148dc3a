// Command genforged is the composition root for the GenForge inference
// daemon: it wires the capability oracle, binary manager, model manager,
// diffusion server manager and resource orchestrator together explicitly, in
// the style of the teacher's main.go (no package-level singletons, spec §9).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/genforge/genforge/pkg/binaries"
	"github.com/genforge/genforge/pkg/capability"
	"github.com/genforge/genforge/pkg/config"
	"github.com/genforge/genforge/pkg/diffusion"
	"github.com/genforge/genforge/pkg/download"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/metrics"
	"github.com/genforge/genforge/pkg/models"
	"github.com/genforge/genforge/pkg/orchestrator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logrusLogger := logrus.New()
	log := logging.NewLogrusAdapter(logrusLogger)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("resolve configuration: %v", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		log.Fatalf("create temp dir: %v", err)
	}

	oracle := capability.NewHostOracle(log)
	dl := download.New()

	binMgr := binaries.NewManager(log, oracle, dl, filepath.Join(cfg.BaseDir, "binaries"))
	modelMgr := models.NewManager(log, dl, filepath.Join(cfg.BaseDir, "models"))

	orch := orchestrator.New(log, orchestrator.NullLLMServer{}, oracle)

	var tracker *metrics.Tracker
	if !cfg.DisableMetrics {
		tracker = metrics.NewTracker()
		binMgr.SetTracker(tracker)
		modelMgr.SetTracker(tracker)
		orch.SetTracker(tracker)
	}

	diffSpec := diffusionBackendSpec()
	diffSrv := diffusion.NewServer(log, binMgr, modelMgr, oracle, orch, diffSpec, cfg.TempDir, tracker)

	if modelID := os.Getenv("GENFORGE_AUTOSTART_MODEL"); modelID != "" {
		startCfg := diffusion.Config{ModelID: modelID, Port: cfg.DiffusionPort}
		if err := diffSrv.Start(ctx, startCfg); err != nil {
			log.WithError(err).Error("genforged: failed to autostart diffusion server")
		}
	}

	var metricsSrv *http.Server
	if tracker != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(tracker.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("genforged: metrics listener failed")
			}
		}()
		log.WithField("port", cfg.MetricsPort).Info("genforged: metrics endpoint enabled")
	}

	<-ctx.Done()
	log.Info("genforged: shutdown signal received")

	if err := diffSrv.Stop(); err != nil {
		log.WithError(err).Warn("genforged: diffusion server stop error")
	}
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Info("genforged: stopped")
}

// diffusionBackendSpec declares the diffusion binary's variant priority
// list, sourced from the environment so release artifacts aren't baked into
// the daemon binary (spec §4.1). A variant with an empty ArchiveURL is
// skipped by the caller's deployment tooling, not by the binary manager.
func diffusionBackendSpec() binaries.BackendSpec {
	variant := func(tag string, requiresCUDA bool, urlEnv, shaEnv string) binaries.Variant {
		return binaries.Variant{
			Tag:          tag,
			RequiresCUDA: requiresCUDA,
			ArchiveURL:   os.Getenv(urlEnv),
			ArchiveSHA256: os.Getenv(shaEnv),
			BinaryNames:  []string{"sd"},
		}
	}

	return binaries.BackendSpec{
		Kind: binaries.BackendDiffusion,
		Variants: []binaries.Variant{
			variant("cuda", true, "GENFORGE_SD_CUDA_URL", "GENFORGE_SD_CUDA_SHA256"),
			variant("vulkan", false, "GENFORGE_SD_VULKAN_URL", "GENFORGE_SD_VULKAN_SHA256"),
			variant("cpu", false, "GENFORGE_SD_CPU_URL", "GENFORGE_SD_CPU_SHA256"),
		},
		Phase1Args:           []string{"--help"},
		Phase1Timeout:        5 * time.Second,
		Phase2Timeout:        30 * time.Second,
		GPUFailureSubstrings: []string{"cuda error", "out of memory", "cublas"},
	}
}

