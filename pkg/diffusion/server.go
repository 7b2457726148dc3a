package diffusion

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/genforge/genforge/pkg/binaries"
	"github.com/genforge/genforge/pkg/capability"
	"github.com/genforge/genforge/pkg/corerr"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/metrics"
	"github.com/genforge/genforge/pkg/middleware"
	"github.com/genforge/genforge/pkg/models"
	"github.com/genforge/genforge/pkg/orchestrator"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server owns the diffusion backend's full lifecycle: the state machine
// (spec §4.3.1), the HTTP front (§4.3.2), and the per-job pipeline (§4.3.3).
// Only one Server exists per running diffusion backend; BM and MMM are
// injected explicitly, not looked up via singletons (spec §9).
type Server struct {
	log      logging.Logger
	binMgr   *binaries.Manager
	modelMgr *models.Manager
	oracle   capability.Oracle
	orch     *orchestrator.Orchestrator
	spec     binaries.BackendSpec
	tempDir  string
	tracker  *metrics.Tracker

	mu       sync.Mutex
	status   Status
	cfg      Config
	binPath  string
	info     *models.Info
	listener net.Listener
	httpSrv  *http.Server
	reg      *registry
	est      *estimator
	current  *cancelHandle // non-nil iff a generation is in flight
}

// NewServer constructs a Diffusion Server Manager. spec declares the
// binary variants and validation parameters for the diffusion backend
// (binaries.BackendDiffusion); tempDir is where per-job output files land
// (spec §6.3).
func NewServer(log logging.Logger, binMgr *binaries.Manager, modelMgr *models.Manager, oracle capability.Oracle, orch *orchestrator.Orchestrator, spec binaries.BackendSpec, tempDir string, tracker *metrics.Tracker) *Server {
	return &Server{
		log:      log.WithField("component", "diffusion-server"),
		binMgr:   binMgr,
		modelMgr: modelMgr,
		oracle:   oracle,
		orch:     orch,
		spec:     spec,
		tempDir:  tempDir,
		tracker:  tracker,
		status:   StatusStopped,
		est:      newEstimator(),
	}
}

// Status reports the current lifecycle state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start transitions stopped->starting->running (spec §4.3.1). It resolves
// the binary via BM and the model via MMM, checks the model fits in total
// memory, binds the HTTP listener, and only then flips to running.
func (s *Server) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.mu.Unlock()
		return corerr.New(corerr.ServerError, "diffusion server already running")
	}
	s.status = StatusStarting
	s.mu.Unlock()

	if err := s.doStart(ctx, cfg); err != nil {
		s.mu.Lock()
		s.status = StatusStopped
		s.mu.Unlock()
		s.oracle.ClearCache()
		return err
	}

	s.mu.Lock()
	s.status = StatusRunning
	s.mu.Unlock()
	s.oracle.ClearCache()
	return nil
}

func (s *Server) doStart(ctx context.Context, cfg Config) error {
	info, err := s.modelMgr.Get(cfg.ModelID)
	if err != nil {
		return corerr.Wrap(corerr.ModelNotFound, err, "resolve model "+cfg.ModelID)
	}
	if info.Kind != models.KindDiffusion {
		return corerr.New(corerr.InvalidRequest, "model "+cfg.ModelID+" is not a diffusion model")
	}

	if snap, err := s.oracle.Snapshot(); err == nil && snap.Memory.Total > 0 {
		if footprintBytes(info.Size) > int64(snap.Memory.Total) {
			return corerr.New(corerr.InsufficientResources, "model does not fit in total system memory")
		}
	}

	binPath, err := s.binMgr.Resolve(ctx, s.spec, platformKey(), info.Path)
	if err != nil {
		return corerr.Wrap(corerr.BinaryError, err, "resolve diffusion binary")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return corerr.Wrap(corerr.PortInUse, err, fmt.Sprintf("bind port %d", cfg.Port))
	}

	reg := newRegistry(s.log, defaultTTL, defaultSweepInterval)
	go reg.runGC()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/images/generations", s.handleCreateGeneration)
	mux.HandleFunc("GET /v1/images/generations/{id}", s.handleGetGeneration)

	handler := middleware.CORS(otelhttp.NewHandler(mux, "diffusion-server"))
	httpSrv := &http.Server{Handler: handler}

	s.mu.Lock()
	s.cfg = cfg
	s.binPath = binPath
	s.info = info
	s.listener = listener
	s.httpSrv = httpSrv
	s.reg = reg
	s.mu.Unlock()

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("diffusion server: listener failed")
			s.mu.Lock()
			if s.status == StatusRunning || s.status == StatusStarting {
				s.status = StatusCrashed
			}
			s.mu.Unlock()
			s.oracle.ClearCache()
		}
	}()

	return nil
}

// Stop transitions running->stopping->stopped (spec §4.3.1), cancelling
// any in-flight generation and draining the registry's GC loop. A no-op
// from stopped (spec §8 "Idempotence laws").
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusStopping
	cur := s.current
	listener := s.listener
	httpSrv := s.httpSrv
	reg := s.reg
	s.mu.Unlock()

	if cur != nil {
		cur.Cancel()
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}
	if listener != nil {
		listener.Close()
	}
	if reg != nil {
		reg.Close()
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.listener = nil
	s.httpSrv = nil
	s.current = nil
	s.mu.Unlock()
	s.oracle.ClearCache()
	return nil
}

func platformKey() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}
