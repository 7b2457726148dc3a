package diffusion

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/genforge/genforge/pkg/corerr"
)

type healthResponse struct {
	Status string `json:"status"`
	Busy   bool   `json:"busy"`
}

// handleHealth serves GET /health per spec §4.3.2/§6.1: a literal "ok"
// status plus whether a generation is currently in flight.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	busy := s.current != nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Busy: busy})
}

type createGenerationResponse struct {
	ID        string           `json:"id"`
	Status    GenerationStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// handleCreateGeneration accepts POST /v1/images/generations (spec §6.1):
// validates the request, registers a pending job, and returns 201
// immediately — the actual generation runs in the background. A second
// concurrent request returns 503 SERVER_BUSY (spec §8 property 1).
func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.New(corerr.InvalidRequest, "malformed request body"))
		return
	}
	req = req.withDefaults()
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	if s.Status() != StatusRunning {
		writeError(w, corerr.New(corerr.ServerNotRunning, "diffusion server is not running"))
		return
	}

	id, _, err := s.startGeneration(req)
	if err != nil {
		if ce, ok := err.(*corerr.Error); ok && ce.Code == corerr.ServerBusy {
			err = ce.WithSuggestion("wait for the in-flight generation to finish and retry")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createGenerationResponse{ID: id, Status: GenerationPending, CreatedAt: time.Now()})
}

// handleGetGeneration serves GET /v1/images/generations/{id} (spec §6.1):
// the caller polls this to discover progress, then the terminal result.
func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	if reg == nil {
		writeError(w, corerr.New(corerr.ServerNotRunning, "diffusion server is not running"))
		return
	}

	st, ok := reg.get(id)
	if !ok {
		writeError(w, corerr.New(corerr.ModelNotFound, "generation job not found: "+id))
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error struct {
		Message    string `json:"message"`
		Code       string `json:"code"`
		Suggestion string `json:"suggestion,omitempty"`
	} `json:"error"`
}

// writeError projects a corerr.Error (or any error) into the HTTP error
// envelope and status code contract (spec §7).
func writeError(w http.ResponseWriter, err error) {
	code := corerr.CodeOf(err)
	var env errorEnvelope
	env.Error.Message = err.Error()
	env.Error.Code = string(code)
	if ce, ok := err.(*corerr.Error); ok {
		env.Error.Suggestion = ce.Suggestion
	}
	writeJSON(w, httpStatusForCode(code), env)
}

func httpStatusForCode(code corerr.Code) int {
	switch code {
	case corerr.ModelNotFound:
		return http.StatusNotFound
	case corerr.InvalidRequest:
		return http.StatusBadRequest
	case corerr.ServerBusy:
		return http.StatusServiceUnavailable
	case corerr.ServerNotRunning:
		return http.StatusServiceUnavailable
	case corerr.PortInUse:
		return http.StatusConflict
	case corerr.InsufficientResources:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
