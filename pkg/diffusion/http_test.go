package diffusion

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleHealthReportsOkAndNotBusyWhenIdle(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.False(t, resp.Busy)
}

func TestHandleHealthReportsBusyDuringGeneration(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()
	s.current = &cancelHandle{}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.True(t, resp.Busy)
}

func TestHandleCreateGenerationReturnsCreatedWithPendingEnvelope(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()

	body, _ := json.Marshal(GenerationRequest{Prompt: "a cat"})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCreateGeneration(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createGenerationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	require.Equal(t, GenerationPending, resp.Status)
	require.WithinDuration(t, time.Now(), resp.CreatedAt, 5*time.Second)

	require.Eventually(t, func() bool {
		st, ok := s.reg.get(resp.ID)
		return ok && st.Status == GenerationComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleCreateGenerationRejectsMissingPrompt(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()

	body, _ := json.Marshal(GenerationRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCreateGeneration(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateGenerationReturnsBusyOn503(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()
	s.current = &cancelHandle{}

	body, _ := json.Marshal(GenerationRequest{Prompt: "a cat"})
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCreateGeneration(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "SERVER_BUSY", env.Error.Code)
	require.NotEmpty(t, env.Error.Suggestion)
}

func TestHandleGetGenerationReturnsNotFoundForUnknownID(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/images/generations/does-not-exist", nil)
	req.SetPathValue("id", "does-not-exist")
	rec := httptest.NewRecorder()

	s.handleGetGeneration(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetGenerationServesResultImageAsBase64(t *testing.T) {
	s := newTestServer(t)
	defer s.reg.Close()

	id, _, err := s.startGeneration(GenerationRequest{Prompt: "a cat"}.withDefaults())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := s.reg.get(id)
		return ok && st.Status == GenerationComplete
	}, 5*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/v1/images/generations/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()

	s.handleGetGeneration(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Result struct {
			Images []struct {
				Image string `json:"image"`
			} `json:"images"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Result.Images, 1)
	require.NotEmpty(t, payload.Result.Images[0].Image)
}
