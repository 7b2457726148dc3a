package models

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/genforge/genforge/pkg/download"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logging.Logger {
	return logging.NewLogrusAdapter(logrus.New())
}

func fileServer(t *testing.T, contents map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := contents[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", itoa(len(body)))
			return
		}
		w.Write([]byte(body))
	}))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestDownloadMultiComponentOrderAndInfo(t *testing.T) {
	srv := fileServer(t, map[string]string{
		"/primary.gguf": "PRIMARY-BYTES",
		"/llm.gguf":     "LLM-BYTES",
		"/vae.safet":    "VAE-BYTES",
	})
	defer srv.Close()

	var startedOrder []Role
	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())

	req := &DownloadRequest{
		ID:          "flux2-klein",
		DisplayName: "Flux.2 Klein",
		Kind:        KindDiffusion,
		Primary:     FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/primary.gguf"}},
		Components: []ComponentSpec{
			{Role: RoleLLM, File: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/llm.gguf"}}},
			{Role: RoleVAE, File: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/vae.safet"}}},
		},
		OnComponentStart: func(role Role, skipped bool) {
			startedOrder = append(startedOrder, role)
		},
	}

	info, err := mgr.Download(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, []Role{"", RoleLLM, RoleVAE}, startedOrder, "files must be downloaded in declared order: primary then components")
	require.Equal(t, int64(len("PRIMARY-BYTES")+len("LLM-BYTES")+len("VAE-BYTES")), info.Size)
	require.Len(t, info.Components, 2)
	require.NotEmpty(t, info.Path)
	require.FileExists(t, info.Path)
	require.FileExists(t, info.Components[RoleVAE].Path)
}

func TestDownloadRejectsReservedRole(t *testing.T) {
	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())
	req := &DownloadRequest{
		ID:      "bad",
		Primary: FileSpec{Source: Source{Kind: SourceURL, URL: "http://example.invalid/x"}},
		Components: []ComponentSpec{
			{Role: RoleDiffusionModel, File: FileSpec{Source: Source{Kind: SourceURL, URL: "http://example.invalid/y"}}},
		},
	}
	_, err := mgr.Download(context.Background(), req)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrReservedRole))
}

func TestDownloadRejectsAlreadyExists(t *testing.T) {
	srv := fileServer(t, map[string]string{"/p.gguf": "data"})
	defer srv.Close()

	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())
	req := &DownloadRequest{ID: "dup", Primary: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/p.gguf"}}}

	_, err := mgr.Download(context.Background(), req)
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), req)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestDownloadCleanupRemovesThisInvocationsFilesAndEmptyDir(t *testing.T) {
	srv := fileServer(t, map[string]string{"/primary.gguf": "PRIMARY"})
	defer srv.Close()

	dl := download.New()
	mgr := NewManager(newTestLogger(), dl, t.TempDir())

	req := &DownloadRequest{
		ID:      "partial",
		Kind:    KindDiffusion,
		Primary: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/primary.gguf"}},
		Components: []ComponentSpec{
			{Role: RoleVAE, File: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/missing-vae.safet"}}},
		},
	}

	_, err := mgr.Download(context.Background(), req)
	require.Error(t, err)

	dir := mgr.modelDir(req)
	// the primary file (downloaded successfully before the failure) must be
	// removed, and the now-empty directory with it.
	_, statErr := os.Stat(dir)
	require.True(t, os.IsNotExist(statErr), "directory should be removed once emptied of this invocation's files")
	_, statErr = os.Stat(filepath.Join(dir, "primary.gguf"))
	require.True(t, os.IsNotExist(statErr))
}

func TestDownloadCleanupPreservesSharedSiblingFile(t *testing.T) {
	srv := fileServer(t, map[string]string{"/primary.gguf": "PRIMARY"})
	defer srv.Close()

	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())
	req := &DownloadRequest{
		ID:      "shared",
		Kind:    KindDiffusion,
		Primary: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/primary.gguf"}},
		Components: []ComponentSpec{
			{Role: RoleVAE, File: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/missing-vae.safet"}}},
		},
	}

	dir := mgr.modelDir(req)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	sharedPath := filepath.Join(dir, "shared-by-variant.bin")
	require.NoError(t, os.WriteFile(sharedPath, []byte("shared"), 0o644))

	_, err := mgr.Download(context.Background(), req)
	require.Error(t, err)

	require.FileExists(t, sharedPath, "pre-existing sibling-variant file must survive cleanup")
}

func TestDownloadSkipsExistingFileWithMatchingChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("download should have been skipped for an on-disk file with matching checksum")
	}))
	defer srv.Close()

	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())
	req := &DownloadRequest{ID: "skip-test", Primary: FileSpec{
		Source:   Source{Kind: SourceURL, URL: srv.URL + "/p.gguf"},
		Checksum: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}}

	dir := mgr.modelDir(req)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.gguf"), []byte("test"), 0o644))

	var progressCalls [][2]int64
	req.OnProgress = func(completed, total int64) {
		progressCalls = append(progressCalls, [2]int64{completed, total})
	}

	info, err := mgr.Download(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(4), info.Size)
}

func TestDownloadMonotoneProgress(t *testing.T) {
	srv := fileServer(t, map[string]string{
		"/primary.gguf": "PRIMARY-BYTES-HERE",
		"/llm.gguf":     "LLM-BYTES-HERE-TOO",
	})
	defer srv.Close()

	mgr := NewManager(newTestLogger(), download.New(), t.TempDir())

	var last int64
	req := &DownloadRequest{
		ID:      "monotone",
		Primary: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/primary.gguf"}},
		Components: []ComponentSpec{
			{Role: RoleLLM, File: FileSpec{Source: Source{Kind: SourceURL, URL: srv.URL + "/llm.gguf"}}},
		},
		OnProgress: func(completed, total int64) {
			require.GreaterOrEqual(t, completed, last)
			last = completed
		},
	}

	_, err := mgr.Download(context.Background(), req)
	require.NoError(t, err)
}
