package binaries

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/genforge/genforge/pkg/capability"
	"github.com/genforge/genforge/pkg/download"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct{ snap capability.Snapshot }

func (f fakeOracle) Snapshot() (capability.Snapshot, error) { return f.snap, nil }
func (f fakeOracle) ClearCache()                             {}

func newLogger() logging.Logger {
	return logging.NewLogrusAdapter(logrus.New())
}

func TestFilterByCapabilityDropsCUDAWithoutNVIDIAGPU(t *testing.T) {
	m := &Manager{log: newLogger(), oracle: fakeOracle{snap: capability.Snapshot{GPU: capability.GPU{Type: capability.GPUNone}}}}

	variants := []Variant{
		{Tag: "cuda", RequiresCUDA: true},
		{Tag: "cpu"},
	}
	out, err := m.filterByCapability(variants)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "cpu", out[0].Tag)
}

func TestFilterByCapabilityKeepsCUDAWithNVIDIAGPU(t *testing.T) {
	m := &Manager{log: newLogger(), oracle: fakeOracle{snap: capability.Snapshot{GPU: capability.GPU{Available: true, Type: capability.GPUNVIDIA}}}}

	variants := []Variant{{Tag: "cuda", RequiresCUDA: true}, {Tag: "cpu"}}
	out, err := m.filterByCapability(variants)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestFilterByCapabilityEmptyListFails(t *testing.T) {
	m := &Manager{log: newLogger(), oracle: fakeOracle{snap: capability.Snapshot{GPU: capability.GPU{Type: capability.GPUNone}}}}
	_, err := m.filterByCapability([]Variant{{Tag: "cuda", RequiresCUDA: true}})
	require.Error(t, err)
}

func TestReorderByHintPutsPreviousVariantFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveVariantCache(dir, BackendDiffusion, VariantCache{Variant: "vulkan"}))

	m := &Manager{log: newLogger()}
	out := m.reorderByHint(dir, BackendDiffusion, []Variant{{Tag: "cuda"}, {Tag: "vulkan"}, {Tag: "cpu"}})
	require.Equal(t, "vulkan", out[0].Tag)
}

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestResolveDownloadsExtractsValidatesAndCaches(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}

	archive := makeTarGz(t, map[string]string{
		"sd": "#!/bin/sh\nexit 0\n",
	})
	archiveSum := sha256Hex(archive)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	oracle := fakeOracle{snap: capability.Snapshot{GPU: capability.GPU{Type: capability.GPUNone}}}
	mgr := NewManager(newLogger(), oracle, download.New(), t.TempDir())

	spec := BackendSpec{
		Kind: BackendDiffusion,
		Variants: []Variant{
			{Tag: "cpu", ArchiveURL: srv.URL, ArchiveSHA256: archiveSum, BinaryNames: []string{"sd"}},
		},
		Phase1Args:    []string{"--help"},
		Phase1Timeout: time.Second,
	}

	path, err := mgr.Resolve(context.Background(), spec, "linux-amd64", "")
	require.NoError(t, err)
	require.FileExists(t, path)

	// A second resolve must hit the cache path without re-downloading: point
	// the variant at a handler that counts every request it receives.
	hits := 0
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(archive)
	}))
	defer srv2.Close()
	spec.Variants[0].ArchiveURL = srv2.URL

	path2, err := mgr.Resolve(context.Background(), spec, "linux-amd64", "")
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.Equal(t, 0, hits, "cache hit must not re-download the archive")
}

func TestResolveRejectsOnChecksumMismatch(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"sd": "#!/bin/sh\nexit 0\n"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	oracle := fakeOracle{snap: capability.Snapshot{GPU: capability.GPU{Type: capability.GPUNone}}}
	mgr := NewManager(newLogger(), oracle, download.New(), t.TempDir())

	spec := BackendSpec{
		Kind: BackendDiffusion,
		Variants: []Variant{
			{Tag: "cpu", ArchiveURL: srv.URL, ArchiveSHA256: "0000000000000000000000000000000000000000000000000000000000000000", BinaryNames: []string{"sd"}},
		},
	}

	_, err := mgr.Resolve(context.Background(), spec, "linux-amd64", "")
	require.Error(t, err)
}
