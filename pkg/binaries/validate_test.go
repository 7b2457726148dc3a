package binaries

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestPhase1Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}
	dir := t.TempDir()
	bin := writeScript(t, dir, "ok.sh", "#!/bin/sh\nexit 0\n")

	ok, res := phase1(context.Background(), bin, nil, time.Second)
	require.True(t, ok)
	require.Equal(t, 0, res.exitCode)
}

func TestPhase1TimeoutIsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}
	dir := t.TempDir()
	bin := writeScript(t, dir, "slow.sh", "#!/bin/sh\nsleep 5\n")

	ok, res := phase1(context.Background(), bin, nil, 100*time.Millisecond)
	require.False(t, ok)
	require.True(t, res.timedOut)
}

func TestPhase2FailsOnGPUMarkerDespiteExitZero(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}
	dir := t.TempDir()
	bin := writeScript(t, dir, "cudafail.sh", "#!/bin/sh\necho 'CUDA error: out of memory' >&2\nexit 0\n")

	ok, res, marker := phase2(context.Background(), bin, nil, time.Second, nil)
	require.False(t, ok)
	require.Equal(t, 0, res.exitCode)
	require.NotEmpty(t, marker)
}

func TestPhase2SucceedsOnCleanExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are posix-only")
	}
	dir := t.TempDir()
	bin := writeScript(t, dir, "clean.sh", "#!/bin/sh\necho 'decode_first_stage completed'\nexit 0\n")

	ok, _, marker := phase2(context.Background(), bin, nil, time.Second, nil)
	require.True(t, ok)
	require.Empty(t, marker)
}

func TestContainsGPUFailureMarkerCaseInsensitive(t *testing.T) {
	require.Equal(t, "cuda error", containsGPUFailureMarker("... CUDA ERROR: misc ...", defaultGPUFailureSubstrings))
	require.Empty(t, containsGPUFailureMarker("all good", defaultGPUFailureSubstrings))
}
