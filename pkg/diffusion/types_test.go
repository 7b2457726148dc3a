package diffusion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerationRequestWithDefaults(t *testing.T) {
	req := GenerationRequest{Prompt: "a cat"}.withDefaults()
	require.Equal(t, 512, req.Width)
	require.Equal(t, 512, req.Height)
	require.Equal(t, 20, req.Steps)
	require.Equal(t, 7.5, req.CFGScale)
	require.Equal(t, int64(-1), req.Seed)
	require.Equal(t, SamplerEulerA, req.Sampler)
	require.Equal(t, 1, req.Count)
}

func TestGenerationRequestWithDefaultsPreservesExplicitValues(t *testing.T) {
	req := GenerationRequest{Prompt: "a dog", Width: 768, Count: 3, Seed: 42}.withDefaults()
	require.Equal(t, 768, req.Width)
	require.Equal(t, 3, req.Count)
	require.Equal(t, int64(42), req.Seed)
}

func TestGenerationRequestValidateRejectsMissingPrompt(t *testing.T) {
	req := GenerationRequest{}.withDefaults()
	require.Error(t, req.validate())
}

func TestGenerationRequestValidateRejectsOutOfRangeCount(t *testing.T) {
	req := GenerationRequest{Prompt: "x", Count: 6}.withDefaults()
	require.Error(t, req.validate())
}

func TestGenerationRequestValidateRejectsUnknownSampler(t *testing.T) {
	req := GenerationRequest{Prompt: "x", Sampler: "not-a-sampler"}.withDefaults()
	require.Error(t, req.validate())
}

func TestGenerationRequestValidateAcceptsDefaults(t *testing.T) {
	req := GenerationRequest{Prompt: "x"}.withDefaults()
	require.NoError(t, req.validate())
}

func TestTriStateApply(t *testing.T) {
	require.True(t, True.apply(false))
	require.False(t, False.apply(true))
	require.True(t, Unset.apply(true))
	require.False(t, Unset.apply(false))
}
