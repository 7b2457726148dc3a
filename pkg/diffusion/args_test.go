package diffusion

import (
	"testing"

	"github.com/genforge/genforge/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestBuildArgsOrdersComponentsAndOmitsNGPULayers(t *testing.T) {
	info := &models.Info{
		Path: "/models/sd/diffusion_model.safetensors",
		Components: map[models.Role]models.Component{
			models.RoleVAE:   {Path: "/models/sd/vae.safetensors"},
			models.RoleClipL: {Path: "/models/sd/clip_l.safetensors"},
			models.RoleLoRA:  {Path: "/models/sd/lora"},
		},
	}
	req := GenerationRequest{Prompt: "a fox", NegativePrompt: "blurry"}.withDefaults()
	flags := OptimizationFlags{ClipOnCPU: true, DiffusionFlashAttention: true}

	args := buildArgs(info, req, 7, 4, flags, "/tmp/out.png")

	require.Equal(t, []string{"-m", "/models/sd/diffusion_model.safetensors"}, args[:2])
	require.Contains(t, args, "--vae")
	require.Contains(t, args, "--clip_l")
	require.Contains(t, args, "--lora-model-dir")
	require.Contains(t, args, "--clip-on-cpu")
	require.Contains(t, args, "--diffusion-fa")
	require.Contains(t, args, "-o")
	require.Equal(t, "/tmp/out.png", args[len(args)-1])
	require.NotContains(t, args, "--n-gpu-layers", "sd.cpp has no GPU layers flag; it would crash the child")
	require.NotContains(t, args, "--vae-on-cpu")
}

func TestBuildArgsOmitsComponentsNotPresent(t *testing.T) {
	info := &models.Info{Path: "/m/diffusion_model.safetensors"}
	req := GenerationRequest{Prompt: "x"}.withDefaults()
	args := buildArgs(info, req, 1, 0, OptimizationFlags{}, "/tmp/out.png")
	require.NotContains(t, args, "--vae")
	require.NotContains(t, args, "-t")
}
