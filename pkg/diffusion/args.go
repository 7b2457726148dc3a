package diffusion

import (
	"fmt"
	"strconv"

	"github.com/genforge/genforge/pkg/models"
)

// roleFlag maps a component role to its sd.cpp-style CLI flag.
var roleFlag = map[models.Role]string{
	models.RoleDiffusionModel: "-m",
	models.RoleLLM:            "--llm-model",
	models.RoleVAE:            "--vae",
	models.RoleClipL:          "--clip_l",
	models.RoleClipG:          "--clip_g",
	models.RoleT5:             "--t5xxl",
	models.RoleControlNet:     "--control-net",
	models.RoleLoRA:           "--lora-model-dir",
}

// buildArgs synthesizes the child process argv for one sub-generation (spec
// §4.3.3 "Argument synthesis"). Model paths come first in the fixed
// component order, then generation parameters, then optimization flags,
// then the output path. --n-gpu-layers is never emitted: it is
// llama.cpp-specific and crashes sd.cpp.
func buildArgs(info *models.Info, req GenerationRequest, seed int64, threads int, flags OptimizationFlags, outPath string) []string {
	var args []string

	args = append(args, "-m", info.Path)
	for _, role := range models.RoleOrder {
		if role == models.RoleDiffusionModel {
			continue
		}
		comp, ok := info.Components[role]
		if !ok {
			continue
		}
		flag, known := roleFlag[role]
		if !known {
			continue
		}
		args = append(args, flag, comp.Path)
	}

	args = append(args, "-p", req.Prompt)
	if req.NegativePrompt != "" {
		args = append(args, "-n", req.NegativePrompt)
	}
	args = append(args,
		"-W", strconv.Itoa(req.Width),
		"-H", strconv.Itoa(req.Height),
		"--steps", strconv.Itoa(req.Steps),
		"--cfg-scale", formatFloat(req.CFGScale),
		"-s", strconv.FormatInt(seed, 10),
		"--sampling-method", string(req.Sampler),
	)
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}

	if flags.ClipOnCPU {
		args = append(args, "--clip-on-cpu")
	}
	if flags.VAEOnCPU {
		args = append(args, "--vae-on-cpu")
	}
	if flags.OffloadToCPU {
		args = append(args, "--offload-to-cpu")
	}
	if flags.DiffusionFlashAttention {
		args = append(args, "--diffusion-fa")
	}

	args = append(args, "-o", outPath)
	return args
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
