// Package config reads the daemon's environment-variable driven
// configuration, in the style of the teacher's main.go: os.Getenv with
// defaults, os.LookupEnv for booleans.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the composition root's fully-resolved configuration.
type Config struct {
	BaseDir         string // root for binaries/, models/ subdirectories
	TempDir         string // scratch dir for per-job output files
	DiffusionPort   int
	LLMPort         int
	MetricsPort     int
	DisableMetrics  bool
	ForceValidation bool
}

// FromEnv resolves Config from the process environment, applying defaults
// for anything unset.
func FromEnv() (Config, error) {
	baseDir := os.Getenv("GENFORGE_HOME")
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		baseDir = filepath.Join(home, ".genforge")
	}

	tempDir := os.Getenv("GENFORGE_TEMP_DIR")
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "genforge")
	}

	diffusionPort := intEnv("GENFORGE_DIFFUSION_PORT", 8081)
	llmPort := intEnv("GENFORGE_LLM_PORT", 8080)
	metricsPort := intEnv("GENFORGE_METRICS_PORT", 9090)

	_, forceValidation := os.LookupEnv("GENFORGE_FORCE_VALIDATION")
	disableMetrics := os.Getenv("GENFORGE_DISABLE_METRICS") == "1"

	return Config{
		BaseDir:         baseDir,
		TempDir:         tempDir,
		DiffusionPort:   diffusionPort,
		LLMPort:         llmPort,
		MetricsPort:     metricsPort,
		DisableMetrics:  disableMetrics,
		ForceValidation: forceValidation,
	}, nil
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
