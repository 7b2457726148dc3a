package diffusion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/genforge/genforge/pkg/corerr"
)

// Config is the diffusion server's accepted configuration (spec §6.2).
// gpuLayers is accepted but never passed to the child — kept only for
// symmetry with the LLM server's config shape.
type Config struct {
	ModelID                 string
	Port                    int
	Threads                 int
	GPULayers               int
	ForceValidation         bool
	ClipOnCPU               TriState
	VAEOnCPU                TriState
	BatchSize               int
	OffloadToCPU            TriState
	DiffusionFlashAttention TriState
}

// validConfigKeys is the exact accepted key set, used to validate raw
// (e.g. JSON map) configuration payloads at the composition boundary.
var validConfigKeys = map[string]bool{
	"modelId": true, "port": true, "threads": true, "gpuLayers": true,
	"forceValidation": true, "clipOnCpu": true, "vaeOnCpu": true,
	"batchSize": true, "offloadToCpu": true, "diffusionFlashAttention": true,
}

// ValidateConfigKeys rejects any key not in the accepted set, naming both
// the offending keys and the valid set (spec §6.2).
func ValidateConfigKeys(raw map[string]interface{}) error {
	var bad []string
	for k := range raw {
		if !validConfigKeys[k] {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	valid := make([]string, 0, len(validConfigKeys))
	for k := range validConfigKeys {
		valid = append(valid, k)
	}
	sort.Strings(valid)
	return corerr.New(corerr.InvalidRequest, fmt.Sprintf(
		"unknown config key(s) %s; valid keys are %s",
		strings.Join(bad, ", "), strings.Join(valid, ", ")))
}

func errInvalidRequest(msg string) error {
	return corerr.New(corerr.InvalidRequest, msg)
}
