// Package orchestrator implements the Resource Orchestrator (spec §4.4):
// deciding whether a diffusion job needs the LLM server offloaded first,
// saving and restoring the LLM's configuration around that offload, and
// reloading it in the background with one retry.
package orchestrator

import "time"

// LLMConfig is the snapshot of an LLM server's configuration that can be
// saved and later replayed to Start (spec §3 "SavedLLMState").
type LLMConfig struct {
	ModelID   string
	Port      int
	GPULayers int
	// TotalLayers is the model's total transformer layer count, used to
	// split VRAM/RAM demand between GPU and CPU (spec §4.4). Zero means
	// unknown; FootprintEstimator then uses its DefaultTotalLayers (32).
	TotalLayers int
	// SizeBytes is the LLM model's size on disk, used for footprint
	// estimation.
	SizeBytes int64
}

// LLMServer is the external collaborator interface for the LLM server
// manager (spec §6.4): the orchestrator only needs to observe whether it is
// running, read its config, and start/stop it.
type LLMServer interface {
	IsRunning() bool
	GetConfig() LLMConfig
	Start(config LLMConfig) error
	Stop() error
}

// SavedLLMState is set when the orchestrator offloads the LLM server, and
// cleared after a successful reload; it is preserved on reload failure so
// the UI can show what was lost (spec §3).
type SavedLLMState struct {
	Config     LLMConfig
	WasRunning bool
	SavedAt    time.Time
}
