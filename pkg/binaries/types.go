// Package binaries implements the Binary Manager: resolving a working
// executable for a given backend and platform, downloading variant bundles
// in priority order, validating them in two phases, and caching the result.
package binaries

import "time"

// BackendKind distinguishes the two executables the daemon supervises.
// Only Diffusion is implemented by the core; LLM exists so the
// validation/variant cache shape matches spec §3 ("keyed by backend type
// (llama | diffusion)") even though the LLM server itself is an external
// collaborator.
type BackendKind string

const (
	BackendLLM       BackendKind = "llama"
	BackendDiffusion BackendKind = "diffusion"
)

// Dependency is a side-file (e.g. a GPU-vendor DLL) that must be extracted
// alongside the main binary before validation runs.
type Dependency struct {
	URL      string
	SHA256   string
	Filename string
}

// Variant is one build flavor of a backend: a source archive, its expected
// checksum, and any co-located dependencies. Order within a backend's
// variant list is priority — earlier is preferred.
type Variant struct {
	Tag            string // e.g. "cuda", "vulkan", "metal", "cpu"
	RequiresCUDA   bool
	ArchiveURL     string
	ArchiveSHA256  string
	Dependencies   []Dependency
	BinaryNames    []string // candidate executable names inside the archive
	TestBinaryName string   // sibling binary used for phase-2 (e.g. "llama-run"); empty if phase 2 uses the main binary
}

// BackendSpec declares everything the manager needs to resolve a backend:
// its ordered variant list and the arguments used for validation.
type BackendSpec struct {
	Kind                 BackendKind
	Variants             []Variant
	Phase1Args           []string      // e.g. ["--version"] or ["--help"]
	Phase1Timeout        time.Duration // default 5s
	Phase2Timeout        time.Duration // default 15s
	GPUFailureSubstrings []string      // scanned, case-insensitive, in combined stdout+stderr
}

// ValidationCache is the per-backend-type persisted record (spec §3),
// discarded when the binary's SHA256 no longer matches.
type ValidationCache struct {
	VariantTag    string    `json:"variantTag"`
	BinarySHA256  string    `json:"binarySha256"`
	ValidatedAt   time.Time `json:"validatedAt"`
	Phase1Passed  bool      `json:"phase1Passed"`
	Phase2Passed  bool      `json:"phase2Passed,omitempty"`
	Phase2Skipped bool      `json:"phase2Skipped,omitempty"`
}

// VariantCache hints at the previously-installed variant so re-installs try
// it first (spec §3).
type VariantCache struct {
	Variant  string `json:"variant"`
	Platform string `json:"platform"`
}
