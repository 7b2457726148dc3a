// Package models implements the Model Manager's multi-component download
// path: atomically staging a primary file plus named component files into a
// shared directory, with per-component integrity, progress aggregation,
// skip-on-match and all-or-nothing cleanup (spec §4.2).
package models

import "time"

// Kind is the model's usage category.
type Kind string

const (
	KindLLM       Kind = "llm"
	KindDiffusion Kind = "diffusion"
)

// Role is a component's tag within a multi-component model. Order here is a
// protocol invariant: CLI flags for components MUST be emitted in this
// order by the diffusion server manager.
type Role string

const (
	RoleDiffusionModel Role = "diffusion_model"
	RoleLLM            Role = "llm"
	RoleVAE            Role = "vae"
	RoleClipL          Role = "clip_l"
	RoleClipG          Role = "clip_g"
	RoleT5             Role = "t5"
	RoleControlNet     Role = "controlnet"
	RoleLoRA           Role = "lora"
)

// RoleOrder is the fixed component ordering vocabulary (spec §3, §4.3.3).
var RoleOrder = []Role{RoleDiffusionModel, RoleLLM, RoleVAE, RoleClipL, RoleClipG, RoleT5, RoleControlNet, RoleLoRA}

// SourceKind distinguishes how a file is fetched.
type SourceKind string

const (
	SourceURL SourceKind = "url"
	SourceHF  SourceKind = "hf"
)

// Source describes where a single file comes from.
type Source struct {
	Kind SourceKind
	URL  string // SourceURL
	Repo string // SourceHF
	File string // SourceHF
}

// Component is one staged file of a multi-component model.
type Component struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// Provenance records where a component came from and when it landed.
type Provenance struct {
	Source        Source    `json:"-"`
	SourceKind    SourceKind `json:"sourceKind"`
	SourceURL     string    `json:"sourceUrl,omitempty"`
	SourceRepo    string    `json:"sourceRepo,omitempty"`
	SourceFile    string    `json:"sourceFile,omitempty"`
	Checksum      string    `json:"checksum,omitempty"`
	DownloadedAt  time.Time `json:"downloadedAt"`
}

// Metadata is an opaque, parsed-model-format metadata block (architecture,
// layer count, context length, etc.) — opaque to the core beyond storage.
type Metadata map[string]interface{}

// Info is the authoritative record of an installed model (spec §3).
// Immutable once written; updates are write-then-replace of the file.
type Info struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"displayName"`
	Kind        Kind                 `json:"kind"`
	Path        string               `json:"path"` // primary file path
	Size        int64                `json:"size"` // sum of all component sizes
	Components  map[Role]Component   `json:"components,omitempty"`
	Provenance  Provenance           `json:"provenance"`
	Metadata    Metadata             `json:"metadata,omitempty"`
}

// IsMultiComponent reports whether Info carries named components beyond the
// primary file.
func (i *Info) IsMultiComponent() bool {
	return len(i.Components) > 0
}
