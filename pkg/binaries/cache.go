package binaries

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

func cacheFileName(kind BackendKind, suffix string) string {
	return fmt.Sprintf(".%s.%s.json", kind, suffix)
}

func validationCachePath(binDir string, kind BackendKind) string {
	// Single-backend installs keep the exact name the spec documents
	// ("<binary_dir>/.validation.json"); multi-backend hosts disambiguate
	// by kind, matching the per-backend-type keying in §3.
	if kind == "" {
		return filepath.Join(binDir, ".validation.json")
	}
	return filepath.Join(binDir, cacheFileName(kind, "validation"))
}

func variantCachePath(binDir string, kind BackendKind) string {
	if kind == "" {
		return filepath.Join(binDir, ".variant.json")
	}
	return filepath.Join(binDir, cacheFileName(kind, "variant"))
}

func loadValidationCache(binDir string, kind BackendKind) (*ValidationCache, error) {
	var vc ValidationCache
	if err := loadJSON(validationCachePath(binDir, kind), &vc); err != nil {
		return nil, err
	}
	return &vc, nil
}

func saveValidationCache(binDir string, kind BackendKind, vc ValidationCache) error {
	return saveJSON(validationCachePath(binDir, kind), vc)
}

func loadVariantCache(binDir string, kind BackendKind) (*VariantCache, error) {
	var vc VariantCache
	if err := loadJSON(variantCachePath(binDir, kind), &vc); err != nil {
		return nil, err
	}
	return &vc, nil
}

func saveVariantCache(binDir string, kind BackendKind, vc VariantCache) error {
	return saveJSON(variantCachePath(binDir, kind), vc)
}

func loadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// saveJSON persists out atomically via temp-then-rename (spec §6.3).
func saveJSON(path string, out interface{}) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicwriter.WriteFile(path, data, 0o644)
}
