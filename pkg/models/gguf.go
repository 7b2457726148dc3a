package models

import (
	"context"
	"path/filepath"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"
)

// parseGGUFFile is indirected so tests can stub metadata extraction without
// needing a real GGUF file on disk, grounded on the teacher's
// format.GGUFFormat.ExtractConfig (pkg/distribution/format/gguf.go).
var parseGGUFFile = func(_ context.Context, path string) (Metadata, error) {
	f, err := parser.ParseGGUFFile(path)
	if err != nil {
		return nil, err
	}

	md := f.Metadata()
	return Metadata{
		"architecture": strings.TrimSpace(md.Architecture),
		"parameters":   md.Parameters.String(),
		"quantization": md.FileType.String(),
		"size":         md.Size.String(),
	}, nil
}

// enrichGGUFMetadata attempts to fetch GGUF metadata for the primary file
// when its extension is .gguf. Failure is non-fatal (spec §4.2 step 5).
func enrichGGUFMetadata(ctx context.Context, primaryPath string) Metadata {
	if !strings.EqualFold(filepath.Ext(primaryPath), ".gguf") {
		return nil
	}
	md, err := parseGGUFFile(ctx, primaryPath)
	if err != nil {
		return nil
	}
	return md
}
