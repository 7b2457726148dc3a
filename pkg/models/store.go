package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

const metadataFileName = "model.json"

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeDirName maps an arbitrary id or display name to a filesystem-safe
// directory component.
func sanitizeDirName(s string) string {
	s = unsafePathChars.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "model"
	}
	return s
}

// modelDir resolves the directory a model's files live in.
func (m *Manager) modelDir(req *DownloadRequest) string {
	name := req.ModelDirectory
	if name == "" {
		name = req.ID
	}
	return filepath.Join(m.baseDir, sanitizeDirName(name))
}

func metadataPath(dir string) string {
	return filepath.Join(dir, metadataFileName)
}

// loadInfo reads and decodes a model's metadata file.
func loadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(metadataPath(dir))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// saveInfo persists info atomically (temp-then-rename) adjacent to the
// model's files (spec §6.3).
func saveInfo(dir string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicwriter.WriteFile(metadataPath(dir), data, 0o644)
}

func metadataExists(dir string) bool {
	_, err := os.Stat(metadataPath(dir))
	return err == nil
}
