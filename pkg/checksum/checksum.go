// Package checksum provides the SHA256 file-hashing utility used by the
// binary manager (archive + binary verification) and the model manager
// (per-component integrity).
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256File computes the lowercase hex SHA256 digest of the file at path,
// streaming rather than reading it into memory whole. ctx cancellation
// aborts the read promptly by closing the file out from under it.
func SHA256File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-done:
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify computes the SHA256 of path and reports whether it matches want
// (case-insensitive hex compare against an empty want always matches — an
// unset expected checksum means "nothing to verify").
func Verify(ctx context.Context, path, want string) (bool, string, error) {
	if want == "" {
		return true, "", nil
	}
	got, err := SHA256File(ctx, path)
	if err != nil {
		return false, "", err
	}
	return equalFold(got, want), got, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
