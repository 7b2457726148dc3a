// Package download implements the one-shot HTTP(S) downloader external
// collaborator (spec §6.4): progress-reporting, cancellable file fetches
// used by both the binary manager (archives, dependencies) and the model
// manager (multi-component model files).
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// ProgressFunc is invoked as bytes arrive. downloaded is the number of bytes
// written so far for this single file; total is -1 if unknown.
type ProgressFunc func(downloaded, total int64)

// Downloader performs one-shot HTTP downloads to a local path.
type Downloader struct {
	Client *http.Client
}

// New constructs a Downloader around a plain http.Client. The client sets no
// overall timeout, so a transfer is bounded only by the context passed to
// each call.
func New() *Downloader {
	return &Downloader{Client: &http.Client{}}
}

// Head issues a HEAD request and returns the advertised content length, or
// -1 if the server did not report one. Callers treat HEAD failures as
// non-fatal (spec §4.2 step 2): the caller decides how to fold an error into
// its own best-effort accounting.
func (d *Downloader) Head(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return -1, fmt.Errorf("HEAD %s: status %d", url, resp.StatusCode)
	}
	if resp.ContentLength <= 0 {
		return -1, nil
	}
	return resp.ContentLength, nil
}

// File downloads url to destPath, calling onProgress as bytes arrive. The
// download can be aborted by cancelling ctx. destPath's parent directory
// must already exist.
func (d *Downloader) File(ctx context.Context, url, destPath string, onProgress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	tmp := destPath + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	total := resp.ContentLength
	pr := &progressReader{r: resp.Body, onProgress: onProgress, total: total}

	_, copyErr := io.Copy(out, pr)
	closeErr := out.Close()

	if copyErr != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

type progressReader struct {
	r          io.Reader
	onProgress ProgressFunc
	total      int64
	read       int64
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.onProgress != nil {
			total := p.total
			if total <= 0 {
				total = -1
			}
			p.onProgress(p.read, total)
		}
	}
	return n, err
}

// NoopProgress satisfies ProgressFunc callers that don't care about
// per-chunk updates.
func NoopProgress(int64, int64) {}
