package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/foundry-erp/updater/internal/logger"
)

const defaultChunkSize = 32 << 10

// DefaultDownloadDir returns the dedicated installer directory under the OS temp dir.
func DefaultDownloadDir() string {
	return filepath.Join(os.TempDir(), "foundry-updates")
}

// Downloader streams installer assets into a dedicated directory.
type Downloader struct {
	client    *http.Client
	dir       string
	userAgent string
	chunkSize int
}

// NewDownloader creates a Downloader writing into dir (DefaultDownloadDir when empty).
func NewDownloader(client *http.Client, dir string, userAgent string) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDownloadDir()
	}
	return &Downloader{
		client:    client,
		dir:       dir,
		userAgent: userAgent,
		chunkSize: defaultChunkSize,
	}
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// partSuffix marks an in-flight download. The final name only ever holds a
// completed, verified file.
const partSuffix = ".part"

// VerifyFunc inspects a fully written download before it is published.
type VerifyFunc func(path string) error

// Download fetches asset into {dir}/{asset.FileName}, calling onProgress after
// every chunk is written. Each chunk is fully written before the next read.
func (d *Downloader) Download(ctx context.Context, asset SelectedAsset, onProgress ProgressFunc) (DownloadResult, error) {
	return d.DownloadVerified(ctx, asset, onProgress, nil)
}

// DownloadVerified is Download with a check run on the staged file. Bytes are
// streamed to {FileName}.part and renamed over the final path only after the
// stream completes and verify (when non-nil) accepts them. On failure the
// partial file stays at the .part path and any earlier file at the final path
// is untouched.
func (d *Downloader) DownloadVerified(ctx context.Context, asset SelectedAsset, onProgress ProgressFunc, verify VerifyFunc) (DownloadResult, error) {
	name := filepath.Base(asset.FileName)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return DownloadResult{}, &DownloadError{Err: fmt.Errorf("invalid asset file name %q", asset.FileName)}
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return DownloadResult{}, &DownloadError{Err: fmt.Errorf("create download dir: %w", err)}
	}
	dst := filepath.Join(d.dir, name)
	part := dst + partSuffix

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, http.NoBody)
	if err != nil {
		return DownloadResult{}, &DownloadError{Err: err}
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if tok := strings.TrimSpace(getToken()); tok != "" && sameHost(req.URL, "https://api.github.com") {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return DownloadResult{}, &DownloadError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DownloadResult{}, &DownloadError{StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	logger.Info("downloading %s (%d bytes) to %s", name, total, dst)

	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return DownloadResult{}, &DownloadError{Err: err}
	}

	received, err := d.stream(f, resp.Body, total, onProgress)
	if err != nil {
		_ = f.Close()
		return DownloadResult{}, &DownloadError{Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return DownloadResult{}, &DownloadError{Err: err}
	}
	if err := f.Close(); err != nil {
		return DownloadResult{}, &DownloadError{Err: err}
	}

	if verify != nil {
		if err := verify(part); err != nil {
			_ = os.Remove(part)
			return DownloadResult{}, &DownloadError{Err: err}
		}
	}
	if err := os.Rename(part, dst); err != nil {
		return DownloadResult{}, &DownloadError{Err: fmt.Errorf("publish %s: %w", name, err)}
	}

	logger.Info("downloaded %s (%d bytes)", dst, received)
	return DownloadResult{FilePath: dst, FileName: name}, nil
}

func (d *Downloader) stream(w io.Writer, r io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, d.chunkSize)
	var received int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return received, fmt.Errorf("write: %w", err)
			}
			received += int64(n)
			if onProgress != nil {
				onProgress(progressOf(received, total))
			}
		}
		if errors.Is(rerr, io.EOF) {
			return received, nil
		}
		if rerr != nil {
			return received, fmt.Errorf("read: %w", rerr)
		}
	}
}

// progressOf reports 0 percent when the total size is unknown. Percent
// truncates, so 100 means every byte has arrived.
func progressOf(received, total int64) Progress {
	p := Progress{Downloaded: received, Total: total}
	if total > 0 {
		p.Percent = int(received * 100 / total)
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	return p
}
