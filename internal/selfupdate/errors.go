package selfupdate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDownloadInProgress rejects a download requested while another is running.
	ErrDownloadInProgress = errors.New("a download is already in progress")
	// ErrInstalling rejects operations once the installer has been launched.
	ErrInstalling = errors.New("installer already launched")
	// ErrInstallUnsupported is returned on platforms without an installer launch path.
	ErrInstallUnsupported = errors.New("installer launch is not supported on this platform")
)

// ReleaseQueryError reports a failed release query. RetryAfter carries the
// server's requested wait for rate-limited responses.
type ReleaseQueryError struct {
	StatusCode  int
	RateLimited bool
	RetryAfter  time.Duration
	Err         error
}

func (e *ReleaseQueryError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("release query failed: HTTP %d (rate limited)", e.StatusCode)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("release query failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("release query failed: %v", e.Err)
}

func (e *ReleaseQueryError) Unwrap() error { return e.Err }

// NoAssetError means the release has no installer for the platform.
type NoAssetError struct {
	GOOS   string
	GOARCH string
}

func (e *NoAssetError) Error() string {
	return "No installer found for your platform"
}

// DownloadError reports a failed installer download. Partial files stay on disk.
type DownloadError struct {
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// NoInstallerError means install was requested without a usable download.
type NoInstallerError struct {
	Path string
}

func (e *NoInstallerError) Error() string {
	return "No downloaded installer found"
}

// SpawnError reports that the installer process could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to launch installer %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
