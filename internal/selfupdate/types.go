package selfupdate

import "time"

const (
	// DefaultCheckTimeout bounds a release query when no timeout is configured.
	DefaultCheckTimeout = 30 * time.Second
	// DefaultDownloadTimeout bounds an installer download when none is configured.
	DefaultDownloadTimeout = 30 * time.Minute
	// DefaultQuitDelay lets the spawned installer register before the host exits.
	DefaultQuitDelay = time.Second
)

// ReleaseInfo is the latest published release. It is fetched fresh on every
// check and never persisted.
type ReleaseInfo struct {
	TagVersion string
	Assets     []Asset
	Notes      string
	HTMLURL    string
}

type Asset struct {
	Name        string
	DownloadURL string
	Size        int64
}

// SelectedAsset is the installer chosen for the running platform.
type SelectedAsset struct {
	DownloadURL string
	FileName    string
}

// CheckError carries a human-readable failure from a release query.
type CheckError struct {
	Message string `json:"message"`
}

// UpdateCheckResult is what a check reports to the UI. When Error is set the
// other fields except CurrentVersion are zero.
type UpdateCheckResult struct {
	CurrentVersion  string      `json:"currentVersion"`
	LatestVersion   string      `json:"latestVersion,omitempty"`
	UpdateAvailable bool        `json:"updateAvailable"`
	ReleaseNotes    string      `json:"releaseNotes,omitempty"`
	Error           *CheckError `json:"error,omitempty"`
}

// Progress is pushed after every chunk written during a download.
type Progress struct {
	Percent    int   `json:"progress"`
	Downloaded int64 `json:"downloaded"`
	Total      int64 `json:"total"`
}

// ProgressFunc receives download progress events.
type ProgressFunc func(Progress)

// DownloadResult locates a completed installer download.
type DownloadResult struct {
	FilePath string
	FileName string
}

// State is the pipeline position for the current process.
type State string

const (
	StateIdle            State = "idle"
	StateChecking        State = "checking"
	StateNoUpdate        State = "no-update"
	StateUpdateAvailable State = "update-available"
	StateDownloading     State = "downloading"
	StateDownloaded      State = "downloaded"
	StateInstalling      State = "installing"
)
