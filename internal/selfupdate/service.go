package selfupdate

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/skratchdot/open-golang/open"

	"github.com/foundry-erp/updater/internal/logger"
)

// ReleaseFetcher returns the latest published release.
type ReleaseFetcher interface {
	Latest(ctx context.Context) (*ReleaseInfo, error)
}

// ServiceOptions wires an UpdateService. Zero durations take the package defaults.
type ServiceOptions struct {
	CurrentVersion string
	GOOS           string
	GOARCH         string

	Source     ReleaseFetcher
	Downloader *Downloader
	Launcher   *Launcher

	CheckTimeout    time.Duration
	DownloadTimeout time.Duration
	QuitDelay       time.Duration
	VerifyChecksums bool

	// DownloadPageURL, when set, always wins over the release page.
	DownloadPageURL string
	// FallbackPageURL is opened when neither an override nor a release page is known.
	FallbackPageURL string

	// Quit terminates the host process after a successful installer launch.
	Quit func()
	// OpenURL opens a page in the user's browser.
	OpenURL func(string) error
}

// UpdateService owns the update pipeline state for one process.
type UpdateService struct {
	mu            sync.Mutex
	state         State
	release       *ReleaseInfo
	installerPath string
	downloading   bool

	currentVersion string
	goos           string
	goarch         string

	source     ReleaseFetcher
	downloader *Downloader
	launcher   *Launcher

	checkTimeout    time.Duration
	downloadTimeout time.Duration
	quitDelay       time.Duration
	verifyChecksums bool

	downloadPageURL string
	fallbackPageURL string

	quit    func()
	openURL func(string) error
}

func NewUpdateService(opts ServiceOptions) *UpdateService {
	goos, goarch := opts.GOOS, opts.GOARCH
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	goos, goarch = NormalizePlatform(goos, goarch)

	s := &UpdateService{
		state:           StateIdle,
		currentVersion:  trimVersionPrefix(strings.TrimSpace(opts.CurrentVersion)),
		goos:            goos,
		goarch:          goarch,
		source:          opts.Source,
		downloader:      opts.Downloader,
		launcher:        opts.Launcher,
		checkTimeout:    opts.CheckTimeout,
		downloadTimeout: opts.DownloadTimeout,
		quitDelay:       opts.QuitDelay,
		verifyChecksums: opts.VerifyChecksums,
		downloadPageURL: strings.TrimSpace(opts.DownloadPageURL),
		fallbackPageURL: strings.TrimSpace(opts.FallbackPageURL),
		quit:            opts.Quit,
		openURL:         opts.OpenURL,
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = DefaultCheckTimeout
	}
	if s.downloadTimeout <= 0 {
		s.downloadTimeout = DefaultDownloadTimeout
	}
	if s.quitDelay <= 0 {
		s.quitDelay = DefaultQuitDelay
	}
	if s.downloader == nil {
		s.downloader = NewDownloader(nil, "", "")
	}
	if s.launcher == nil {
		s.launcher = NewLauncher(goos)
	}
	if s.openURL == nil {
		s.openURL = open.Start
	}
	return s
}

func (s *UpdateService) CurrentVersion() string {
	return s.currentVersion
}

// State returns the current pipeline state.
func (s *UpdateService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InstallerPath returns the last successfully downloaded installer, if any.
func (s *UpdateService) InstallerPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installerPath
}

// DownloadDir returns the directory installers are written to.
func (s *UpdateService) DownloadDir() string {
	return s.downloader.Dir()
}

func (s *UpdateService) setStateLocked(next State) {
	if s.state == next {
		return
	}
	logger.Info("update state: %s -> %s", s.state, next)
	s.state = next
}

// CheckForUpdate queries the release endpoint. Failures are reported through
// the result's Error field and never returned.
func (s *UpdateService) CheckForUpdate(ctx context.Context) UpdateCheckResult {
	s.mu.Lock()
	if s.state == StateInstalling {
		s.mu.Unlock()
		return s.checkFailure(ErrInstalling)
	}
	// A check while a download runs must not disturb the download's state.
	track := !s.downloading
	if track {
		s.setStateLocked(StateChecking)
	}
	s.mu.Unlock()

	rel, err := s.fetchLatest(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logger.Warn("update check failed: %v", err)
		if track && s.state == StateChecking {
			s.setStateLocked(StateIdle)
		}
		return s.checkFailure(err)
	}

	s.release = rel
	available := IsNewer(rel.TagVersion, s.currentVersion)
	if track && s.state == StateChecking {
		if available {
			s.setStateLocked(StateUpdateAvailable)
		} else {
			s.setStateLocked(StateNoUpdate)
		}
	}
	if available {
		logger.Info("update available: %s -> %s", s.currentVersion, rel.TagVersion)
	} else {
		logger.Debug("no update: current=%s latest=%s", s.currentVersion, rel.TagVersion)
	}
	return UpdateCheckResult{
		CurrentVersion:  s.currentVersion,
		LatestVersion:   rel.TagVersion,
		UpdateAvailable: available,
		ReleaseNotes:    rel.Notes,
	}
}

func (s *UpdateService) checkFailure(err error) UpdateCheckResult {
	return UpdateCheckResult{
		CurrentVersion: s.currentVersion,
		Error:          &CheckError{Message: err.Error()},
	}
}

func (s *UpdateService) fetchLatest(ctx context.Context) (*ReleaseInfo, error) {
	if s.source == nil {
		return nil, &ReleaseQueryError{Err: errors.New("no release source configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()
	return s.source.Latest(ctx)
}

// Download selects the installer for this platform from the latest known
// release (querying it when no check has run yet) and streams it to disk.
// Only one download may run at a time.
func (s *UpdateService) Download(ctx context.Context, onProgress ProgressFunc) (DownloadResult, error) {
	s.mu.Lock()
	if s.state == StateInstalling {
		s.mu.Unlock()
		return DownloadResult{}, ErrInstalling
	}
	if s.downloading {
		s.mu.Unlock()
		logger.Warn("download rejected: another download is in progress")
		return DownloadResult{}, ErrDownloadInProgress
	}
	s.downloading = true
	s.setStateLocked(StateDownloading)
	rel := s.release
	s.mu.Unlock()

	res, err := s.download(ctx, rel, onProgress)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloading = false
	if err != nil {
		logger.Error("download failed: %v", err)
		// A failed attempt supersedes whatever was downloaded before it.
		s.installerPath = ""
		if s.state == StateDownloading {
			s.setStateLocked(StateIdle)
		}
		return DownloadResult{}, err
	}
	s.installerPath = res.FilePath
	s.setStateLocked(StateDownloaded)
	return res, nil
}

func (s *UpdateService) download(ctx context.Context, rel *ReleaseInfo, onProgress ProgressFunc) (DownloadResult, error) {
	if rel == nil {
		fetched, err := s.fetchLatest(ctx)
		if err != nil {
			return DownloadResult{}, err
		}
		rel = fetched
		s.mu.Lock()
		s.release = fetched
		s.mu.Unlock()
	}

	asset := SelectInstallerAsset(rel.Assets, s.goos, s.goarch)
	if asset == nil {
		return DownloadResult{}, &NoAssetError{GOOS: s.goos, GOARCH: s.goarch}
	}

	ctx, cancel := context.WithTimeout(ctx, s.downloadTimeout)
	defer cancel()

	verify, err := s.checksumVerifier(ctx, rel, asset.FileName)
	if err != nil {
		return DownloadResult{}, err
	}
	return s.downloader.DownloadVerified(ctx, *asset, onProgress, verify)
}

// checksumVerifier returns nil when verification is off or the release
// publishes no checksums.
func (s *UpdateService) checksumVerifier(ctx context.Context, rel *ReleaseInfo, fileName string) (VerifyFunc, error) {
	if !s.verifyChecksums {
		return nil, nil
	}
	sumsAsset, ok := findAssetByName(rel.Assets, ChecksumsAssetName)
	if !ok {
		logger.Debug("release has no %s; skipping verification", ChecksumsAssetName)
		return nil, nil
	}
	sums, err := s.downloader.fetchChecksums(ctx, sumsAsset.DownloadURL)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}
	return func(path string) error {
		if err := verifyFile(path, fileName, sums); err != nil {
			return err
		}
		logger.Info("checksum verified for %s", fileName)
		return nil
	}, nil
}

// Install launches the downloaded installer. On a successful spawn the
// pipeline becomes terminal and the quit callback runs after the quit delay.
// A failed spawn leaves the process running.
func (s *UpdateService) Install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateInstalling {
		s.mu.Unlock()
		return ErrInstalling
	}
	if s.downloading {
		s.mu.Unlock()
		return ErrDownloadInProgress
	}
	path := s.installerPath
	if path == "" {
		s.mu.Unlock()
		logger.Warn("install requested without a downloaded installer")
		return &NoInstallerError{}
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		s.mu.Unlock()
		logger.Warn("installer %s is missing", path)
		return &NoInstallerError{Path: path}
	}

	s.setStateLocked(StateInstalling)
	if err := s.launcher.Launch(path); err != nil {
		logger.Error("install failed: %v", err)
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	logger.Info("installer launched; quitting in %s", s.quitDelay)
	if s.quit != nil {
		time.AfterFunc(s.quitDelay, s.quit)
	}
	return nil
}

// OpenDownloadPage opens the release page in the user's browser.
func (s *UpdateService) OpenDownloadPage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.downloadPageURL
	if target == "" {
		s.mu.Lock()
		if s.release != nil {
			target = strings.TrimSpace(s.release.HTMLURL)
		}
		s.mu.Unlock()
	}
	if target == "" {
		target = s.fallbackPageURL
	}
	if target == "" {
		return errors.New("no download page configured")
	}
	logger.Info("opening download page %s", target)
	return s.openURL(target)
}
