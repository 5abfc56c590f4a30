package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	mu    sync.Mutex
	rel   *ReleaseInfo
	err   error
	calls int
}

func (f *fakeSource) Latest(context.Context) (*ReleaseInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.rel
	return &cp, nil
}

type spawnRecorder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *spawnRecorder) spawn(name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func (r *spawnRecorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type serviceFixture struct {
	svc     *UpdateService
	source  *fakeSource
	spawner *spawnRecorder
	dir     string
	quit    chan struct{}
}

func newServiceFixture(t *testing.T, goos, goarch string, rel *ReleaseInfo) *serviceFixture {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "foundry-updates")
	f := &serviceFixture{
		source:  &fakeSource{rel: rel},
		spawner: &spawnRecorder{},
		dir:     dir,
		quit:    make(chan struct{}, 1),
	}
	launcher := NewLauncher(goos)
	launcher.spawn = f.spawner.spawn
	f.svc = NewUpdateService(ServiceOptions{
		CurrentVersion:  "1.9.0",
		GOOS:            goos,
		GOARCH:          goarch,
		Source:          f.source,
		Downloader:      NewDownloader(nil, dir, "foundry-updater/test"),
		Launcher:        launcher,
		QuitDelay:       time.Millisecond,
		VerifyChecksums: true,
		Quit: func() {
			select {
			case f.quit <- struct{}{}:
			default:
			}
		},
	})
	return f
}

func assetServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func releaseFor(srv *httptest.Server, tag string, names ...string) *ReleaseInfo {
	rel := &ReleaseInfo{TagVersion: tag, Notes: "notes", HTMLURL: "https://example.invalid/release"}
	for _, n := range names {
		rel.Assets = append(rel.Assets, Asset{Name: n, DownloadURL: srv.URL + "/" + n})
	}
	return rel
}

func TestUpdateService_CheckForUpdate(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, "windows", "amd64", &ReleaseInfo{TagVersion: "1.10.0", Notes: "Bug fixes"})
	res := f.svc.CheckForUpdate(context.Background())
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	if res.CurrentVersion != "1.9.0" || res.LatestVersion != "1.10.0" || !res.UpdateAvailable || res.ReleaseNotes != "Bug fixes" {
		t.Fatalf("result: got %+v", res)
	}
	if got := f.svc.State(); got != StateUpdateAvailable {
		t.Fatalf("state: got %s", got)
	}

	f.source.rel = &ReleaseInfo{TagVersion: "1.9.0"}
	res = f.svc.CheckForUpdate(context.Background())
	if res.UpdateAvailable || res.Error != nil {
		t.Fatalf("result: got %+v", res)
	}
	if got := f.svc.State(); got != StateNoUpdate {
		t.Fatalf("state: got %s", got)
	}
}

func TestUpdateService_CheckNetworkFailure(t *testing.T) {
	t.Parallel()

	client := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	src := NewReleaseSource(client, "https://api.example.invalid/releases/latest", "", 0)
	svc := NewUpdateService(ServiceOptions{CurrentVersion: "v1.2.3", Source: src})

	res := svc.CheckForUpdate(context.Background())
	if res.Error == nil || res.Error.Message == "" {
		t.Fatalf("expected error message, got %+v", res)
	}
	if res.CurrentVersion != "1.2.3" {
		t.Fatalf("CurrentVersion: got %q", res.CurrentVersion)
	}
	if res.LatestVersion != "" || res.UpdateAvailable {
		t.Fatalf("unexpected fields on failure: %+v", res)
	}
	if got := svc.State(); got != StateIdle {
		t.Fatalf("state: got %s", got)
	}
}

func TestUpdateService_DownloadThenInstall(t *testing.T) {
	t.Parallel()

	payload := []byte("installer-bytes")
	srv := assetServer(t, map[string][]byte{"app-1.0.0.exe": payload, "app-1.0.0-ia32.exe": []byte("wrong")})
	f := newServiceFixture(t, "win32", "x64", releaseFor(srv, "2.0.0", "app-1.0.0-ia32.exe", "app-1.0.0.exe"))

	if res := f.svc.CheckForUpdate(context.Background()); !res.UpdateAvailable {
		t.Fatalf("expected update, got %+v", res)
	}

	var events int
	res, err := f.svc.Download(context.Background(), func(Progress) { events++ })
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	want := filepath.Join(f.dir, "app-1.0.0.exe")
	if res.FilePath != want || res.FileName != "app-1.0.0.exe" {
		t.Fatalf("result: got %+v want path %s", res, want)
	}
	if got := f.svc.InstallerPath(); got != want {
		t.Fatalf("InstallerPath: got %q", got)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("installer missing: %v", err)
	}
	if events == 0 {
		t.Fatalf("no progress events")
	}
	if got := f.svc.State(); got != StateDownloaded {
		t.Fatalf("state: got %s", got)
	}

	if err := f.svc.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	calls := f.spawner.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != want {
		t.Fatalf("spawn calls: got %v want [[%s]]", calls, want)
	}
	select {
	case <-f.quit:
	case <-time.After(2 * time.Second):
		t.Fatalf("quit was not scheduled")
	}
	if got := f.svc.State(); got != StateInstalling {
		t.Fatalf("state: got %s", got)
	}

	if err := f.svc.Install(context.Background()); !errors.Is(err, ErrInstalling) {
		t.Fatalf("second install: got %v", err)
	}
	if _, err := f.svc.Download(context.Background(), nil); !errors.Is(err, ErrInstalling) {
		t.Fatalf("download after install: got %v", err)
	}
}

func TestUpdateService_DarwinInstallUsesOpen(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, map[string][]byte{"app-arm64.dmg": []byte("dmg"), "app-x64.dmg": []byte("dmg")})
	f := newServiceFixture(t, "darwin", "arm64", releaseFor(srv, "2.0.0", "app-x64.dmg", "app-arm64.dmg"))

	res, err := f.svc.Download(context.Background(), nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := f.svc.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	calls := f.spawner.Calls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0] != "open" || calls[0][1] != res.FilePath {
		t.Fatalf("spawn calls: got %v", calls)
	}
}

func TestUpdateService_InstallWithoutDownload(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, "windows", "amd64", &ReleaseInfo{TagVersion: "2.0.0"})
	err := f.svc.Install(context.Background())
	var nie *NoInstallerError
	if !errors.As(err, &nie) {
		t.Fatalf("expected NoInstallerError, got %v", err)
	}
	if err.Error() != "No downloaded installer found" {
		t.Fatalf("message: got %q", err.Error())
	}
	if calls := f.spawner.Calls(); len(calls) != 0 {
		t.Fatalf("spawn should not be called: %v", calls)
	}
}

func TestUpdateService_InstallAfterFileRemoved(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, map[string][]byte{"app.exe": []byte("x")})
	f := newServiceFixture(t, "windows", "amd64", releaseFor(srv, "2.0.0", "app.exe"))
	res, err := f.svc.Download(context.Background(), nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if err := os.Remove(res.FilePath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	var nie *NoInstallerError
	if err := f.svc.Install(context.Background()); !errors.As(err, &nie) {
		t.Fatalf("expected NoInstallerError, got %v", err)
	}
	if calls := f.spawner.Calls(); len(calls) != 0 {
		t.Fatalf("spawn should not be called: %v", calls)
	}
}

func TestUpdateService_SpawnFailureDoesNotQuit(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, map[string][]byte{"app.exe": []byte("x")})
	f := newServiceFixture(t, "windows", "amd64", releaseFor(srv, "2.0.0", "app.exe"))
	f.spawner.err = errors.New("access denied")

	if _, err := f.svc.Download(context.Background(), nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	err := f.svc.Install(context.Background())
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	select {
	case <-f.quit:
		t.Fatalf("quit must not run after a failed spawn")
	case <-time.After(50 * time.Millisecond):
	}
	if got := f.svc.State(); got != StateIdle {
		t.Fatalf("state: got %s", got)
	}
}

func TestUpdateService_ConcurrentDownloadRejected(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	f := newServiceFixture(t, "windows", "amd64", releaseFor(srv, "2.0.0", "app.exe"))

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Download(context.Background(), nil)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.svc.State() != StateDownloading {
		if time.Now().After(deadline) {
			t.Fatalf("first download did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.svc.Download(context.Background(), nil); !errors.Is(err, ErrDownloadInProgress) {
		t.Fatalf("expected ErrDownloadInProgress, got %v", err)
	}
	if err := f.svc.Install(context.Background()); !errors.Is(err, ErrDownloadInProgress) {
		t.Fatalf("install during download: got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first download: %v", err)
	}
}

func TestUpdateService_NoAssetForPlatform(t *testing.T) {
	t.Parallel()

	srv := assetServer(t, nil)
	f := newServiceFixture(t, "linux", "amd64", releaseFor(srv, "2.0.0", "app.exe", "app.dmg"))
	_, err := f.svc.Download(context.Background(), nil)
	var nae *NoAssetError
	if !errors.As(err, &nae) {
		t.Fatalf("expected NoAssetError, got %v", err)
	}
	if err.Error() != "No installer found for your platform" {
		t.Fatalf("message: got %q", err.Error())
	}
	if got := f.svc.State(); got != StateIdle {
		t.Fatalf("state: got %s", got)
	}
	if f.source.calls != 1 {
		t.Fatalf("download without a prior check should query once, got %d", f.source.calls)
	}
}

func TestUpdateService_Checksums(t *testing.T) {
	t.Parallel()

	payload := []byte("signed installer")
	sum := sha256.Sum256(payload)
	good := fmt.Sprintf("%s  app.exe\n", hex.EncodeToString(sum[:]))
	bad := "0000000000000000000000000000000000000000000000000000000000000000  app.exe\n"

	for name, sums := range map[string]string{"match": good, "mismatch": bad} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := assetServer(t, map[string][]byte{"app.exe": payload, ChecksumsAssetName: []byte(sums)})
			f := newServiceFixture(t, "windows", "amd64", releaseFor(srv, "2.0.0", "app.exe", ChecksumsAssetName))

			_, err := f.svc.Download(context.Background(), nil)
			if name == "match" {
				if err != nil {
					t.Fatalf("Download: %v", err)
				}
				return
			}
			var de *DownloadError
			if !errors.As(err, &de) {
				t.Fatalf("expected DownloadError, got %v", err)
			}
			if got := f.svc.InstallerPath(); got != "" {
				t.Fatalf("installer path must stay unset, got %q", got)
			}
		})
	}
}

func TestUpdateService_FailedRedownloadBlocksInstall(t *testing.T) {
	t.Parallel()

	payload := []byte("signed installer")
	sum := sha256.Sum256(payload)
	sums := []byte(fmt.Sprintf("%s  app.exe\n", hex.EncodeToString(sum[:])))

	tests := []struct {
		name    string
		failure http.HandlerFunc
	}{
		{
			name: "checksum mismatch",
			failure: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("TAMPERED"))
			},
		},
		{
			name: "connection dropped",
			failure: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "1000000")
				_, _ = w.Write([]byte("TAMP"))
				w.(http.Flusher).Flush()
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					_ = conn.Close()
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var broken atomic.Bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch filepath.Base(r.URL.Path) {
				case ChecksumsAssetName:
					_, _ = w.Write(sums)
				case "app.exe":
					if broken.Load() {
						tc.failure(w, r)
						return
					}
					_, _ = w.Write(payload)
				default:
					http.NotFound(w, r)
				}
			}))
			t.Cleanup(srv.Close)
			f := newServiceFixture(t, "windows", "amd64", releaseFor(srv, "2.0.0", "app.exe", ChecksumsAssetName))

			res, err := f.svc.Download(context.Background(), nil)
			if err != nil {
				t.Fatalf("first Download: %v", err)
			}

			broken.Store(true)
			var de *DownloadError
			if _, err := f.svc.Download(context.Background(), nil); !errors.As(err, &de) {
				t.Fatalf("second Download: expected DownloadError, got %v", err)
			}
			if got := f.svc.InstallerPath(); got != "" {
				t.Fatalf("installer path must be cleared, got %q", got)
			}
			if got := f.svc.State(); got != StateIdle {
				t.Fatalf("state: got %s", got)
			}
			if got, err := os.ReadFile(res.FilePath); err != nil || string(got) != string(payload) {
				t.Fatalf("verified file overwritten: got %q err=%v", got, err)
			}

			var nie *NoInstallerError
			if err := f.svc.Install(context.Background()); !errors.As(err, &nie) {
				t.Fatalf("Install: expected NoInstallerError, got %v", err)
			}
			if calls := f.spawner.Calls(); len(calls) != 0 {
				t.Fatalf("spawn must not run, got %v", calls)
			}
			select {
			case <-f.quit:
				t.Fatalf("quit must not be scheduled")
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestUpdateService_OpenDownloadPage(t *testing.T) {
	t.Parallel()

	var opened []string
	svc := NewUpdateService(ServiceOptions{
		CurrentVersion:  "1.0.0",
		Source:          &fakeSource{rel: &ReleaseInfo{TagVersion: "1.1.0", HTMLURL: "https://example.invalid/v1.1.0"}},
		FallbackPageURL: "https://example.invalid/latest",
		OpenURL: func(u string) error {
			opened = append(opened, u)
			return nil
		},
	})

	if err := svc.OpenDownloadPage(context.Background()); err != nil {
		t.Fatalf("OpenDownloadPage: %v", err)
	}
	svc.CheckForUpdate(context.Background())
	if err := svc.OpenDownloadPage(context.Background()); err != nil {
		t.Fatalf("OpenDownloadPage: %v", err)
	}
	want := []string{"https://example.invalid/latest", "https://example.invalid/v1.1.0"}
	if len(opened) != 2 || opened[0] != want[0] || opened[1] != want[1] {
		t.Fatalf("opened: got %v want %v", opened, want)
	}
}

func TestLauncher_Unsupported(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "app.AppImage")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	l := NewLauncher("linux")
	called := false
	l.spawn = func(string, ...string) error { called = true; return nil }
	if err := l.Launch(p); !errors.Is(err, ErrInstallUnsupported) {
		t.Fatalf("expected ErrInstallUnsupported, got %v", err)
	}
	if called {
		t.Fatalf("spawn should not be called")
	}
}
