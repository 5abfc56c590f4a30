// Package bridge exposes the update pipeline to the desktop UI over a
// localhost HTTP API with a server-sent-events push stream.
package bridge

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/foundry-erp/updater/internal/logger"
	"github.com/foundry-erp/updater/internal/notify"
	"github.com/foundry-erp/updater/internal/selfupdate"
)

// Updater is the pipeline driven through the bridge.
type Updater interface {
	State() selfupdate.State
	CheckForUpdate(ctx context.Context) selfupdate.UpdateCheckResult
	Download(ctx context.Context, onProgress selfupdate.ProgressFunc) (selfupdate.DownloadResult, error)
	Install(ctx context.Context) error
	OpenDownloadPage(ctx context.Context) error
}

type Options struct {
	ListenAddr     string
	Port           int
	Token          string
	MaxConnections int
	// StartupCheckDelay is how long after Start the first background check
	// runs. Zero disables it.
	StartupCheckDelay time.Duration
	// CheckInterval repeats the background check. Zero disables it.
	CheckInterval time.Duration
}

// Server is the localhost bridge.
type Server struct {
	updater Updater
	opts    Options
	hub     *hub

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	server    *http.Server
	addr      string
	announced string

	watchMu   sync.Mutex
	watchStop chan struct{}
	watchDone chan struct{}
}

func New(u Updater, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		updater: u,
		opts:    opts,
		hub:     newHub(),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /check-update", s.handleCheckUpdate)
	mux.HandleFunc("POST /open-download-page", s.handleOpenDownloadPage)
	mux.HandleFunc("POST /download-update", s.handleDownloadUpdate)
	mux.HandleFunc("POST /install-update", s.handleInstallUpdate)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.authenticate(mux)
}

// Start listens and serves until Stop. Like http.Server.Serve it returns
// http.ErrServerClosed after a graceful stop.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.ListenAddr, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	logger.Info("foundry-updater bridge listening on %s", ln.Addr())
	if s.opts.Token == "" {
		logger.Debug("bridge token not set; requests are not authenticated")
	}

	s.startChecker()

	return srv.Serve(ln)
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop ends background checks, aborts in-flight work and shuts the server down.
func (s *Server) Stop() error {
	s.stopChecker()
	s.cancel()
	s.hub.close()

	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	token := strings.TrimSpace(s.opts.Token)
	if token == "" {
		return next
	}
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		// EventSource cannot set headers, so the stream also accepts a query token.
		if len(got) == 0 && r.URL.Path == "/events" {
			if q := r.URL.Query().Get("access_token"); q != "" {
				got = []byte("Bearer " + q)
			}
		}
		if subtle.ConstantTimeCompare(got, want) != 1 {
			logger.Warn("rejected unauthenticated %s %s", r.Method, r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, actionResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) startChecker() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	delay := s.opts.StartupCheckDelay
	interval := s.opts.CheckInterval
	if delay <= 0 && interval <= 0 {
		return
	}
	if s.watchStop != nil {
		return
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.watchStop = stopCh
	s.watchDone = doneCh

	go func(stopCh <-chan struct{}, doneCh chan struct{}) {
		defer close(doneCh)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				s.backgroundCheck()
			case <-stopCh:
				timer.Stop()
				return
			}
		}
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.backgroundCheck()
			case <-stopCh:
				return
			}
		}
	}(stopCh, doneCh)
}

func (s *Server) stopChecker() {
	s.watchMu.Lock()
	stopCh := s.watchStop
	doneCh := s.watchDone
	s.watchMu.Unlock()

	if stopCh == nil {
		return
	}

	select {
	case <-stopCh:
		// already closed
	default:
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}

	s.watchMu.Lock()
	if s.watchStop == stopCh {
		s.watchStop = nil
		s.watchDone = nil
	}
	s.watchMu.Unlock()
}

// backgroundCheck pushes update-can-available when a newer release exists and
// raises a desktop notification once per version.
func (s *Server) backgroundCheck() {
	res := s.updater.CheckForUpdate(s.baseCtx)
	if res.Error != nil || !res.UpdateAvailable {
		return
	}
	s.hub.publish(EventUpdateAvailable, checkResponse(res))

	s.mu.Lock()
	first := s.announced != res.LatestVersion
	s.announced = res.LatestVersion
	s.mu.Unlock()
	if first {
		notify.UpdateAvailable(res.CurrentVersion, res.LatestVersion)
	}
}
