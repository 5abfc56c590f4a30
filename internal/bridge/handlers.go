package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foundry-erp/updater/internal/logger"
	"github.com/foundry-erp/updater/internal/notify"
	"github.com/foundry-erp/updater/internal/selfupdate"
)

var keepAliveInterval = 15 * time.Second

type checkUpdateResponse struct {
	Version      string `json:"version"`
	NewVersion   string `json:"newVersion"`
	Update       bool   `json:"update"`
	ReleaseNotes string `json:"releaseNotes"`
}

type checkErrorResponse struct {
	Error   *selfupdate.CheckError `json:"error"`
	Version string                 `json:"version"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type downloadResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath,omitempty"`
	FileName string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

type stateResponse struct {
	State selfupdate.State `json:"state"`
}

func checkResponse(res selfupdate.UpdateCheckResult) any {
	if res.Error != nil {
		return checkErrorResponse{Error: res.Error, Version: res.CurrentVersion}
	}
	return checkUpdateResponse{
		Version:      res.CurrentVersion,
		NewVersion:   res.LatestVersion,
		Update:       res.UpdateAvailable,
		ReleaseNotes: res.ReleaseNotes,
	}
}

// Structured outcomes, failures included, are reported with 200 and a body
// the UI inspects. Non-200 is reserved for auth and routing errors.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response: %v", err)
	}
}

func (s *Server) handleCheckUpdate(w http.ResponseWriter, req *http.Request) {
	res := s.updater.CheckForUpdate(req.Context())
	writeJSON(w, http.StatusOK, checkResponse(res))
}

func (s *Server) handleOpenDownloadPage(w http.ResponseWriter, req *http.Request) {
	if err := s.updater.OpenDownloadPage(req.Context()); err != nil {
		logger.Warn("open download page failed: %v", err)
		writeJSON(w, http.StatusOK, actionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

// handleDownloadUpdate answers once the download finishes. The download runs
// on the server's lifetime context, so a dropped request does not abort it.
func (s *Server) handleDownloadUpdate(w http.ResponseWriter, req *http.Request) {
	res, err := s.updater.Download(s.baseCtx, func(p selfupdate.Progress) {
		s.hub.publish(EventDownloadProgress, p)
	})
	if err != nil {
		writeJSON(w, http.StatusOK, downloadResponse{Error: err.Error()})
		return
	}
	notify.UpdateDownloaded(res.FileName)
	writeJSON(w, http.StatusOK, downloadResponse{
		Success:  true,
		FilePath: res.FilePath,
		FileName: res.FileName,
	})
}

func (s *Server) handleInstallUpdate(w http.ResponseWriter, req *http.Request) {
	if err := s.updater.Install(req.Context()); err != nil {
		writeJSON(w, http.StatusOK, actionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

func (s *Server) handleState(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{State: s.updater.State()})
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleEvents(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, actionResponse{Error: "streaming unsupported"})
		return
	}

	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
