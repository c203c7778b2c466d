// Package server is the worker's operational HTTP surface: enqueueing,
// cache-backed status polling, a websocket progress stream, health and
// metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/cache"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/metrics"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/ssrf"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/store"
)

// ScanStore is the durable-store surface the server needs.
type ScanStore interface {
	CreateScan(ctx context.Context, scanID, url string, level model.WCAGLevel) error
	GetScan(ctx context.Context, scanID string) (*store.ScanSummary, error)
}

// StatusCache is the low-latency status surface the server reads and seeds.
type StatusCache interface {
	SetStatus(ctx context.Context, scanID string, entry cache.StatusEntry) error
	SetProgress(ctx context.Context, scanID string, pct int) error
	GetStatus(ctx context.Context, scanID string) (*cache.StatusEntry, error)
	GetProgress(ctx context.Context, scanID string) (int, error)
}

// JobPublisher enqueues scan jobs on the durable queue.
type JobPublisher interface {
	Publish(ctx context.Context, job model.JobPayload) error
}

// Server routes the ops endpoints.
type Server struct {
	store     ScanStore
	statuses  StatusCache
	publisher JobPublisher
	router    chi.Router
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger
}

func New(st ScanStore, statuses StatusCache, publisher JobPublisher, logger *zap.SugaredLogger) *Server {
	s := &Server{
		store:     st,
		statuses:  statuses,
		publisher: publisher,
		router:    chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/api/scans", s.handleCreateScan)
	r.Get("/api/scans/{scanID}/status", s.handleScanStatus)
	r.Get("/ws/scans/{scanID}", s.handleScanWatch)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createScanRequest struct {
	URL       string `json:"url"`
	WCAGLevel string `json:"wcagLevel"`
	Timeout   int    `json:"timeout,omitempty"`
}

type createScanResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	WCAGLevel string `json:"wcagLevel"`
	Status    string `json:"status"`
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
		writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}
	// Early rejection is a courtesy; the scanner re-checks before and
	// after navigation regardless.
	if ssrf.IsBlockedHostname(target.Hostname()) {
		writeError(w, http.StatusUnprocessableEntity, "destination is not allowed")
		return
	}

	level := model.ParseWCAGLevel(req.WCAGLevel)
	scanID := uuid.New().String()
	ctx := r.Context()

	if err := s.store.CreateScan(ctx, scanID, req.URL, level); err != nil {
		s.logger.Errorw("creating scan", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create scan")
		return
	}

	if err := s.statuses.SetStatus(ctx, scanID, cache.StatusEntry{
		Status:    model.StatusPending,
		URL:       req.URL,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Warnw("seeding status cache", "scan_id", scanID, "error", err)
	}
	if err := s.statuses.SetProgress(ctx, scanID, 0); err != nil {
		s.logger.Warnw("seeding progress cache", "scan_id", scanID, "error", err)
	}

	job := model.JobPayload{
		ScanID:         scanID,
		URL:            req.URL,
		WCAGLevel:      string(level),
		TimeoutSeconds: req.Timeout,
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.logger.Errorw("enqueueing scan", "scan_id", scanID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not enqueue scan")
		return
	}

	writeJSON(w, http.StatusAccepted, createScanResponse{
		ID:        scanID,
		URL:       req.URL,
		WCAGLevel: string(level),
		Status:    string(model.StatusPending),
	})
}

type scanStatusResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	URL          string     `json:"url"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	resp, ok := s.loadStatus(r.Context(), scanID)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadStatus prefers the cache and falls back to the durable record once
// the cache entry has expired.
func (s *Server) loadStatus(ctx context.Context, scanID string) (*scanStatusResponse, bool) {
	entry, err := s.statuses.GetStatus(ctx, scanID)
	if err != nil {
		s.logger.Warnw("reading status cache", "scan_id", scanID, "error", err)
	}
	if entry != nil {
		progress, perr := s.statuses.GetProgress(ctx, scanID)
		if perr != nil || progress < 0 {
			progress = 0
		}
		return &scanStatusResponse{
			ID:           scanID,
			Status:       string(entry.Status),
			URL:          entry.URL,
			Progress:     progress,
			CreatedAt:    entry.CreatedAt,
			CompletedAt:  entry.CompletedAt,
			ErrorMessage: entry.ErrorMessage,
		}, true
	}

	summary, err := s.store.GetScan(ctx, scanID)
	if err != nil || summary == nil {
		return nil, false
	}
	progress := 0
	if summary.Status == string(model.StatusCompleted) {
		progress = 100
	}
	return &scanStatusResponse{
		ID:           summary.ID,
		Status:       summary.Status,
		URL:          summary.URL,
		Progress:     progress,
		CreatedAt:    summary.CreatedAt,
		CompletedAt:  summary.CompletedAt,
		ErrorMessage: summary.ErrorMessage,
	}, true
}

// handleScanWatch streams status snapshots over a websocket until the scan
// reaches a terminal state or the client goes away.
func (s *Server) handleScanWatch(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("upgrading watch connection", "scan_id", scanID, "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastSent *scanStatusResponse
	for {
		resp, ok := s.loadStatus(r.Context(), scanID)
		if !ok {
			_ = conn.WriteJSON(map[string]string{"error": "scan not found"})
			return
		}
		if lastSent == nil || *resp != *lastSent {
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			lastSent = resp
		}
		if model.ScanStatus(resp.Status).Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
