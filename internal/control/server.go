package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/ledgerflow/internal/checkpoint"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
	"github.com/vietddude/ledgerflow/internal/replay"
)

// ServerConfig holds the control server dependencies.
type ServerConfig struct {
	Port             int
	Engine           *replay.Engine
	Checkpoints      *checkpoint.Manager
	DefaultBatchSize int
	// Health reports component availability; "status" keys the verdict.
	Health func(ctx context.Context) map[string]string
	// BaseCtx scopes background replay sessions; falls back to Background.
	BaseCtx context.Context
	Log     *slog.Logger
}

// Server provides the HTTP control surface.
type Server struct {
	cfg    ServerConfig
	log    *slog.Logger
	server *http.Server
}

// NewServer creates the control server.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}

	mux := http.NewServeMux()
	s := &Server{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}

	mux.HandleFunc("POST /replays", s.handleStartReplay)
	mux.HandleFunc("GET /replays", s.handleListReplays)
	mux.HandleFunc("GET /replays/{id}", s.handleGetReplay)
	mux.HandleFunc("GET /replays/{id}/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("DELETE /replays/{id}", s.handleDeleteReplay)
	mux.HandleFunc("POST /checkpoints/cleanup", s.handleCleanupCheckpoints)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type replayRequest struct {
	Mode  string `json:"mode"`
	Range struct {
		Kind         string `json:"kind"`
		Start        uint64 `json:"start"`
		End          uint64 `json:"end"`
		CheckpointID string `json:"checkpoint_id"`
	} `json:"range"`
	Filter struct {
		ContractIDs []string `json:"contract_ids"`
		EventTypes  []string `json:"event_types"`
		Network     string   `json:"network"`
	} `json:"filter"`
	BatchSize int  `json:"batch_size"`
	DryRun    bool `json:"dry_run"`
	Verbose   bool `json:"verbose"`
}

func (s *Server) handleStartReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	cfg := domain.ReplayConfig{
		Mode: domain.ReplayMode(req.Mode),
		Range: domain.ReplayRange{
			Kind:         domain.RangeKind(req.Range.Kind),
			Start:        req.Range.Start,
			End:          req.Range.End,
			CheckpointID: req.Range.CheckpointID,
		},
		Filter: domain.ReplayFilter{
			ContractIDs: req.Filter.ContractIDs,
			EventTypes:  req.Filter.EventTypes,
			Network:     req.Filter.Network,
		},
		BatchSize: req.BatchSize,
		DryRun:    req.DryRun,
		Verbose:   req.Verbose,
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ReplayModeFull
	}
	if cfg.Range.Kind == "" {
		cfg.Range.Kind = domain.RangeAll
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = s.cfg.DefaultBatchSize
	}

	// Sessions outlive the request; scope them to the application context.
	meta, err := s.cfg.Engine.Start(s.cfg.BaseCtx, cfg)
	if err != nil {
		if errors.Is(err, replay.ErrInvalidRange) || errors.Is(err, storage.ErrCheckpointNotFound) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse(meta))
}

func (s *Server) handleListReplays(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := s.cfg.Engine.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, meta := range sessions {
		out = append(out, sessionResponse(meta))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReplay(w http.ResponseWriter, r *http.Request) {
	meta, err := s.cfg.Engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(meta))
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.cfg.Checkpoints.ListForSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(cps))
	for _, cp := range cps {
		out = append(out, map[string]any{
			"id":         cp.ID,
			"session_id": cp.SessionID,
			"type":       string(cp.Type),
			"ledger":     cp.Ledger,
			"state_hash": cp.StateHash,
			"created_at": cp.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Engine.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCleanupCheckpoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.RetentionDays <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("retention_days must be positive"))
		return
	}

	deleted, err := s.cfg.Checkpoints.CleanupOlderThan(r.Context(), time.Duration(req.RetentionDays)*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := map[string]string{"status": "ok"}
	if s.cfg.Health != nil {
		report = s.cfg.Health(r.Context())
	}

	code := http.StatusOK
	if report["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func sessionResponse(meta *domain.ReplayMetadata) map[string]any {
	out := map[string]any{
		"session_id":      meta.SessionID,
		"status":          string(meta.Status),
		"mode":            string(meta.Mode),
		"start_ledger":    meta.StartLedger,
		"end_ledger":      meta.EndLedger,
		"events_applied":  meta.EventsApplied,
		"events_skipped":  meta.EventsSkipped,
		"skipped_unknown": meta.SkippedUnknown,
		"chunks_verified": meta.ChunksVerified,
		"last_ledger":     meta.LastLedger,
		"started_at":      meta.StartedAt,
	}
	if meta.Error != "" {
		out["error"] = meta.Error
	}
	if meta.EndedAt != nil {
		out["ended_at"] = meta.EndedAt
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
