package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/cpf"
	"github.com/tisystems/user-sync-service/internal/ingestion"
	"github.com/tisystems/user-sync-service/internal/reconcile"
	"github.com/tisystems/user-sync-service/internal/storage"
)

const recentLimit = 50

// Server handles HTTP requests
type Server struct {
	config   config.Server
	storage  storage.Storage
	ingestor *ingestion.Service
	engine   *reconcile.Engine
	cpf      *cpf.Service
	server   *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Server, store storage.Storage, ingestor *ingestion.Service, engine *reconcile.Engine, cpfService *cpf.Service) *Server {
	s := &Server{
		config:   cfg,
		storage:  store,
		ingestor: ingestor,
		engine:   engine,
		cpf:      cpfService,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/sync/details", s.handleSyncDetails)
	mux.HandleFunc("/reconciliation", s.handleReconciliation)
	mux.HandleFunc("/reconciliation/summary", s.handleReconciliationSummary)
	mux.HandleFunc("/cpf/refresh", s.handleCPFRefresh)
	mux.HandleFunc("/cpf/run", s.handleCPFRun)
	mux.HandleFunc("/cpf/checks", s.handleCPFChecks)
	mux.HandleFunc("/cpf/logs", s.handleCPFLogs)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		// Sync runs block the request; generous write timeout.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSync triggers one full ingestion run and blocks until it finishes.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := s.ingestor.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"run":   run,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := s.storage.LatestSyncRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		http.Error(w, "No sync run yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSyncDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	details, err := s.storage.ListSyncDetails(r.Context(), recentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"details": details,
		"count":   len(details),
	})
}

// handleReconciliation evaluates the canonical records against every
// snapshot source. Filters: status (default Ativo), departamento, q
// (case-sensitive substring), div (keep only rows divergent for one source).
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = reconcile.ActiveStatus
	}
	filter := storage.DirectoryFilter{
		Department: r.URL.Query().Get("departamento"),
		Query:      r.URL.Query().Get("q"),
	}
	// "Ativo"/"Inativo" filter the canonical status; anything else means all.
	if status == "Ativo" || status == "Inativo" {
		filter.Status = status
	}

	divergent := strings.ToUpper(r.URL.Query().Get("div"))

	rows, err := s.engine.ListWithChecks(r.Context(), filter, divergent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":    rows,
		"total":   len(rows),
		"status":  status,
		"div":     divergent,
		"sources": reconcile.CheckedSources,
	})
}

func (s *Server) handleReconciliationSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.engine.DivergenceCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	departments, err := s.storage.ListDepartments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lastRun, err := s.storage.LatestSyncRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"divergences": counts,
		"departments": departments,
		"last_run":    lastRun,
	})
}

func (s *Server) handleCPFRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.cpf.RefreshCaches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCPFRun recomputes the checks and pushes the OK ones, so the push is
// always consistent with the persisted classification.
func (s *Server) handleCPFRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.cpf.RecomputeChecks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := s.cpf.PushOKMatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  stats,
		"result": result,
	})
}

func (s *Server) handleCPFChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks, err := s.storage.ListCPFChecks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checks": checks,
		"count":  len(checks),
	})
}

func (s *Server) handleCPFLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logs, err := s.storage.ListCPFLogs(r.Context(), recentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}
