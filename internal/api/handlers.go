package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// Check is one dependency probed by /readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// StatusFunc reports indexer progress for /v1/status.
type StatusFunc func(ctx context.Context) (any, error)

type Handler struct {
	checks []Check
	status StatusFunc
	logger *zap.SugaredLogger
}

func NewHandler(logger *zap.SugaredLogger, status StatusFunc, checks ...Check) *Handler {
	return &Handler{
		checks: checks,
		status: status,
		logger: logger,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Readyz pings every dependency concurrently and answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := readiness{Status: "ready", Checks: make(map[string]string, len(h.checks))}

	// Each check writes only its own slot.
	results := make([]error, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			results[i] = c.Ping(ctx)
			return nil
		})
	}
	g.Wait()

	for i, c := range h.checks {
		if err := results[i]; err != nil {
			h.logger.Warnw("Readiness check failed", "check", c.Name, "error", err)
			resp.Checks[c.Name] = err.Error()
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.writeError(w, http.StatusNotFound, "status not available")
		return
	}

	st, err := h.status(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to read indexer status", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warnw("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
