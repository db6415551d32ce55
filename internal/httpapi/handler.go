// Package httpapi implements the HTTP surface of the ingestion service.
//
// Routes:
//
//	GET /sync?role=&type=   → run one manual ingestion cycle
//	GET /sync/status        → scheduler state, last cycle, quota window
//	GET /ws                 → live newJobAvailable event stream
//	GET /health             → liveness
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/model"
	"jobboard/ingestion-service/internal/quota"
	"jobboard/ingestion-service/internal/scheduler"
)

// Syncer is the part of scheduler.Scheduler the handlers drive.
type Syncer interface {
	Trigger(ctx context.Context, q model.Query, trigger scheduler.Trigger) (scheduler.Cycle, error)
	Status() scheduler.Status
}

// QuotaReporter exposes the current quota window.
type QuotaReporter interface {
	Snapshot() quota.Window
}

// Handler holds shared dependencies.
type Handler struct {
	sync        Syncer
	quota       QuotaReporter
	ws          http.HandlerFunc
	defaultRole string
	defaultType model.EmploymentType
	service     string
	version     string
	sessions    func() int
	log         *zap.SugaredLogger
}

// Config carries the handler's static settings.
type Config struct {
	DefaultRole string
	Service     string
	Version     string
	Sessions    func() int // open live sessions, reported by /sync/status
}

// NewHandler returns a configured Handler. ws serves the /ws upgrade.
func NewHandler(s Syncer, q QuotaReporter, ws http.HandlerFunc, cfg Config, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "Software Engineer"
	}
	return &Handler{
		sync:        s,
		quota:       q,
		ws:          ws,
		defaultRole: cfg.DefaultRole,
		defaultType: model.EmploymentFullTime,
		service:     cfg.Service,
		version:     cfg.Version,
		sessions:    cfg.Sessions,
		log:         log,
	}
}

// RegisterRoutes mounts all ingestion-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/sync", h.handleSync)
	mux.HandleFunc("/sync/status", h.handleStatus)
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/health", h.handleHealth)
}

// SyncResponse is the body of a completed manual cycle.
type SyncResponse struct {
	Message string          `json:"message"`
	Cycle   scheduler.Cycle `json:"cycle"`
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	scheduler.Status
	Quota     quota.Window `json:"quota"`
	Remaining int          `json:"remaining"`
	Sessions  int          `json:"sessions"`
}

// handleSync handles GET /sync?role=<string>&type=<INTERN|FULLTIME|...>
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := model.Query{Role: strings.TrimSpace(r.URL.Query().Get("role")), EmploymentType: h.defaultType}
	if q.Role == "" {
		q.Role = h.defaultRole
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		et, err := model.ParseEmploymentType(raw)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.EmploymentType = et
	}

	cycle, err := h.sync.Trigger(r.Context(), q, scheduler.TriggerManual)
	if err != nil {
		code := statusFor(cycle, err)
		if code >= http.StatusInternalServerError {
			h.log.Warnw("Manual sync failed", "query", q.String(), "status", code, "error", err.Error())
		}
		jsonErrorCycle(w, err.Error(), code, cycle)
		return
	}

	jsonOK(w, SyncResponse{
		Message: fmt.Sprintf("Sync complete for %s: %d new job(s) added, %d already known", q, cycle.Inserted, cycle.Skipped),
		Cycle:   cycle,
	})
}

// statusFor maps a failed trigger to its HTTP status code.
func statusFor(cycle scheduler.Cycle, err error) int {
	switch {
	case errors.IsAny(err, scheduler.ErrCycleRunning, scheduler.ErrCoolingDown):
		return http.StatusConflict
	case cycle.Outcome == scheduler.OutcomeQuotaExhausted:
		return http.StatusTooManyRequests
	case cycle.Outcome == scheduler.OutcomeProviderError:
		return http.StatusBadGateway
	case cycle.Outcome == scheduler.OutcomeStoreError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleStatus handles GET /sync/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	win := h.quota.Snapshot()
	resp := StatusResponse{
		Status:    h.sync.Status(),
		Quota:     win,
		Remaining: win.Remaining(),
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions()
	}
	jsonOK(w, resp)
}

// handleWS handles GET /ws
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		jsonError(w, "live updates disabled", http.StatusNotFound)
		return
	}
	h.ws(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": h.service,
		"version": h.version,
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// jsonErrorCycle is jsonError plus the cycle record, when one was started.
func jsonErrorCycle(w http.ResponseWriter, msg string, code int, cycle scheduler.Cycle) {
	if cycle.ID == 0 {
		jsonError(w, msg, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Error string          `json:"error"`
		Cycle scheduler.Cycle `json:"cycle"`
	}{msg, cycle})
}
