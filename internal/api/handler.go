// Package api is the thin HTTP shell over the trigger operations. All
// orchestration semantics live in the trigger manager; this layer only
// decodes, validates and maps results to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/domain"
	"github.com/Agroasys/Agroasys.Web3layer-sub000/internal/trigger"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TriggerService is the subset of the trigger manager the transport needs.
type TriggerService interface {
	ExecuteTrigger(ctx context.Context, tradeID int64, requestID string, typ domain.TriggerType) (trigger.Result, error)
	ResumeAfterApproval(ctx context.Context, idempotencyKey, actor string) (trigger.Result, error)
	RejectPendingTrigger(ctx context.Context, idempotencyKey, actor, reason string) (trigger.Result, error)
}

type Store interface {
	GetTriggerByIdempotencyKey(ctx context.Context, key string) (domain.Trigger, error)
	ListTriggersByTrade(ctx context.Context, tradeID int64, limit, offset int) ([]domain.Trigger, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	service TriggerService
	store   Store
	db      HealthChecker
}

func NewHandler(service TriggerService, store Store) *Handler {
	return &Handler{service: service, store: store}
}

// WithHealthChecker sets the database health checker for verbose /health
// responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/triggers" && r.Method == http.MethodPost:
		h.executeTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && strings.HasSuffix(path, "/approve") && r.Method == http.MethodPost:
		h.approveTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && strings.HasSuffix(path, "/reject") && r.Method == http.MethodPost:
		h.rejectTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodGet:
		h.getTrigger(w, r)

	case strings.HasPrefix(path, "/trades/") && strings.HasSuffix(path, "/triggers") && r.Method == http.MethodGet:
		h.listTradeTriggers(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) executeTrigger(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateExecuteTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ExecuteTrigger(r.Context(), req.TradeID, req.RequestID, domain.TriggerType(req.TriggerType))
	if err != nil {
		log.Printf("api: execute trigger trade=%d type=%s: %v", req.TradeID, req.TriggerType, err)
		writeError(w, http.StatusInternalServerError, "trigger execution failed")
		return
	}

	writeJSON(w, resultStatusCode(result), toResultResponse(result))
}

func (h *Handler) approveTrigger(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/triggers/"), "/approve")
	if key == "" {
		writeError(w, http.StatusBadRequest, "idempotency key is required")
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateApproval(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ResumeAfterApproval(r.Context(), key, req.Actor)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: approve trigger %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "approval failed")
		return
	}

	writeJSON(w, resultStatusCode(result), toResultResponse(result))
}

func (h *Handler) rejectTrigger(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/triggers/"), "/reject")
	if key == "" {
		writeError(w, http.StatusBadRequest, "idempotency key is required")
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateApproval(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.RejectPendingTrigger(r.Context(), key, req.Actor, req.Reason)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: reject trigger %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "rejection failed")
		return
	}

	writeJSON(w, resultStatusCode(result), toResultResponse(result))
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/triggers/")
	if key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	t, err := h.store.GetTriggerByIdempotencyKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, trigger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: get trigger %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) listTradeTriggers(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/trades/"), "/triggers")
	tradeID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || tradeID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid trade id")
		return
	}

	limit, offset := parsePagination(r)

	triggers, err := h.store.ListTriggersByTrade(r.Context(), tradeID, limit, offset)
	if err != nil {
		log.Printf("api: list triggers trade=%d: %v", tradeID, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, 0, len(triggers))}
	for _, t := range triggers {
		resp.Triggers = append(resp.Triggers, toTriggerResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// resultStatusCode maps a trigger result to an HTTP status. Every result is
// a definitive answer about the operation, so everything maps into 2xx
// except terminal failures, which are the caller's problem to fix.
func resultStatusCode(r trigger.Result) int {
	switch r.Status {
	case domain.TriggerStatusTerminalFailure:
		return http.StatusUnprocessableEntity
	case domain.TriggerStatusPendingApproval:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = DefaultLimit
	offset = 0

	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, ErrorResponse{Error: msg})
}
