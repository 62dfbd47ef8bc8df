package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"pulpit/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

type actionRequest struct {
	TaskType string `json:"taskType"`
	Action   string `json:"action"`
	Config   struct {
		ListURL  string `json:"listUrl"`
		StartKey string `json:"startKey"`
		EndKey   string `json:"endKey"`
		MaxPages int    `json:"maxPages"`
	} `json:"config"`
	FullRescan bool `json:"fullRescan"`
	MaxItems   int  `json:"maxItems"`
}

func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "INVALID_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.TaskType == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "taskType is required", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "scan":
		h.scan(ctx, w, req, correlationID)
	case "process":
		h.process(ctx, w, req, correlationID)
	default:
		h.writeError(ctx, w, "INVALID_REQUEST", "action must be 'scan' or 'process'", http.StatusBadRequest)
	}
}

func (h *Handler) scan(ctx context.Context, w http.ResponseWriter, req actionRequest, correlationID string) {
	slog.InfoContext(ctx, "scan requested", "taskType", req.TaskType, "correlationId", correlationID)

	result, err := h.service.Scan(ctx, req.TaskType, req.Config.ListURL, ScanOptions{
		StartKey:   req.Config.StartKey,
		EndKey:     req.Config.EndKey,
		MaxPages:   req.Config.MaxPages,
		FullRescan: req.FullRescan,
	})
	if err != nil {
		if errors.Is(err, ErrUnknownPipeline) {
			h.writeError(ctx, w, "UNKNOWN_PIPELINE", err.Error(), http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "scan failed", "taskType", req.TaskType, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if result.Items == nil {
		result.Items = []Item{}
	}
	h.encode(ctx, w, result)
}

func (h *Handler) process(ctx context.Context, w http.ResponseWriter, req actionRequest, correlationID string) {
	slog.InfoContext(ctx, "processing requested", "taskType", req.TaskType, "maxItems", req.MaxItems, "correlationId", correlationID)

	result, err := h.service.Process(ctx, req.TaskType, req.MaxItems)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPipeline):
			h.writeError(ctx, w, "UNKNOWN_PIPELINE", err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrLockHeld):
			h.writeError(ctx, w, "LOCK_HELD", err.Error(), http.StatusConflict)
		default:
			slog.ErrorContext(ctx, "processing failed", "taskType", req.TaskType, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.encode(ctx, w, result)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskType := r.URL.Query().Get("taskType")

	stats, err := h.service.Stats(ctx, taskType)
	if err != nil {
		if errors.Is(err, ErrUnknownPipeline) {
			h.writeError(ctx, w, "UNKNOWN_PIPELINE", err.Error(), http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to collect stats", "taskType", taskType, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.encode(ctx, w, stats)
}

func (h *Handler) encode(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
