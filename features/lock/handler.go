package lock

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"pulpit/internal/middleware"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type acquireRequest struct {
	TaskType    string `json:"taskType"`
	Description string `json:"description"`
}

func (h *Handler) Acquire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskType == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "taskType is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "acquiring lock", "taskType", req.TaskType, "correlationId", correlationID)

	res, err := h.store.Acquire(ctx, req.TaskType, req.Description)
	if err != nil {
		slog.ErrorContext(ctx, "failed to acquire lock", "taskType", req.TaskType, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !res.Granted {
		w.WriteHeader(http.StatusConflict)
		resp := map[string]interface{}{
			"granted": false,
			"message": "another run is in progress",
		}
		if res.Holder != nil {
			resp["holder"] = res.Holder.Description
			resp["elapsedMinutes"] = res.Holder.ElapsedMinutes(time.Now())
		}
		h.encode(ctx, w, resp)
		return
	}

	h.encode(ctx, w, map[string]interface{}{
		"granted": true,
		"lockId":  res.LockID,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskType := r.URL.Query().Get("taskType")
	if taskType == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "taskType is required", http.StatusBadRequest)
		return
	}

	info, err := h.store.Status(ctx, taskType)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read lock status", "taskType", taskType, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if info == nil {
		h.encode(ctx, w, map[string]interface{}{"locked": false})
		return
	}

	h.encode(ctx, w, map[string]interface{}{
		"locked":         true,
		"taskType":       info.TaskType,
		"description":    info.Description,
		"elapsedMinutes": info.ElapsedMinutes(time.Now()),
		"currentItem":    info.CurrentItem,
		"processedCount": info.ProcessedCount,
		"totalCount":     info.TotalCount,
		"stopRequested":  info.StopRequested,
	})
}

type progressRequest struct {
	Action         string `json:"action"`
	TaskType       string `json:"taskType"`
	CurrentItem    string `json:"currentItem"`
	ProcessedCount int    `json:"processedCount"`
	TotalCount     int    `json:"totalCount"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskType == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "taskType is required", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "progress":
		err = h.store.Heartbeat(ctx, req.TaskType, req.CurrentItem, req.ProcessedCount, req.TotalCount)
	case "stop":
		err = h.store.RequestStop(ctx, req.TaskType)
	default:
		h.writeError(ctx, w, "INVALID_REQUEST", "action must be 'progress' or 'stop'", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to update lock", "taskType", req.TaskType, "action", req.Action, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	h.encode(ctx, w, map[string]interface{}{"updated": true})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskType := r.URL.Query().Get("taskType")
	if taskType == "" {
		h.writeError(ctx, w, "INVALID_REQUEST", "taskType is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "releasing lock", "taskType", taskType, "correlationId", middleware.GetCorrelationID(ctx))

	if err := h.store.Release(ctx, taskType); err != nil {
		slog.ErrorContext(ctx, "failed to release lock", "taskType", taskType, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	h.encode(ctx, w, map[string]interface{}{"released": true})
}

func (h *Handler) encode(ctx context.Context, w http.ResponseWriter, v interface{}) {
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
