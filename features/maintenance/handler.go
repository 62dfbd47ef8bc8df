package maintenance

import (
	"context"
	"encoding/json"
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

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if action := r.URL.Query().Get("action"); action != "" && action != "analyze" {
		h.writeError(ctx, w, "INVALID_REQUEST", "action must be 'analyze'", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "maintenance analysis requested", "correlationId", middleware.GetCorrelationID(ctx))

	plan, err := h.service.Analyze(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "maintenance analysis failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.encode(ctx, w, plan)
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "preview"
	}
	if mode != "preview" && mode != "execute" {
		h.writeError(ctx, w, "INVALID_REQUEST", "mode must be 'preview' or 'execute'", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "maintenance cleanup requested", "mode", mode, "correlationId", middleware.GetCorrelationID(ctx))

	plan, result, err := h.service.Run(ctx, mode == "execute")
	if err != nil {
		slog.ErrorContext(ctx, "maintenance cleanup failed", "mode", mode, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if mode == "preview" {
		h.encode(ctx, w, plan)
		return
	}
	h.encode(ctx, w, result)
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
