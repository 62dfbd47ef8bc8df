package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"pulpit/internal/middleware"
)

// MaintenanceRunner is implemented by the maintenance service: plan a
// cleanup pass and optionally execute it.
type MaintenanceRunner interface {
	RunMaintenance(ctx context.Context, execute bool) error
}

// MaintenanceConsumer reacts to maintenance.trigger events published by
// an external scheduler.
type MaintenanceConsumer struct {
	runner  MaintenanceRunner
	timeout time.Duration
}

func NewMaintenanceConsumer(runner MaintenanceRunner) *MaintenanceConsumer {
	return &MaintenanceConsumer{runner: runner, timeout: 10 * time.Minute}
}

func (h *MaintenanceConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload MaintenanceTriggerEvent
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	execute := payload.Mode != "preview"
	slog.InfoContext(ctx, "maintenance trigger received", "execute", execute)

	if err := h.runner.RunMaintenance(ctx, execute); err != nil {
		slog.ErrorContext(ctx, "maintenance run failed", "error", err)
		return err // Retry
	}
	return nil
}
