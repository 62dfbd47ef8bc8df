package lock

import (
	"context"
	"log/slog"
)

// FallbackStore delegates to the durable store and degrades to the
// in-memory store when it is unreachable, so an unreachable database
// stalls exclusion guarantees rather than the whole pipeline. Strict
// mode turns that tradeoff off and surfaces the storage error instead.
type FallbackStore struct {
	primary  Store
	fallback Store
	strict   bool
}

func NewFallbackStore(primary Store, fallback Store, strict bool) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback, strict: strict}
}

func (s *FallbackStore) Acquire(ctx context.Context, taskType, description string) (*AcquireResult, error) {
	res, err := s.primary.Acquire(ctx, taskType, description)
	if err == nil {
		return res, nil
	}
	if s.strict {
		return nil, err
	}
	slog.WarnContext(ctx, "lock store unreachable, falling back to memory", "taskType", taskType, "error", err)
	return s.fallback.Acquire(ctx, taskType, description)
}

func (s *FallbackStore) Release(ctx context.Context, taskType string) error {
	err := s.primary.Release(ctx, taskType)
	if err == nil {
		return s.fallback.Release(ctx, taskType)
	}
	if s.strict {
		return err
	}
	slog.WarnContext(ctx, "lock store unreachable on release", "taskType", taskType, "error", err)
	return s.fallback.Release(ctx, taskType)
}

func (s *FallbackStore) Heartbeat(ctx context.Context, taskType, currentItem string, processed, total int) error {
	err := s.primary.Heartbeat(ctx, taskType, currentItem, processed, total)
	if err == nil {
		return nil
	}
	if s.strict {
		return err
	}
	return s.fallback.Heartbeat(ctx, taskType, currentItem, processed, total)
}

func (s *FallbackStore) Status(ctx context.Context, taskType string) (*Info, error) {
	info, err := s.primary.Status(ctx, taskType)
	if err == nil {
		return info, nil
	}
	if s.strict {
		return nil, err
	}
	return s.fallback.Status(ctx, taskType)
}

func (s *FallbackStore) RequestStop(ctx context.Context, taskType string) error {
	err := s.primary.RequestStop(ctx, taskType)
	if err == nil {
		return nil
	}
	if s.strict {
		return err
	}
	return s.fallback.RequestStop(ctx, taskType)
}
