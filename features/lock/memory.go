package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps locks in process memory. Used directly in tests and
// as the degraded mode when the durable store is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]*Info
	timeout time.Duration
	now     func() time.Time
}

func NewMemoryStore(timeout time.Duration) *MemoryStore {
	return &MemoryStore{
		locks:   make(map[string]*Info),
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, taskType, description string) (*AcquireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.locks[taskType]; ok && cur.IsActive && s.now().Sub(cur.StartedAt) <= s.timeout {
		holder := *cur
		return &AcquireResult{Granted: false, Holder: &holder}, nil
	}

	lockID := uuid.NewString()
	s.locks[taskType] = &Info{
		TaskType:    taskType,
		LockID:      lockID,
		IsActive:    true,
		StartedAt:   s.now(),
		Description: description,
	}
	return &AcquireResult{Granted: true, LockID: lockID}, nil
}

func (s *MemoryStore) Release(ctx context.Context, taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, taskType)
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, taskType, currentItem string, processed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.locks[taskType]; ok && cur.IsActive {
		cur.CurrentItem = currentItem
		cur.ProcessedCount = processed
		cur.TotalCount = total
	}
	return nil
}

func (s *MemoryStore) Status(ctx context.Context, taskType string) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[taskType]
	if !ok || !cur.IsActive {
		return nil, nil
	}
	if s.now().Sub(cur.StartedAt) > s.timeout {
		delete(s.locks, taskType)
		return nil, nil
	}
	info := *cur
	return &info, nil
}

func (s *MemoryStore) RequestStop(ctx context.Context, taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.locks[taskType]; ok && cur.IsActive {
		cur.StopRequested = true
	}
	return nil
}
