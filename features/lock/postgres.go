package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout, now: time.Now}
}

// Acquire takes the lock in a single statement. The conditional upsert
// means N concurrent callers race inside Postgres and exactly one gets a
// row back; the rest see no row and read the holder for messaging.
func (s *PostgresStore) Acquire(ctx context.Context, taskType, description string) (*AcquireResult, error) {
	lockID := uuid.NewString()
	query := `
		INSERT INTO task_locks (task_type, lock_id, is_active, started_at, description, current_item, processed_count, total_count, stop_requested)
		VALUES ($1, $2, true, NOW(), $3, '', 0, 0, false)
		ON CONFLICT (task_type) DO UPDATE SET
			lock_id = EXCLUDED.lock_id,
			is_active = true,
			started_at = NOW(),
			description = EXCLUDED.description,
			current_item = '',
			processed_count = 0,
			total_count = 0,
			stop_requested = false
		WHERE task_locks.is_active = false
		   OR task_locks.started_at < NOW() - make_interval(mins => $4)
		RETURNING lock_id`

	var granted string
	err := s.db.QueryRowContext(ctx, query, taskType, lockID, description, int(s.timeout.Minutes())).Scan(&granted)
	if err == nil {
		return &AcquireResult{Granted: true, LockID: granted}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	holder, err := s.read(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("read lock holder: %w", err)
	}
	return &AcquireResult{Granted: false, Holder: holder}, nil
}

func (s *PostgresStore) Release(ctx context.Context, taskType string) error {
	query := `UPDATE task_locks SET is_active = false, stop_requested = false WHERE task_type = $1`
	if _, err := s.db.ExecContext(ctx, query, taskType); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, taskType, currentItem string, processed, total int) error {
	query := `UPDATE task_locks SET current_item = $2, processed_count = $3, total_count = $4 WHERE task_type = $1 AND is_active = true`
	if _, err := s.db.ExecContext(ctx, query, taskType, currentItem, processed, total); err != nil {
		return fmt.Errorf("lock heartbeat: %w", err)
	}
	return nil
}

func (s *PostgresStore) Status(ctx context.Context, taskType string) (*Info, error) {
	info, err := s.read(ctx, taskType)
	if err != nil {
		return nil, err
	}
	if info == nil || !info.IsActive {
		return nil, nil
	}
	if s.now().Sub(info.StartedAt) > s.timeout {
		if err := s.Release(ctx, taskType); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return info, nil
}

func (s *PostgresStore) RequestStop(ctx context.Context, taskType string) error {
	query := `UPDATE task_locks SET stop_requested = true WHERE task_type = $1 AND is_active = true`
	if _, err := s.db.ExecContext(ctx, query, taskType); err != nil {
		return fmt.Errorf("request stop: %w", err)
	}
	return nil
}

func (s *PostgresStore) read(ctx context.Context, taskType string) (*Info, error) {
	info := &Info{}
	query := `SELECT task_type, lock_id, is_active, started_at, description, current_item, processed_count, total_count, stop_requested
		FROM task_locks WHERE task_type = $1`
	err := s.db.QueryRowContext(ctx, query, taskType).Scan(
		&info.TaskType, &info.LockID, &info.IsActive, &info.StartedAt,
		&info.Description, &info.CurrentItem, &info.ProcessedCount,
		&info.TotalCount, &info.StopRequested,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return info, nil
}
