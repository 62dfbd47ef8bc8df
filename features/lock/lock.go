// Package lock serializes ingestion runs. One lock row exists per task
// type; acquisition is atomic in the durable store so concurrent runs on
// separate instances cannot both win. Expiry is a read-time policy: any
// status read reclaims a lock whose holder stopped heartbeating past the
// timeout.
package lock

import (
	"context"
	"time"
)

type Info struct {
	TaskType       string    `json:"taskType"`
	LockID         string    `json:"lockId,omitempty"`
	IsActive       bool      `json:"-"`
	StartedAt      time.Time `json:"startedAt"`
	Description    string    `json:"description,omitempty"`
	CurrentItem    string    `json:"currentItem,omitempty"`
	ProcessedCount int       `json:"processedCount"`
	TotalCount     int       `json:"totalCount"`
	StopRequested  bool      `json:"stopRequested"`
}

// ElapsedMinutes reports how long the holder has been running.
func (i *Info) ElapsedMinutes(now time.Time) int {
	return int(now.Sub(i.StartedAt).Minutes())
}

type AcquireResult struct {
	Granted bool
	LockID  string
	Holder  *Info
}

type Store interface {
	// Acquire grants the lock if no active, non-expired lock exists for
	// the task type. When declined, Holder describes the current owner.
	Acquire(ctx context.Context, taskType, description string) (*AcquireResult, error)
	// Release clears the lock unconditionally and is idempotent.
	Release(ctx context.Context, taskType string) error
	// Heartbeat updates progress fields without touching activity.
	Heartbeat(ctx context.Context, taskType, currentItem string, processed, total int) error
	// Status returns nil when unlocked. An active lock older than the
	// timeout is cleared here and reported as unlocked.
	Status(ctx context.Context, taskType string) (*Info, error)
	// RequestStop flags the running processor to stop at the next item
	// boundary. Not a hard cancel.
	RequestStop(ctx context.Context, taskType string) error
}
