// Package maintenance repairs the work item store: completed items
// that ended up empty, items orphaned by crashed workers, and
// duplicate ingestions of the same content. Every pass is planned
// first; execution deletes chunks before their items and is idempotent.
package maintenance

import (
	"context"
	"time"
)

// Candidate is one work item under consideration for cleanup.
type Candidate struct {
	ID           string    `json:"id"`
	PipelineType string    `json:"pipelineType"`
	ExternalKey  string    `json:"externalKey"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	ChunkCount   int       `json:"chunkCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PlanEntry is one planned deletion with its reason.
type PlanEntry struct {
	Candidate
	Reason string `json:"reason"`
}

type Plan struct {
	Entries     []PlanEntry `json:"entries"`
	TotalChunks int         `json:"totalChunks"`
}

type Result struct {
	ItemsDeleted  int `json:"itemsDeleted"`
	ChunksDeleted int `json:"chunksDeleted"`
}

type Repository interface {
	EmptyCompleted(ctx context.Context) ([]Candidate, error)
	// Orphaned returns non-terminal items whose last update is before
	// the cutoff.
	Orphaned(ctx context.Context, cutoff time.Time) ([]Candidate, error)
	Completed(ctx context.Context) ([]Candidate, error)
	// DeleteItems removes the items and their chunk rows, chunks first,
	// in one transaction.
	DeleteItems(ctx context.Context, ids []string) (itemsDeleted, chunksDeleted int64, err error)
}
