// Package pipeline implements the ingestion engine: scanning an
// external listing into pending work items and driving each item
// through extract, boundary detect, chunk, embed and persist. One
// engine serves every content pipeline; the per-type differences live
// behind the Extractor and boundary.Classifier interfaces.
package pipeline

import (
	"context"
	"time"

	"pulpit/internal/worker"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Item is one unit of ingestion: one recording, one scanned issue.
// Status only moves forward: pending -> processing -> completed|failed.
type Item struct {
	ID           string    `json:"id"`
	PipelineType string    `json:"pipelineType"`
	ExternalKey  string    `json:"externalKey"`
	Title        string    `json:"title,omitempty"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	Status       string    `json:"status"`
	AttemptCount int       `json:"attemptCount"`
	ChunkCount   int       `json:"chunkCount"`
	LastError    string    `json:"lastError,omitempty"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Repository interface {
	// InsertIfAbsent persists a newly discovered key as pending and
	// reports whether a row was created. An existing item's status is
	// never overwritten.
	InsertIfAbsent(ctx context.Context, item *Item) (bool, error)
	KnownKeys(ctx context.Context, pipelineType string) (map[string]bool, error)
	ListByStatus(ctx context.Context, pipelineType string, statuses []string, limit int) ([]Item, error)
	MarkProcessing(ctx context.Context, pipelineType, externalKey string) error
	// CompleteWithChunks replaces the item's chunk rows and marks it
	// completed in one transaction.
	CompleteWithChunks(ctx context.Context, pipelineType, externalKey, title string, attempts int, chunks []worker.Chunk) error
	MarkFailed(ctx context.Context, pipelineType, externalKey, lastError string, attempts int) error
	// ClearPlaceholders deletes pending and failed rows ahead of a full
	// rescan so they can be rediscovered fresh.
	ClearPlaceholders(ctx context.Context, pipelineType string) (int64, error)
	Counts(ctx context.Context, pipelineType string) (*Stats, error)
}

type ScanResult struct {
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Completed int    `json:"completed"`
	NewSaved  int    `json:"newSaved"`
	Items     []Item `json:"items"`
}

type ItemResult struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunkCount,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount"`
}

type ProcessResult struct {
	StoppedByUser  bool         `json:"stoppedByUser"`
	ProcessedCount int          `json:"processedCount"`
	RemainingCount int          `json:"remainingCount"`
	Results        []ItemResult `json:"results"`
}

type Stats struct {
	TotalItems     int `json:"totalItems"`
	CompletedItems int `json:"completedItems"`
	PendingItems   int `json:"pendingItems"`
	FailedItems    int `json:"failedItems"`
	TotalChunks    int `json:"totalChunks"`
	EmbeddedChunks int `json:"embeddedChunks"`
}
