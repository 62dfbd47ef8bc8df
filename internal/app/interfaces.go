package app

import (
	"context"

	"pulpit/internal/worker"
)

// Database is satisfied by *sql.DB. Kept as an interface so app
// construction can be exercised with sqlmock.
type Database interface {
	PingContext(ctx context.Context) error
	Close() error
}

// VectorStore is the chunk store surface the app wires together. The
// Weaviate adapter satisfies it.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	ReplaceChunks(ctx context.Context, pipelineType, itemKey string, chunks []worker.Chunk) error
	DeleteChunksByItem(ctx context.Context, pipelineType, itemKey string) error
	CountChunks(ctx context.Context, pipelineType string) (int, error)
}

// TaskPublisher is satisfied by *nsq.Producer.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}
