package worker

import (
	"context"
)

// Chunk is one retrievable segment of an item's extracted content.
// AnchorStart/AnchorEnd are minutes into a recording or page numbers of
// a scan, depending on the pipeline.
type Chunk struct {
	PipelineType string
	ItemKey      string
	Title        string
	Ordinal      int
	Content      string
	AnchorStart  float64
	AnchorEnd    float64
	Vector       []float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	// ReplaceChunks removes whatever chunks the item had before and
	// stores the new set, so a retried item never leaves stale vectors.
	ReplaceChunks(ctx context.Context, pipelineType, itemKey string, chunks []Chunk) error
	DeleteChunksByItem(ctx context.Context, pipelineType, itemKey string) error
	CountChunks(ctx context.Context, pipelineType string) (int, error)
}
