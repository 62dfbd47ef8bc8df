package app

import (
	"context"

	"pulpit/internal/worker"
)

// MockVectorStore is a configurable VectorStore used by bootstrap and
// wiring tests.
type MockVectorStore struct {
	EnsureSchemaErr error
	ReplaceErr      error
	DeleteErr       error
	Count           int
	CountErr        error
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error {
	return m.EnsureSchemaErr
}

func (m *MockVectorStore) ReplaceChunks(ctx context.Context, pipelineType, itemKey string, chunks []worker.Chunk) error {
	return m.ReplaceErr
}

func (m *MockVectorStore) DeleteChunksByItem(ctx context.Context, pipelineType, itemKey string) error {
	return m.DeleteErr
}

func (m *MockVectorStore) CountChunks(ctx context.Context, pipelineType string) (int, error) {
	return m.Count, m.CountErr
}
