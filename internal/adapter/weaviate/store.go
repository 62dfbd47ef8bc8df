package weaviate

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"pulpit/internal/vector"
	"pulpit/internal/worker"
)

const className = "ContentChunk"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// EnsureSchema creates the chunk class (and any missing properties) if
// the Weaviate instance does not have it yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateClientAdapter(s.client))
}

func (s *Store) ReplaceChunks(ctx context.Context, pipelineType, itemKey string, chunks []worker.Chunk) error {
	if err := s.DeleteChunksByItem(ctx, pipelineType, itemKey); err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}
	for _, chunk := range chunks {
		if err := s.storeChunk(ctx, chunk); err != nil {
			return fmt.Errorf("store chunk %d: %w", chunk.Ordinal, err)
		}
	}
	return nil
}

func (s *Store) storeChunk(ctx context.Context, chunk worker.Chunk) error {
	_, err := s.client.Data().Creator().
		WithClassName(className).
		WithProperties(map[string]interface{}{
			"content":     chunk.Content,
			"itemKey":     chunk.ItemKey,
			"pipeline":    chunk.PipelineType,
			"ordinal":     chunk.Ordinal,
			"title":       chunk.Title,
			"anchorStart": chunk.AnchorStart,
			"anchorEnd":   chunk.AnchorEnd,
		}).
		WithVector(chunk.Vector).
		Do(ctx)
	return err
}

func (s *Store) DeleteChunksByItem(ctx context.Context, pipelineType, itemKey string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"pipeline"}).
					WithOperator(filters.Equal).
					WithValueString(pipelineType),
				filters.Where().
					WithPath([]string{"itemKey"}).
					WithOperator(filters.Equal).
					WithValueString(itemKey),
			})).
		Do(ctx)
	return err
}

func (s *Store) CountChunks(ctx context.Context, pipelineType string) (int, error) {
	agg := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})

	if pipelineType != "" {
		agg = agg.WithWhere(filters.Where().
			WithPath([]string{"pipeline"}).
			WithOperator(filters.Equal).
			WithValueString(pipelineType))
	}

	res, err := agg.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[className].([]interface{}); ok && len(rows) > 0 {
			if props, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := props["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
