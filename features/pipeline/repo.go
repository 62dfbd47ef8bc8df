package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"pulpit/internal/worker"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) InsertIfAbsent(ctx context.Context, item *Item) (bool, error) {
	query := `
		INSERT INTO work_items (pipeline_type, external_key, title, media_url, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (pipeline_type, external_key) DO NOTHING
		RETURNING id, discovered_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, item.PipelineType, item.ExternalKey, item.Title, item.MediaURL).
		Scan(&item.ID, &item.DiscoveredAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert work item: %w", err)
	}
	item.Status = StatusPending
	return true, nil
}

func (r *PostgresRepo) KnownKeys(ctx context.Context, pipelineType string) (map[string]bool, error) {
	query := `SELECT external_key FROM work_items WHERE pipeline_type = $1`
	rows, err := r.db.QueryContext(ctx, query, pipelineType)
	if err != nil {
		return nil, fmt.Errorf("list known keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, pipelineType string, statuses []string, limit int) ([]Item, error) {
	query := `
		SELECT id, pipeline_type, external_key, title, media_url, status, attempt_count, chunk_count, COALESCE(last_error, ''), discovered_at, updated_at
		FROM work_items
		WHERE pipeline_type = $1 AND status = ANY($2)
		ORDER BY external_key ASC
		LIMIT $3`

	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryContext(ctx, query, pipelineType, pq.Array(statuses), limit)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PipelineType, &it.ExternalKey, &it.Title, &it.MediaURL,
			&it.Status, &it.AttemptCount, &it.ChunkCount, &it.LastError, &it.DiscoveredAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, pipelineType, externalKey string) error {
	query := `
		UPDATE work_items SET status = 'processing', updated_at = NOW()
		WHERE pipeline_type = $1 AND external_key = $2 AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, pipelineType, externalKey); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (r *PostgresRepo) CompleteWithChunks(ctx context.Context, pipelineType, externalKey, title string, attempts int, chunks []worker.Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin completion tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var itemID string
	query := `
		UPDATE work_items
		SET status = 'completed', title = $3, attempt_count = $4, chunk_count = $5, last_error = NULL, updated_at = NOW()
		WHERE pipeline_type = $1 AND external_key = $2
		RETURNING id`
	if err := tx.QueryRowContext(ctx, query, pipelineType, externalKey, title, attempts, len(chunks)).Scan(&itemID); err != nil {
		return fmt.Errorf("complete work item: %w", err)
	}

	// Replace, never append: a retried item must not keep partial
	// chunks from an earlier attempt.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("clear prior chunks: %w", err)
	}

	insert := `
		INSERT INTO chunks (item_id, ordinal, content, anchor_start, anchor_end, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, c := range chunks {
		var embedding []byte
		if c.Vector != nil {
			embedding, err = json.Marshal(c.Vector)
			if err != nil {
				return fmt.Errorf("encode embedding: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, insert, itemID, c.Ordinal, c.Content, c.AnchorStart, c.AnchorEnd, embedding); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, pipelineType, externalKey, lastError string, attempts int) error {
	query := `
		UPDATE work_items SET status = 'failed', last_error = $3, attempt_count = $4, updated_at = NOW()
		WHERE pipeline_type = $1 AND external_key = $2`
	if _, err := r.db.ExecContext(ctx, query, pipelineType, externalKey, lastError, attempts); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ClearPlaceholders(ctx context.Context, pipelineType string) (int64, error) {
	query := `DELETE FROM work_items WHERE pipeline_type = $1 AND status IN ('pending', 'failed')`
	res, err := r.db.ExecContext(ctx, query, pipelineType)
	if err != nil {
		return 0, fmt.Errorf("clear placeholders: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) Counts(ctx context.Context, pipelineType string) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(chunk_count), 0)
		FROM work_items
		WHERE ($1 = '' OR pipeline_type = $1)`
	err := r.db.QueryRowContext(ctx, query, pipelineType).Scan(
		&stats.TotalItems, &stats.CompletedItems, &stats.PendingItems, &stats.FailedItems, &stats.TotalChunks)
	if err != nil {
		return nil, fmt.Errorf("count work items: %w", err)
	}
	return stats, nil
}
