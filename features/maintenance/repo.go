package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type PostgresRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *PostgresRepo) EmptyCompleted(ctx context.Context) ([]Candidate, error) {
	query := r.candidateSelect().
		Where(sq.Eq{"status": "completed"}).
		Where(sq.Eq{"chunk_count": 0})
	return r.queryCandidates(ctx, query)
}

func (r *PostgresRepo) Orphaned(ctx context.Context, cutoff time.Time) ([]Candidate, error) {
	query := r.candidateSelect().
		Where(sq.Eq{"status": []string{"pending", "processing"}}).
		Where(sq.Lt{"updated_at": cutoff})
	return r.queryCandidates(ctx, query)
}

func (r *PostgresRepo) Completed(ctx context.Context) ([]Candidate, error) {
	query := r.candidateSelect().
		Where(sq.Eq{"status": "completed"}).
		Where(sq.Gt{"chunk_count": 0})
	return r.queryCandidates(ctx, query)
}

func (r *PostgresRepo) DeleteItems(ctx context.Context, ids []string) (int64, int64, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Chunks first so a failure can never leave orphaned chunk rows.
	chunkSQL, chunkArgs, err := r.sb.Delete("chunks").Where(sq.Eq{"item_id": ids}).ToSql()
	if err != nil {
		return 0, 0, err
	}
	chunkRes, err := tx.ExecContext(ctx, chunkSQL, chunkArgs...)
	if err != nil {
		return 0, 0, fmt.Errorf("delete chunks: %w", err)
	}
	chunksDeleted, _ := chunkRes.RowsAffected()

	itemSQL, itemArgs, err := r.sb.Delete("work_items").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, 0, err
	}
	itemRes, err := tx.ExecContext(ctx, itemSQL, itemArgs...)
	if err != nil {
		return 0, 0, fmt.Errorf("delete work items: %w", err)
	}
	itemsDeleted, _ := itemRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return itemsDeleted, chunksDeleted, nil
}

func (r *PostgresRepo) candidateSelect() sq.SelectBuilder {
	return r.sb.Select("id", "pipeline_type", "external_key", "COALESCE(title, '')", "status", "chunk_count", "updated_at").
		From("work_items").
		OrderBy("updated_at ASC")
}

func (r *PostgresRepo) queryCandidates(ctx context.Context, query sq.SelectBuilder) ([]Candidate, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.PipelineType, &c.ExternalKey, &c.Title, &c.Status, &c.ChunkCount, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
