package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pulpit/features/lock"
	"pulpit/internal/adapter/boundary"
	"pulpit/internal/config"
	"pulpit/internal/middleware"
	"pulpit/internal/provider"
	"pulpit/internal/text"
	"pulpit/internal/worker"
)

// ErrDegenerate marks an attempt whose output cannot be persisted: zero
// chunks, or a detected boundary too short to be the real content.
// Retried with boundary detection disabled.
var ErrDegenerate = errors.New("degenerate extraction result")

type Publisher interface {
	Publish(topic string, body []byte) error
}

type ProcessorConfig struct {
	MaxAttempts      int
	MinBoundarySpan  float64
	MinConfidence    float64
	ChunkWindow      int
	ChunkOverlap     int
	ItemDelay        time.Duration
	RateLimitBackoff time.Duration
	RetryBackoff     time.Duration
}

// Processor drives pending items through extract, boundary detect,
// chunk, embed and persist. Items run sequentially to respect
// external-service rate limits.
type Processor struct {
	repo     Repository
	locks    lock.Store
	embedder worker.Embedder
	vectors  worker.VectorStore
	pub      Publisher
	cfg      ProcessorConfig

	// sleep is injectable so retry backoff is testable without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewProcessor(repo Repository, locks lock.Store, embedder worker.Embedder, vectors worker.VectorStore, pub Publisher, cfg ProcessorConfig) *Processor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Processor{
		repo:     repo,
		locks:    locks,
		embedder: embedder,
		vectors:  vectors,
		pub:      pub,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes up to maxItems pending items of the task type. The stop
// flag is checked at item boundaries only; an item in progress always
// runs to completion or exhausts its retries.
func (p *Processor) Run(ctx context.Context, taskType string, ext Extractor, clf boundary.Classifier, maxItems int) (*ProcessResult, error) {
	items, err := p.repo.ListByStatus(ctx, taskType, []string{StatusPending}, maxItems)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Results: []ItemResult{}}
	total := len(items)

	for i, item := range items {
		if st, serr := p.locks.Status(ctx, taskType); serr == nil && st != nil && st.StopRequested {
			slog.InfoContext(ctx, "stop requested, ending run", "pipeline", taskType, "processed", result.ProcessedCount)
			result.StoppedByUser = true
			result.RemainingCount = total - i
			break
		}

		result.Results = append(result.Results, p.processItem(ctx, item, ext, clf))
		result.ProcessedCount++

		if err := p.locks.Heartbeat(ctx, taskType, item.ExternalKey, result.ProcessedCount, total); err != nil {
			slog.WarnContext(ctx, "lock heartbeat failed", "pipeline", taskType, "error", err)
		}

		if i < total-1 {
			if err := p.sleep(ctx, p.cfg.ItemDelay); err != nil {
				result.RemainingCount = total - result.ProcessedCount
				break
			}
		}
	}

	// Pending items beyond this batch still count as remaining; the
	// batch-relative numbers above are only a fallback when the store
	// cannot be read (e.g. the context is already cancelled).
	if counts, err := p.repo.Counts(ctx, taskType); err == nil {
		result.RemainingCount = counts.PendingItems
	}

	return result, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, ext Extractor, clf boundary.Classifier) ItemResult {
	if err := p.repo.MarkProcessing(ctx, item.PipelineType, item.ExternalKey); err != nil {
		slog.WarnContext(ctx, "failed to mark item processing", "key", item.ExternalKey, "error", err)
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		chunkCount, err := p.attempt(ctx, item, ext, clf, attempt)
		if err == nil {
			slog.InfoContext(ctx, "item completed", "pipeline", item.PipelineType, "key", item.ExternalKey, "chunks", chunkCount, "attempt", attempt)
			return ItemResult{Key: item.ExternalKey, Status: StatusCompleted, ChunkCount: chunkCount, RetryCount: attempt - 1}
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		slog.WarnContext(ctx, "attempt failed, retrying", "pipeline", item.PipelineType, "key", item.ExternalKey, "attempt", attempt, "error", err)
		if attempt < p.cfg.MaxAttempts {
			if serr := p.sleep(ctx, p.backoff(lastErr, attempt)); serr != nil {
				break
			}
		}
	}

	msg := "processing failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	slog.ErrorContext(ctx, "item failed", "pipeline", item.PipelineType, "key", item.ExternalKey, "attempts", attempts, "error", msg)
	if err := p.repo.MarkFailed(ctx, item.PipelineType, item.ExternalKey, msg, attempts); err != nil {
		slog.ErrorContext(ctx, "failed to record item failure", "key", item.ExternalKey, "error", err)
	}
	return ItemResult{Key: item.ExternalKey, Status: StatusFailed, Error: msg, RetryCount: attempts - 1}
}

func (p *Processor) attempt(ctx context.Context, item Item, ext Extractor, clf boundary.Classifier, attempt int) (int, error) {
	title, segs, err := ext.Extract(ctx, item)
	if err != nil {
		return 0, err
	}

	// Boundary detection runs on the first attempt only. A retry uses
	// the full content so a bad detection cannot wedge the item.
	if clf != nil && attempt == 1 {
		r, err := clf.Detect(ctx, title, segs)
		if err != nil {
			return 0, err
		}
		if r != nil && r.Confidence >= p.cfg.MinConfidence && r.End > r.Start {
			filtered := text.FilterRange(segs, r.Start, r.End)
			if text.Span(filtered) < p.cfg.MinBoundarySpan {
				return 0, fmt.Errorf("%w: boundary span %.1f below minimum %.1f", ErrDegenerate, text.Span(filtered), p.cfg.MinBoundarySpan)
			}
			segs = filtered
		}
	}

	chunks := text.Window(segs, p.cfg.ChunkWindow, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: extraction produced no chunks", ErrDegenerate)
	}

	wchunks := make([]worker.Chunk, 0, len(chunks))
	for _, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Content)
		if err != nil {
			return 0, err
		}
		wchunks = append(wchunks, worker.Chunk{
			PipelineType: item.PipelineType,
			ItemKey:      item.ExternalKey,
			Title:        title,
			Ordinal:      c.Ordinal,
			Content:      c.Content,
			AnchorStart:  c.AnchorStart,
			AnchorEnd:    c.AnchorEnd,
			Vector:       vec,
		})
	}

	// Vector store first, relational commit second: if the relational
	// write fails the vectors get replaced again on the next attempt,
	// while the reverse order could commit an item whose vectors are
	// missing.
	if err := p.vectors.ReplaceChunks(ctx, item.PipelineType, item.ExternalKey, wchunks); err != nil {
		return 0, fmt.Errorf("store vectors: %w", err)
	}
	if err := p.repo.CompleteWithChunks(ctx, item.PipelineType, item.ExternalKey, title, attempt, wchunks); err != nil {
		return 0, fmt.Errorf("persist item: %w", err)
	}

	p.publishCompleted(ctx, item, title, len(wchunks))
	return len(wchunks), nil
}

// publishCompleted notifies index consumers after each item so the
// search index reflects partial progress during a long run.
func (p *Processor) publishCompleted(ctx context.Context, item Item, title string, chunkCount int) {
	if p.pub == nil {
		return
	}
	event := worker.ItemCompletedEvent{
		TaskType:      item.PipelineType,
		ExternalKey:   item.ExternalKey,
		Title:         title,
		ChunkCount:    chunkCount,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.pub.Publish(config.TopicItemCompleted, body); err != nil {
		slog.WarnContext(ctx, "failed to publish item completion", "key", item.ExternalKey, "error", err)
	}
}

func retryable(err error) bool {
	return errors.Is(err, provider.ErrRateLimited) ||
		errors.Is(err, provider.ErrTransient) ||
		errors.Is(err, ErrDegenerate)
}

// backoff picks the wait before the next attempt: rate limits get the
// long provider backoff, everything else backs off linearly with the
// attempt number.
func (p *Processor) backoff(err error, attempt int) time.Duration {
	if errors.Is(err, provider.ErrRateLimited) {
		return p.cfg.RateLimitBackoff
	}
	return p.cfg.RetryBackoff * time.Duration(attempt)
}
