package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pulpit/features/lock"
	"pulpit/internal/adapter/boundary"
	"pulpit/internal/config"
	"pulpit/internal/worker"
)

var (
	ErrLockHeld        = errors.New("ingestion lock held")
	ErrUnknownPipeline = errors.New("unknown pipeline type")
)

// LockHeldError carries the current holder for caller messaging.
type LockHeldError struct {
	Holder *lock.Info
}

func (e *LockHeldError) Error() string {
	if e.Holder == nil {
		return "another ingestion run is in progress"
	}
	return fmt.Sprintf("another ingestion run is in progress: %s (%d minutes elapsed)",
		e.Holder.Description, e.Holder.ElapsedMinutes(time.Now()))
}

func (e *LockHeldError) Is(target error) bool { return target == ErrLockHeld }

// Pipeline is one content pipeline's wiring: where its listing lives,
// how its content is extracted, and whether a boundary classifier
// trims the raw extraction.
type Pipeline struct {
	Def        config.PipelineDef
	Extractor  Extractor
	Classifier boundary.Classifier
}

type Service struct {
	repo      Repository
	locks     lock.Store
	scanner   *Scanner
	processor *Processor
	vectors   worker.VectorStore
	pipelines map[string]Pipeline

	newLister func(def config.PipelineDef) Lister
}

func NewService(repo Repository, locks lock.Store, scanner *Scanner, processor *Processor, vectors worker.VectorStore, pipelines map[string]Pipeline, pageTimeout time.Duration) *Service {
	return &Service{
		repo:      repo,
		locks:     locks,
		scanner:   scanner,
		processor: processor,
		vectors:   vectors,
		pipelines: pipelines,
		newLister: func(def config.PipelineDef) Lister {
			return NewHTMLLister(def, pageTimeout)
		},
	}
}

// Scan diffs the external listing and persists new pending items.
// listURL, when set, overrides the configured listing location for this
// pass only.
func (s *Service) Scan(ctx context.Context, taskType, listURL string, opts ScanOptions) (*ScanResult, error) {
	pl, ok := s.pipelines[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, taskType)
	}

	def := pl.Def
	if listURL != "" {
		def.ListURL = listURL
	}

	slog.InfoContext(ctx, "starting scan", "pipeline", taskType, "fullRescan", opts.FullRescan)
	return s.scanner.Scan(ctx, taskType, s.newLister(def), opts)
}

// Process acquires the task lock and runs pending items through the
// processor. A held lock declines the request; the caller decides
// whether to retry.
func (s *Service) Process(ctx context.Context, taskType string, maxItems int) (*ProcessResult, error) {
	pl, ok := s.pipelines[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, taskType)
	}

	acquired, err := s.locks.Acquire(ctx, taskType, fmt.Sprintf("%s ingestion run", taskType))
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired.Granted {
		return nil, &LockHeldError{Holder: acquired.Holder}
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), taskType); err != nil {
			slog.ErrorContext(ctx, "failed to release lock", "pipeline", taskType, "error", err)
		}
	}()

	slog.InfoContext(ctx, "starting processing run", "pipeline", taskType, "maxItems", maxItems)
	return s.processor.Run(ctx, taskType, pl.Extractor, pl.Classifier, maxItems)
}

// Stats aggregates item counts from the relational store and chunk
// counts from the vector store. Empty taskType covers all pipelines.
func (s *Service) Stats(ctx context.Context, taskType string) (*Stats, error) {
	if taskType != "" {
		if _, ok := s.pipelines[taskType]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, taskType)
		}
	}

	stats, err := s.repo.Counts(ctx, taskType)
	if err != nil {
		return nil, err
	}

	embedded, err := s.vectors.CountChunks(ctx, taskType)
	if err != nil {
		slog.WarnContext(ctx, "failed to count embedded chunks", "pipeline", taskType, "error", err)
	} else {
		stats.EmbeddedChunks = embedded
	}
	return stats, nil
}
