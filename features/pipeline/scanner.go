package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

type ScanOptions struct {
	StartKey   string
	EndKey     string
	MaxPages   int
	FullRescan bool
}

// Scanner diffs the external listing against known work items and
// persists new keys as pending. The listing is assumed
// reverse-chronological, so an incremental pass stops at the first page
// that contains an already-known key.
type Scanner struct {
	repo     Repository
	maxPages int
}

func NewScanner(repo Repository, maxPages int) *Scanner {
	return &Scanner{repo: repo, maxPages: maxPages}
}

func (s *Scanner) Scan(ctx context.Context, pipelineType string, lister Lister, opts ScanOptions) (*ScanResult, error) {
	if opts.FullRescan {
		cleared, err := s.repo.ClearPlaceholders(ctx, pipelineType)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "cleared placeholders for full rescan", "pipeline", pipelineType, "cleared", cleared)
	}

	known, err := s.repo.KnownKeys(ctx, pipelineType)
	if err != nil {
		return nil, err
	}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = s.maxPages
	}

	result := &ScanResult{}
	seen := make(map[string]bool)

scan:
	for page := 1; page <= maxPages; page++ {
		entries, err := lister.Page(ctx, page)
		if err != nil {
			// A failed or timed-out page ends the pass with partial
			// results instead of retrying indefinitely.
			slog.WarnContext(ctx, "listing page failed, stopping scan", "pipeline", pipelineType, "page", page, "error", err)
			break
		}
		if len(entries) == 0 {
			break
		}

		sawKnown := false
		for _, entry := range entries {
			if seen[entry.Key] {
				continue
			}
			seen[entry.Key] = true

			if opts.StartKey != "" && strings.Compare(entry.Key, opts.StartKey) > 0 {
				continue
			}
			if opts.EndKey != "" && strings.Compare(entry.Key, opts.EndKey) < 0 {
				// Reverse-chronological listing: everything after this
				// is older still.
				break scan
			}

			if known[entry.Key] {
				sawKnown = true
				continue
			}

			item := &Item{
				PipelineType: pipelineType,
				ExternalKey:  entry.Key,
				Title:        entry.Title,
				MediaURL:     entry.MediaURL,
			}
			created, err := s.repo.InsertIfAbsent(ctx, item)
			if err != nil {
				slog.WarnContext(ctx, "failed to save discovered item", "pipeline", pipelineType, "key", entry.Key, "error", err)
				continue
			}
			if created {
				result.NewSaved++
				result.Items = append(result.Items, *item)
			}
		}

		if !opts.FullRescan && sawKnown {
			break
		}
	}

	counts, err := s.repo.Counts(ctx, pipelineType)
	if err != nil {
		return nil, err
	}
	result.Total = counts.TotalItems
	result.Pending = counts.PendingItems
	result.Completed = counts.CompletedItems
	return result, nil
}
