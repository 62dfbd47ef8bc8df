package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pulpit/internal/worker"
)

type Service struct {
	repo      Repository
	vectors   worker.VectorStore
	orphanAge time.Duration
	now       func() time.Time
}

func NewService(repo Repository, vectors worker.VectorStore, orphanAge time.Duration) *Service {
	return &Service{
		repo:      repo,
		vectors:   vectors,
		orphanAge: orphanAge,
		now:       time.Now,
	}
}

// Analyze builds the cleanup plan. Reasons are assigned in priority
// order and each item appears at most once: empty completions first,
// then orphans, then duplicate groups where the member with the most
// chunks survives.
func (s *Service) Analyze(ctx context.Context) (*Plan, error) {
	plan := &Plan{Entries: []PlanEntry{}}
	planned := make(map[string]bool)

	empty, err := s.repo.EmptyCompleted(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range empty {
		s.addEntry(plan, planned, c, "completed but empty")
	}

	orphaned, err := s.repo.Orphaned(ctx, s.now().Add(-s.orphanAge))
	if err != nil {
		return nil, err
	}
	for _, c := range orphaned {
		s.addEntry(plan, planned, c, "orphaned, presumed crashed worker")
	}

	completed, err := s.repo.Completed(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range duplicateGroups(completed, planned) {
		keeper := group[0]
		for _, c := range group[1:] {
			reason := fmt.Sprintf("duplicate of %s (%d chunks retained)", keeper.ExternalKey, keeper.ChunkCount)
			s.addEntry(plan, planned, c, reason)
		}
	}

	return plan, nil
}

func (s *Service) addEntry(plan *Plan, planned map[string]bool, c Candidate, reason string) {
	if planned[c.ID] {
		return
	}
	planned[c.ID] = true
	plan.Entries = append(plan.Entries, PlanEntry{Candidate: c, Reason: reason})
	plan.TotalChunks += c.ChunkCount
}

// duplicateGroups clusters completed items by pipeline and normalized
// title. Each returned group is ordered keeper-first: highest chunk
// count, ties broken by most recent update.
func duplicateGroups(completed []Candidate, planned map[string]bool) [][]Candidate {
	byTitle := make(map[string][]Candidate)
	var order []string
	for _, c := range completed {
		if planned[c.ID] {
			continue
		}
		key := c.PipelineType + "\x00" + normalizeTitle(c.Title)
		if normalizeTitle(c.Title) == "" {
			continue
		}
		if _, ok := byTitle[key]; !ok {
			order = append(order, key)
		}
		byTitle[key] = append(byTitle[key], c)
	}

	var groups [][]Candidate
	for _, key := range order {
		group := byTitle[key]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].ChunkCount != group[j].ChunkCount {
				return group[i].ChunkCount > group[j].ChunkCount
			}
			return group[i].UpdatedAt.After(group[j].UpdatedAt)
		})
		groups = append(groups, group)
	}
	return groups
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Execute applies a plan. Chunks go before their items on both stores,
// and re-running on already-deleted items is a no-op.
func (s *Service) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if plan == nil || len(plan.Entries) == 0 {
		return &Result{}, nil
	}

	ids := make([]string, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		ids = append(ids, e.ID)
		if err := s.vectors.DeleteChunksByItem(ctx, e.PipelineType, e.ExternalKey); err != nil {
			slog.WarnContext(ctx, "failed to delete item vectors", "key", e.ExternalKey, "error", err)
		}
	}

	itemsDeleted, chunksDeleted, err := s.repo.DeleteItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "maintenance executed", "itemsDeleted", itemsDeleted, "chunksDeleted", chunksDeleted)
	return &Result{ItemsDeleted: int(itemsDeleted), ChunksDeleted: int(chunksDeleted)}, nil
}

// Run is the analyze-then-execute convenience used by the scheduled
// trigger. Preview mode stops after planning.
func (s *Service) Run(ctx context.Context, execute bool) (*Plan, *Result, error) {
	plan, err := s.Analyze(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !execute {
		return plan, nil, nil
	}
	result, err := s.Execute(ctx, plan)
	if err != nil {
		return plan, nil, err
	}
	return plan, result, nil
}
