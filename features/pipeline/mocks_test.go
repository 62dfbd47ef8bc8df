package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pulpit/internal/text"
	"pulpit/internal/worker"
)

// fakeRepo is an in-memory Repository that records status history per
// item so transition ordering can be asserted.
type fakeRepo struct {
	mu      sync.Mutex
	items   map[string]*Item
	chunks  map[string][]worker.Chunk
	history map[string][]string

	insertErr error
	countsErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:   make(map[string]*Item),
		chunks:  make(map[string][]worker.Chunk),
		history: make(map[string][]string),
	}
}

func itemKey(pipelineType, externalKey string) string {
	return pipelineType + "/" + externalKey
}

func (r *fakeRepo) InsertIfAbsent(ctx context.Context, item *Item) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return false, r.insertErr
	}
	k := itemKey(item.PipelineType, item.ExternalKey)
	if _, ok := r.items[k]; ok {
		return false, nil
	}
	saved := *item
	saved.Status = StatusPending
	saved.DiscoveredAt = time.Now()
	saved.UpdatedAt = saved.DiscoveredAt
	r.items[k] = &saved
	r.history[k] = append(r.history[k], StatusPending)
	item.Status = StatusPending
	return true, nil
}

func (r *fakeRepo) KnownKeys(ctx context.Context, pipelineType string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make(map[string]bool)
	for _, it := range r.items {
		if it.PipelineType == pipelineType {
			keys[it.ExternalKey] = true
		}
	}
	return keys, nil
}

func (r *fakeRepo) ListByStatus(ctx context.Context, pipelineType string, statuses []string, limit int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool)
	for _, s := range statuses {
		wanted[s] = true
	}
	var out []Item
	for _, it := range r.items {
		if it.PipelineType == pipelineType && wanted[it.Status] {
			out = append(out, *it)
		}
	}
	// Deterministic order by key.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ExternalKey < out[i].ExternalKey {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) MarkProcessing(ctx context.Context, pipelineType, externalKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := itemKey(pipelineType, externalKey)
	if it, ok := r.items[k]; ok && it.Status == StatusPending {
		it.Status = StatusProcessing
		r.history[k] = append(r.history[k], StatusProcessing)
	}
	return nil
}

func (r *fakeRepo) CompleteWithChunks(ctx context.Context, pipelineType, externalKey, title string, attempts int, chunks []worker.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := itemKey(pipelineType, externalKey)
	it, ok := r.items[k]
	if !ok {
		return fmt.Errorf("item %s not found", k)
	}
	it.Status = StatusCompleted
	it.Title = title
	it.AttemptCount = attempts
	it.ChunkCount = len(chunks)
	it.LastError = ""
	r.chunks[k] = chunks
	r.history[k] = append(r.history[k], StatusCompleted)
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, pipelineType, externalKey, lastError string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := itemKey(pipelineType, externalKey)
	if it, ok := r.items[k]; ok {
		it.Status = StatusFailed
		it.LastError = lastError
		it.AttemptCount = attempts
		r.history[k] = append(r.history[k], StatusFailed)
	}
	return nil
}

func (r *fakeRepo) ClearPlaceholders(ctx context.Context, pipelineType string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared int64
	for k, it := range r.items {
		if it.PipelineType == pipelineType && (it.Status == StatusPending || it.Status == StatusFailed) {
			delete(r.items, k)
			cleared++
		}
	}
	return cleared, nil
}

func (r *fakeRepo) Counts(ctx context.Context, pipelineType string) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countsErr != nil {
		return nil, r.countsErr
	}
	stats := &Stats{}
	for _, it := range r.items {
		if pipelineType != "" && it.PipelineType != pipelineType {
			continue
		}
		stats.TotalItems++
		switch it.Status {
		case StatusCompleted:
			stats.CompletedItems++
		case StatusPending:
			stats.PendingItems++
		case StatusFailed:
			stats.FailedItems++
		}
		stats.TotalChunks += it.ChunkCount
	}
	return stats, nil
}

func (r *fakeRepo) seed(item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := item
	k := itemKey(item.PipelineType, item.ExternalKey)
	r.items[k] = &saved
	r.history[k] = append(r.history[k], item.Status)
}

func (r *fakeRepo) get(pipelineType, externalKey string) *Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[itemKey(pipelineType, externalKey)]; ok {
		copied := *it
		return &copied
	}
	return nil
}

// fakeLister serves canned listing pages.
type fakeLister struct {
	pages    [][]Entry
	pageErrs map[int]error
	calls    []int
}

func (l *fakeLister) Page(ctx context.Context, page int) ([]Entry, error) {
	l.calls = append(l.calls, page)
	if err, ok := l.pageErrs[page]; ok {
		return nil, err
	}
	if page > len(l.pages) {
		return nil, nil
	}
	return l.pages[page-1], nil
}

// fakeExtractor pops one response per call.
type extractResponse struct {
	title string
	segs  []text.Segment
	err   error
}

type fakeExtractor struct {
	responses []extractResponse
	calls     int
}

func (e *fakeExtractor) Extract(ctx context.Context, item Item) (string, []text.Segment, error) {
	e.calls++
	if len(e.responses) == 0 {
		return "", nil, fmt.Errorf("no scripted response")
	}
	resp := e.responses[0]
	if len(e.responses) > 1 {
		e.responses = e.responses[1:]
	}
	return resp.title, resp.segs, resp.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorStore struct {
	mu       sync.Mutex
	replaced map[string][]worker.Chunk
	deleted  []string
	count    int

	replaceErr error
	countErr   error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{replaced: make(map[string][]worker.Chunk)}
}

func (v *fakeVectorStore) ReplaceChunks(ctx context.Context, pipelineType, itemKey string, chunks []worker.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.replaceErr != nil {
		return v.replaceErr
	}
	v.replaced[pipelineType+"/"+itemKey] = chunks
	return nil
}

func (v *fakeVectorStore) DeleteChunksByItem(ctx context.Context, pipelineType, itemKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, pipelineType+"/"+itemKey)
	delete(v.replaced, pipelineType+"/"+itemKey)
	return nil
}

func (v *fakeVectorStore) CountChunks(ctx context.Context, pipelineType string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.countErr != nil {
		return 0, v.countErr
	}
	return v.count, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *fakePublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return nil
}

func segments(count int, wordsPer int, minutesPer float64) []text.Segment {
	segs := make([]text.Segment, count)
	word := 0
	for i := range segs {
		content := ""
		for j := 0; j < wordsPer; j++ {
			if j > 0 {
				content += " "
			}
			content += fmt.Sprintf("word%d", word)
			word++
		}
		segs[i] = text.Segment{
			Text:  content,
			Start: float64(i) * minutesPer,
			End:   float64(i+1) * minutesPer,
		}
	}
	return segs
}
