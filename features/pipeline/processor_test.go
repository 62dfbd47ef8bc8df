package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulpit/features/lock"
	"pulpit/internal/adapter/boundary"
	"pulpit/internal/config"
	"pulpit/internal/provider"
	"pulpit/internal/text"
	"pulpit/internal/worker"
)

// stubLock records heartbeats and can request a stop after a given
// number of processed items.
type stubLock struct {
	mu                  sync.Mutex
	heartbeats          []string
	stopAfterHeartbeats int
}

func newStubLock() *stubLock {
	return &stubLock{}
}

func (l *stubLock) Acquire(ctx context.Context, taskType, description string) (*lock.AcquireResult, error) {
	return &lock.AcquireResult{Granted: true, LockID: "stub"}, nil
}

func (l *stubLock) Release(ctx context.Context, taskType string) error { return nil }

func (l *stubLock) Heartbeat(ctx context.Context, taskType, currentItem string, processed, total int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeats = append(l.heartbeats, currentItem)
	return nil
}

func (l *stubLock) Status(ctx context.Context, taskType string) (*lock.Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info := &lock.Info{TaskType: taskType, IsActive: true}
	if l.stopAfterHeartbeats > 0 && len(l.heartbeats) >= l.stopAfterHeartbeats {
		info.StopRequested = true
	}
	return info, nil
}

func (l *stubLock) RequestStop(ctx context.Context, taskType string) error { return nil }

func testConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxAttempts:      3,
		MinBoundarySpan:  20,
		MinConfidence:    0.5,
		ChunkWindow:      50,
		ChunkOverlap:     10,
		ItemDelay:        2 * time.Second,
		RateLimitBackoff: 30 * time.Second,
		RetryBackoff:     5 * time.Second,
	}
}

func newProcessor(repo Repository, locks *stubLock, embedder worker.Embedder, vectors worker.VectorStore, pub Publisher, cfg ProcessorConfig) (*Processor, *[]time.Duration) {
	p := NewProcessor(repo, locks, embedder, vectors, pub, cfg)
	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return p, &sleeps
}

func pendingItem(key string) Item {
	return Item{
		PipelineType: "sermon",
		ExternalKey:  key,
		Title:        "Service " + key,
		MediaURL:     "http://media/" + key,
		Status:       StatusPending,
	}
}

func TestProcessor_CompletesItem(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "Sunday Service", segs: segments(10, 20, 5)},
	}}
	vectors := newFakeVectorStore()
	pub := &fakePublisher{}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, vectors, pub, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 0)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	res := result.Results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	assert.Greater(t, res.ChunkCount, 0)
	assert.False(t, result.StoppedByUser)
	assert.Equal(t, 0, result.RemainingCount)

	item := repo.get("sermon", "2024-06-02")
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, res.ChunkCount, item.ChunkCount)
	assert.Equal(t, "Sunday Service", item.Title)

	// Vectors were written and ordinals are contiguous from 0.
	stored := vectors.replaced["sermon/2024-06-02"]
	require.Len(t, stored, res.ChunkCount)
	for i, c := range stored {
		assert.Equal(t, i, c.Ordinal)
		assert.NotEmpty(t, c.Vector)
	}

	// Status only moved forward.
	assert.Equal(t, []string{StatusPending, StatusProcessing, StatusCompleted},
		repo.history[itemKey("sermon", "2024-06-02")])

	// One completion event.
	require.Len(t, pub.topics, 1)
	assert.Equal(t, config.TopicItemCompleted, pub.topics[0])
	var event worker.ItemCompletedEvent
	require.NoError(t, json.Unmarshal(pub.bodies[0], &event))
	assert.Equal(t, "2024-06-02", event.ExternalKey)
	assert.Equal(t, res.ChunkCount, event.ChunkCount)
}

func TestProcessor_RateLimitedTwiceThenSucceeds(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	rateErr := fmt.Errorf("%w: extraction service", provider.ErrRateLimited)
	ext := &fakeExtractor{responses: []extractResponse{
		{err: rateErr},
		{err: rateErr},
		{title: "Sunday Service", segs: segments(10, 20, 5)},
	}}
	locks := newStubLock()
	p, sleeps := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	res := result.Results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Greater(t, res.ChunkCount, 0)

	// Rate limits use the long provider backoff, not the linear one.
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, *sleeps)
}

func TestProcessor_TransientBackoffGrowsWithAttempt(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	transient := fmt.Errorf("%w: 502", provider.ErrTransient)
	ext := &fakeExtractor{responses: []extractResponse{
		{err: transient},
		{err: transient},
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	p, sleeps := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Results[0].Status)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *sleeps)
}

func TestProcessor_BoundedRetries(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	transient := fmt.Errorf("%w: upstream down", provider.ErrTransient)
	ext := &fakeExtractor{responses: []extractResponse{
		{err: transient}, {err: transient}, {err: transient}, {err: transient},
	}}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)

	res := result.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 3, ext.calls)

	item := repo.get("sermon", "2024-06-02")
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, 3, item.AttemptCount)
	assert.NotEmpty(t, item.LastError)
}

type fixedClassifier struct {
	r     *boundary.Range
	err   error
	calls int
}

func (c *fixedClassifier) Detect(ctx context.Context, title string, segs []text.Segment) (*boundary.Range, error) {
	c.calls++
	return c.r, c.err
}

func TestProcessor_BoundaryFiltersContent(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	// 90 minutes of service; the sermon is minutes 30-60.
	ext := &fakeExtractor{responses: []extractResponse{
		{title: "Sunday Service", segs: segments(18, 20, 5)},
	}}
	clf := &fixedClassifier{r: &boundary.Range{Start: 30, End: 60, Confidence: 0.9}}
	vectors := newFakeVectorStore()
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, vectors, nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, clf, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Results[0].Status)

	for _, c := range vectors.replaced["sermon/2024-06-02"] {
		assert.GreaterOrEqual(t, c.AnchorEnd, 30.0)
		assert.LessOrEqual(t, c.AnchorStart, 60.0)
	}
}

func TestProcessor_DegenerateBoundaryRetriesWithoutClassifier(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "Sunday Service", segs: segments(18, 20, 5)},
	}}
	// Confident but far below the 20 minute minimum.
	clf := &fixedClassifier{r: &boundary.Range{Start: 30, End: 35, Confidence: 0.9}}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, clf, 1)
	require.NoError(t, err)

	res := result.Results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.RetryCount)
	// The classifier never runs on the retry.
	assert.Equal(t, 1, clf.calls)
}

func TestProcessor_LowConfidenceUsesFullRange(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "Sunday Service", segs: segments(18, 20, 5)},
	}}
	clf := &fixedClassifier{r: &boundary.Range{Start: 30, End: 35, Confidence: 0.1}}
	vectors := newFakeVectorStore()
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, vectors, nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, clf, 1)
	require.NoError(t, err)

	res := result.Results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 0, res.RetryCount)

	chunks := vectors.replaced["sermon/2024-06-02"]
	assert.InDelta(t, 0, chunks[0].AnchorStart, 0.001)
	assert.InDelta(t, 90, chunks[len(chunks)-1].AnchorEnd, 0.001)
}

func TestProcessor_EmptyExtractionRetries(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "empty", segs: nil},
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)

	res := result.Results[0]
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.RetryCount)
}

func TestProcessor_StorageErrorFailsWithoutRetry(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	vectors := newFakeVectorStore()
	vectors.replaceErr = errors.New("vector store down")
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, vectors, nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)

	res := result.Results[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "vector store down")
	assert.Equal(t, 1, ext.calls)
}

func TestProcessor_OneFailureNeverAbortsBatch(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))
	repo.seed(pendingItem("2024-06-09"))

	// First item exhausts retries; second succeeds.
	transient := fmt.Errorf("%w: down", provider.ErrTransient)
	ext := &fakeExtractor{responses: []extractResponse{
		{err: transient}, {err: transient}, {err: transient},
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 0)
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.Equal(t, StatusFailed, result.Results[0].Status)
	assert.Equal(t, StatusCompleted, result.Results[1].Status)
	assert.Equal(t, 2, result.ProcessedCount)

	// Heartbeat fired after each item, including the failed one.
	assert.Equal(t, []string{"2024-06-02", "2024-06-09"}, locks.heartbeats)
}

func TestProcessor_StopRequestedEndsRunAtItemBoundary(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))
	repo.seed(pendingItem("2024-06-09"))
	repo.seed(pendingItem("2024-06-16"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	locks.stopAfterHeartbeats = 1
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 0)
	require.NoError(t, err)

	assert.True(t, result.StoppedByUser)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 2, result.RemainingCount)

	// Unprocessed items keep their pending status.
	assert.Equal(t, StatusPending, repo.get("sermon", "2024-06-09").Status)
	assert.Equal(t, StatusPending, repo.get("sermon", "2024-06-16").Status)
}

func TestProcessor_InterItemDelay(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-02"))
	repo.seed(pendingItem("2024-06-09"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	p, sleeps := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	_, err := p.Run(context.Background(), "sermon", ext, nil, 0)
	require.NoError(t, err)

	// One delay between two items, none after the last.
	assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
}

func TestProcessor_ReportsRemainingBeyondBatch(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(pendingItem("2024-06-01"))
	repo.seed(pendingItem("2024-06-08"))
	repo.seed(pendingItem("2024-06-15"))

	ext := &fakeExtractor{responses: []extractResponse{
		{title: "ok", segs: segments(4, 10, 5)},
	}}
	locks := newStubLock()
	p, _ := newProcessor(repo, locks, &fakeEmbedder{}, newFakeVectorStore(), nil, testConfig())

	result, err := p.Run(context.Background(), "sermon", ext, nil, 1)
	require.NoError(t, err)

	// maxItems bounded the batch to one; the other two are still
	// pending and must be reported as remaining.
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 2, result.RemainingCount)
	assert.False(t, result.StoppedByUser)
}
