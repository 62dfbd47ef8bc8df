package pipeline

import (
	"context"

	"pulpit/internal/adapter/extraction"
	"pulpit/internal/text"
)

// Extractor turns one work item into raw anchored content. Each content
// pipeline supplies its own implementation.
type Extractor interface {
	Extract(ctx context.Context, item Item) (title string, segs []text.Segment, err error)
}

type extractionService interface {
	Extract(ctx context.Context, mediaURL, kind string) (*extraction.Result, error)
}

// MediaExtractor calls the extraction service with the kind the
// pipeline needs: transcript for recordings, scan for issues.
type MediaExtractor struct {
	service extractionService
	kind    string
}

func NewMediaExtractor(service extractionService, kind string) *MediaExtractor {
	return &MediaExtractor{service: service, kind: kind}
}

func (e *MediaExtractor) Extract(ctx context.Context, item Item) (string, []text.Segment, error) {
	res, err := e.service.Extract(ctx, item.MediaURL, e.kind)
	if err != nil {
		return "", nil, err
	}
	title := res.Title
	if title == "" {
		title = item.Title
	}
	return title, res.Segments, nil
}
