// Package boundary locates the relevant sub-range inside a raw
// extraction, e.g. the sermon within a full service recording. The
// classification strategy is pluggable so it can be swapped or tested
// with fixtures independently of the ingestion loop.
package boundary

import (
	"context"

	"pulpit/internal/text"
)

// Range is a detected sub-range over segment anchors, with the
// classifier's confidence in [0, 1].
type Range struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type Classifier interface {
	Detect(ctx context.Context, title string, segs []text.Segment) (*Range, error)
}
