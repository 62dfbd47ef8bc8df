package boundary

import (
	"context"
	"regexp"

	"pulpit/internal/text"
)

// Liturgy phrasing varies between congregations but the transition
// markers are remarkably stable; these were collected from real
// transcripts.
var (
	openingMarkers = regexp.MustCompile(`(?i)\b(turn (with me )?(in your bibles? )?to|open your bibles?|our (text|passage|scripture) (today|this morning|this evening)|the title of (today's|this) message|i want to (speak|talk) to you (today|this morning) about)\b`)
	closingMarkers = regexp.MustCompile(`(?i)\b(let us pray|let's pray|shall we pray|closing hymn|benediction|as we close|in closing|come forward|every head bowed)\b`)
)

// MarkerClassifier finds the sub-range between the first opening marker
// and the last closing marker after it. Confidence reflects how many of
// the two anchors were actually found.
type MarkerClassifier struct{}

func NewMarkerClassifier() *MarkerClassifier {
	return &MarkerClassifier{}
}

func (c *MarkerClassifier) Detect(ctx context.Context, title string, segs []text.Segment) (*Range, error) {
	if len(segs) == 0 {
		return &Range{}, nil
	}

	start := segs[0].Start
	end := segs[len(segs)-1].End
	found := 0

	for _, s := range segs {
		if openingMarkers.MatchString(s.Text) {
			start = s.Start
			found++
			break
		}
	}

	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].Start < start {
			break
		}
		if closingMarkers.MatchString(segs[i].Text) {
			end = segs[i].End
			found++
			break
		}
	}

	confidence := 0.2
	switch found {
	case 1:
		confidence = 0.6
	case 2:
		confidence = 0.9
	}

	return &Range{Start: start, End: end, Confidence: confidence}, nil
}
