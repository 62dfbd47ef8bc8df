package text

import "strings"

// Segment is one anchored span of extracted content. Anchors are minutes
// for transcripts and page numbers for scans; the chunker only requires
// that they increase monotonically across segments.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Chunk is a retrievable window of content carrying the anchor range of
// the segments it was built from.
type Chunk struct {
	Ordinal     int
	Content     string
	AnchorStart float64
	AnchorEnd   float64
}

// Span returns the anchor distance covered by the segments.
func Span(segs []Segment) float64 {
	if len(segs) == 0 {
		return 0
	}
	return segs[len(segs)-1].End - segs[0].Start
}

// FilterRange keeps the segments overlapping [start, end].
func FilterRange(segs []Segment, start, end float64) []Segment {
	var out []Segment
	for _, s := range segs {
		if s.End < start || s.Start > end {
			continue
		}
		out = append(out, s)
	}
	return out
}

type anchoredWord struct {
	word  string
	start float64
	end   float64
}

// Window splits segments into overlapping chunks of at most window words,
// advancing by window-overlap each step. Each chunk's anchors are taken
// from the first and last word it contains, so a hit can be played back
// or paged to directly. Ordinals are contiguous from 0.
func Window(segs []Segment, window, overlap int) []Chunk {
	if window <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	var words []anchoredWord
	for _, seg := range segs {
		for _, w := range strings.Fields(seg.Text) {
			words = append(words, anchoredWord{word: w, start: seg.Start, end: seg.End})
		}
	}
	if len(words) == 0 {
		return nil
	}

	step := window - overlap
	var chunks []Chunk
	for begin := 0; begin < len(words); begin += step {
		stop := begin + window
		if stop > len(words) {
			stop = len(words)
		}

		var b strings.Builder
		for i := begin; i < stop; i++ {
			if i > begin {
				b.WriteByte(' ')
			}
			b.WriteString(words[i].word)
		}

		chunks = append(chunks, Chunk{
			Ordinal:     len(chunks),
			Content:     b.String(),
			AnchorStart: words[begin].start,
			AnchorEnd:   words[stop-1].end,
		})

		if stop == len(words) {
			break
		}
	}

	return chunks
}
