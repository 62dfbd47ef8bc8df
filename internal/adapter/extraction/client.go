// Package extraction calls the extraction service: speech-to-text for
// recordings, OCR for scanned issues. The service is a black box; this
// client only normalizes its responses and error classes.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"pulpit/internal/provider"
	"pulpit/internal/text"
)

const (
	// KindTranscript anchors segments by minute offsets.
	KindTranscript = "transcript"
	// KindScan anchors segments by page numbers.
	KindScan = "scan"
)

type Result struct {
	Title    string
	Segments []text.Segment
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type extractRequest struct {
	MediaURL string `json:"media_url"`
	Kind     string `json:"kind"`
}

type extractResponse struct {
	Title    string `json:"title"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Extract fetches the raw content of one media reference. 429 responses
// map to provider.ErrRateLimited, 5xx and network failures to
// provider.ErrTransient so the caller can choose a backoff.
func (c *Client) Extract(ctx context.Context, mediaURL, kind string) (*Result, error) {
	body, _ := json.Marshal(extractRequest{MediaURL: mediaURL, Kind: kind})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: extraction timeout: %v", provider.ErrTransient, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: extraction service", provider.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: extraction service returned %d", provider.ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("extraction service returned %d", resp.StatusCode)
	}

	var payload extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	result := &Result{Title: payload.Title}
	for _, s := range payload.Segments {
		result.Segments = append(result.Segments, text.Segment{Text: s.Text, Start: s.Start, End: s.End})
	}
	return result, nil
}
