package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pulpit/internal/provider"
	"pulpit/internal/settings"
	"pulpit/internal/text"
)

const geminiModel = "gemini-2.0-flash"

// GeminiClassifier asks a generative model for the sub-range. The API
// key is resolved from runtime settings per call, like the embedder.
type GeminiClassifier struct {
	settingsSvc *settings.Service
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewGeminiClassifier(svc *settings.Service, opts ...option.ClientOption) *GeminiClassifier {
	return &GeminiClassifier{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

func (c *GeminiClassifier) Detect(ctx context.Context, title string, segs []text.Segment) (*Range, error) {
	if len(segs) == 0 {
		return &Range{}, nil
	}

	s, err := c.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	client, err := c.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(geminiModel)
	model.ResponseMIMEType = "application/json"

	res, err := model.GenerateContent(ctx, genai.Text(buildPrompt(title, segs)))
	if err != nil {
		slog.ErrorContext(ctx, "boundary classification failed", "error", err)
		return nil, provider.FromGoogleAPI(err)
	}

	raw := responseText(res)
	if raw == "" {
		return nil, fmt.Errorf("empty boundary response")
	}

	var rng Range
	if err := json.Unmarshal([]byte(raw), &rng); err != nil {
		return nil, fmt.Errorf("decode boundary response: %w", err)
	}
	if rng.End < rng.Start {
		return nil, fmt.Errorf("boundary response has end before start")
	}
	return &rng, nil
}

// buildPrompt condenses the transcript to one line per segment so long
// recordings stay inside the model's context window.
func buildPrompt(title string, segs []text.Segment) string {
	var b strings.Builder
	b.WriteString("The following is an outline of a recorded service, one line per segment with its start offset. ")
	b.WriteString("Identify the sub-range that contains the main message and reply with JSON ")
	b.WriteString(`{"start": <offset>, "end": <offset>, "confidence": <0..1>}.`)
	b.WriteString("\nTitle: ")
	b.WriteString(title)
	b.WriteString("\n")
	for _, s := range segs {
		preview := s.Text
		if words := strings.Fields(preview); len(words) > 20 {
			preview = strings.Join(words[:20], " ")
		}
		fmt.Fprintf(&b, "[%.0f] %s\n", s.Start, preview)
	}
	return b.String()
}

func responseText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func (c *GeminiClassifier) getClient(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(c.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}
