package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"
)

// GeminiProvider streams from the Gemini API through google.golang.org/genai.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewGeminiProvider(apiKey, baseURL string, httpClient *http.Client) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}
}

func (p *GeminiProvider) Name() string {
	return "Gemini"
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	cfg := &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := client.Models.GenerateContentStream(streamCtx, req.Model, buildGeminiContents(req.Messages), genCfg)
	pull, stop := iter.Pull2(seq)

	var pending eventQueue
	var lastUsage *Usage
	next := func() (Event, error) {
		for {
			if ev, ok := pending.pop(); ok {
				return ev, nil
			}
			resp, err, ok := pull()
			if !ok {
				if lastUsage != nil {
					u := lastUsage
					lastUsage = nil
					return Event{Type: EventUsage, Use: u}, nil
				}
				return Event{Type: EventDone}, nil
			}
			if err != nil {
				return Event{}, fmt.Errorf("gemini streaming error: %w", err)
			}
			if resp == nil {
				continue
			}
			if text := resp.Text(); text != "" {
				pending.push(Event{Type: EventTextDelta, Text: text})
			}
			if md := resp.UsageMetadata; md != nil {
				lastUsage = &Usage{
					InputTokens:  int(md.PromptTokenCount),
					OutputTokens: int(md.CandidatesTokenCount),
				}
			}
		}
	}
	closeFn := func() error {
		stop()
		return nil
	}
	return newPullStream(streamCtx, cancel, next, closeFn), nil
}

func buildGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(msg.Content, role))
	}
	return out
}
