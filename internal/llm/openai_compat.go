package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAICompatProvider streams chat completions from any OpenAI-compatible
// endpoint (Groq, OpenAI, local gateways).
type OpenAICompatProvider struct {
	client  *openai.Client
	baseURL string
	name    string
}

// NewOpenAICompatProvider creates a provider for baseURL authenticated with apiKey.
func NewOpenAICompatProvider(baseURL, apiKey, name string) *OpenAICompatProvider {
	return NewOpenAICompatProviderWithHeaders(baseURL, apiKey, name, nil, nil)
}

// NewOpenAICompatProviderWithHeaders is like NewOpenAICompatProvider but sends extra
// headers on every request and optionally uses httpClient.
func NewOpenAICompatProviderWithHeaders(baseURL, apiKey, name string, headers map[string]string, httpClient *http.Client) *OpenAICompatProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		option.WithAPIKey(apiKey),
		// Retrying is left to the shell.
		option.WithMaxRetries(0),
	}
	for k, v := range headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)
	if name == "" {
		name = "OpenAI-compatible"
	}
	return &OpenAICompatProvider{client: &client, baseURL: baseURL, name: name}
}

func (p *OpenAICompatProvider) Name() string {
	return p.name
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("no model provided")
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: buildOpenAIMessages(req.Messages),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	params.Temperature = openai.Float(req.Temperature)

	streamCtx, cancel := context.WithCancel(ctx)
	stream := p.client.Chat.Completions.NewStreaming(streamCtx, params)

	var pending eventQueue
	finished := false
	next := func() (Event, error) {
		for {
			if ev, ok := pending.pop(); ok {
				return ev, nil
			}
			if !stream.Next() {
				if err := stream.Err(); err != nil {
					return Event{}, fmt.Errorf("%s streaming error: %w", p.name, err)
				}
				// A body that closes without a finish_reason was cut short.
				if !finished {
					return Event{}, fmt.Errorf("%s stream ended before completion", p.name)
				}
				return Event{Type: EventDone}, nil
			}
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					pending.push(Event{Type: EventTextDelta, Text: choice.Delta.Content})
				}
				if choice.FinishReason != "" {
					finished = true
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				pending.push(Event{Type: EventUsage, Use: &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}})
			}
		}
	}
	return newPullStream(streamCtx, cancel, next, stream.Close), nil
}

// ListModels queries the endpoint's /models listing.
func (p *OpenAICompatProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s list models: %w", p.name, err)
	}
	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
