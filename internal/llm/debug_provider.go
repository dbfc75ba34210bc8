package llm

import (
	"context"
	"strings"
	"time"
)

// debugPreset defines streaming rate configuration.
type debugPreset struct {
	ChunkSize int
	Delay     time.Duration
}

// presets maps variant names to their streaming configurations.
var presets = map[string]debugPreset{
	"fast":     {ChunkSize: 50, Delay: 5 * time.Millisecond},
	"normal":   {ChunkSize: 20, Delay: 20 * time.Millisecond},
	"slow":     {ChunkSize: 10, Delay: 50 * time.Millisecond},
	"realtime": {ChunkSize: 5, Delay: 30 * time.Millisecond},
	"burst":    {ChunkSize: 200, Delay: 100 * time.Millisecond},
}

// debugMarkdown exercises the page renderer without a remote service.
const debugMarkdown = `# Debug stream

This reply is produced locally by the **debug** provider so the chat page can be
tested without an API key. It streams in small fragments with a fixed delay.

## Code

` + "```go" + `
for fragment := range reply.Fragments() {
	fmt.Print(fragment)
}
` + "```" + `

## List

- plain item
- item with ` + "`inline code`" + `
- item with a [link](https://console.groq.com)

| model | tokens |
|-------|--------|
| LLaMA3-70b | 8192 |
| Mixtral-8x7b | 32768 |

> Every fragment arrives in order; the page only renders what it has received.
`

// DebugProvider streams canned markdown content for UI testing.
type DebugProvider struct {
	variant string
	preset  debugPreset
}

// NewDebugProvider creates a debug provider with the specified variant.
// Valid variants: fast, normal, slow, realtime, burst
// Empty string defaults to "normal".
func NewDebugProvider(variant string) *DebugProvider {
	variant = parseDebugVariant(variant)
	preset, ok := presets[variant]
	if !ok {
		variant = "normal"
		preset = presets[variant]
	}
	return &DebugProvider{
		variant: variant,
		preset:  preset,
	}
}

// Name returns the provider name with variant.
func (d *DebugProvider) Name() string {
	if d.variant == "normal" {
		return "debug"
	}
	return "debug:" + d.variant
}

// Stream starts streaming the debug markdown content. A request model naming
// a preset overrides the provider's variant.
func (d *DebugProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	preset := d.preset
	if p, ok := presets[parseDebugVariant(req.Model)]; ok {
		preset = p
	}

	streamCtx, cancel := context.WithCancel(ctx)
	text := []rune(debugMarkdown)
	first := true
	usageSent := false
	next := func() (Event, error) {
		if len(text) == 0 {
			if usageSent {
				return Event{Type: EventDone}, nil
			}
			usageSent = true
			return Event{Type: EventUsage, Use: &Usage{
				InputTokens:  10,
				OutputTokens: len(debugMarkdown) / 4, // Approximate tokens
			}}, nil
		}
		if !first && preset.Delay > 0 {
			select {
			case <-streamCtx.Done():
				return Event{}, streamCtx.Err()
			case <-time.After(preset.Delay):
			}
		}
		first = false

		end := preset.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunk := string(text[:end])
		text = text[end:]
		return Event{Type: EventTextDelta, Text: chunk}, nil
	}
	return newPullStream(streamCtx, cancel, next, nil), nil
}

// parseDebugVariant extracts the variant from a model string like "debug:fast" or "fast".
func parseDebugVariant(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "debug:")
	model = strings.TrimPrefix(model, "debug-")
	return model
}
