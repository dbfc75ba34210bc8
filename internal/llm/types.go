package llm

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single (role, content) pair sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserText builds a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText builds an assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// Request is a single streaming completion request.
type Request struct {
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	MaxOutputTokens int       `json:"max_tokens"`
	Temperature     float64   `json:"temperature"`
	Stream          bool      `json:"stream"`
}

// EventType enumerates stream events.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventUsage     EventType = "usage"
	EventDone      EventType = "done"
)

// Usage reports token counts when a provider sends them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is one item pulled from a Stream.
type Event struct {
	Type EventType
	Text string
	Use  *Usage
}

// Stream is a forward-only sequence of events. Recv blocks until the next
// event is available and returns io.EOF after the provider signals completion.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider opens streaming completions against a remote service.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelInfo describes a model reported by a provider's models endpoint.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Created     int64  `json:"created,omitempty"`
	OwnedBy     string `json:"owned_by,omitempty"`
}
