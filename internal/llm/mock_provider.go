package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn represents a single response turn from the mock provider.
type MockTurn struct {
	Fragments []string      // Fragments to emit verbatim, in order
	Text      string        // Text to emit in chunks when Fragments is empty
	Usage     *Usage        // Token usage to report after the text
	Delay     time.Duration // Optional delay before each fragment (for cancellation tests)
	Error     error         // Returned from Recv after all fragments were delivered
	OpenError error         // Returned from Stream instead of opening a stream
}

// MockProvider is a configurable provider for testing.
// It returns scripted responses and records all requests for verification.
type MockProvider struct {
	name      string
	turns     []MockTurn
	turnIndex int
	echo      bool
	Requests  []Request // Recorded requests for verification
	mu        sync.Mutex
}

// NewMockProvider creates a new mock provider with the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

// AddTurn adds a response turn and returns the provider for chaining.
func (m *MockProvider) AddTurn(t MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse is a convenience method to add a simple text response.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text})
}

// AddFragments adds a turn that emits exactly the given fragments.
func (m *MockProvider) AddFragments(fragments ...string) *MockProvider {
	return m.AddTurn(MockTurn{Fragments: fragments})
}

// AddError adds a turn that fails after emitting fragments.
func (m *MockProvider) AddError(err error, fragments ...string) *MockProvider {
	return m.AddTurn(MockTurn{Fragments: fragments, Error: err})
}

// EchoWhenEmpty makes the provider answer with the last user message once
// the scripted turns are used up.
func (m *MockProvider) EchoWhenEmpty() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = true
	return m
}

// CallCount returns how many times Stream was called.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

// Reset clears recorded requests and resets the turn index.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnIndex = 0
	m.Requests = nil
}

// Stream implements the Provider interface.
func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	var turn MockTurn
	switch {
	case m.turnIndex < len(m.turns):
		turn = m.turns[m.turnIndex]
		m.turnIndex++
	case m.echo:
		turn = MockTurn{Text: "You said: " + lastUserText(req.Messages)}
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}
	m.mu.Unlock()

	if turn.OpenError != nil {
		return nil, turn.OpenError
	}

	fragments := turn.Fragments
	if len(fragments) == 0 && turn.Text != "" {
		fragments = chunkText(turn.Text, 10)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	i := 0
	usageSent := false
	next := func() (Event, error) {
		if i < len(fragments) {
			if turn.Delay > 0 {
				select {
				case <-streamCtx.Done():
					return Event{}, streamCtx.Err()
				case <-time.After(turn.Delay):
				}
			}
			text := fragments[i]
			i++
			return Event{Type: EventTextDelta, Text: text}, nil
		}
		if turn.Error != nil {
			return Event{}, turn.Error
		}
		if turn.Usage != nil && !usageSent {
			usageSent = true
			u := *turn.Usage
			return Event{Type: EventUsage, Use: &u}, nil
		}
		return Event{Type: EventDone}, nil
	}
	return newPullStream(streamCtx, cancel, next, nil), nil
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// chunkText splits text into chunks of approximately the given size.
// It tries to break at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		// Find a good break point (space) near the chunk size
		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1 // include the space in current chunk
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
