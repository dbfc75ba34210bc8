// Package chat holds the conversation state for one chat and the client that
// streams completions for it. It is independent of any UI; the web and
// terminal shells drive it.
package chat

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samsaffron/groq-chat/internal/catalog"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/samsaffron/groq-chat/internal/llm"
	"go.uber.org/zap/zapcore"
)

// DefaultMaxTokens is used when no default is configured.
const DefaultMaxTokens = 4096

// DefaultTemperature is the temperature of a new session.
const DefaultTemperature = 0.5

// Turn is one transcript entry.
type Turn = llm.Message

// Config is the generation configuration sent with every request.
type Config struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type sessionOptions struct {
	id               string
	model            string
	defaultMaxTokens int
	temperature      float64
	now              func() time.Time
}

// Option configures a new Session.
type Option func(*sessionOptions)

// WithDefaultMaxTokens sets the max tokens applied on model selection.
func WithDefaultMaxTokens(n int) Option {
	return func(o *sessionOptions) { o.defaultMaxTokens = n }
}

// WithTemperature sets the initial temperature; it is clamped to [0, 1].
func WithTemperature(t float64) Option {
	return func(o *sessionOptions) { o.temperature = t }
}

// WithModel selects an initial model other than the catalog default.
func WithModel(id string) Option {
	return func(o *sessionOptions) { o.model = id }
}

// WithClock overrides the time source used for snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.now = now }
}

// WithID sets the session id instead of a random UUID.
func WithID(id string) Option {
	return func(o *sessionOptions) { o.id = id }
}

// Session is one conversation: a transcript, the selected model, the
// generation config and per-provider credentials. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id               string
	catalog          *catalog.Catalog
	model            catalog.Model
	cfg              Config
	defaultMaxTokens int
	transcript       []Turn
	credentials      map[string]string
	state            State
	now              func() time.Time
}

// NewSession creates a session on the catalog default model unless WithModel
// names another one.
func NewSession(cat *catalog.Catalog, opts ...Option) (*Session, error) {
	o := sessionOptions{
		defaultMaxTokens: DefaultMaxTokens,
		temperature:      DefaultTemperature,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if math.IsNaN(o.temperature) {
		return nil, apperr.InvalidConfig("chat.NewSession", "temperature is NaN")
	}
	if o.defaultMaxTokens <= 0 {
		o.defaultMaxTokens = DefaultMaxTokens
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	model := cat.Default()
	if o.model != "" {
		m, err := cat.Get(o.model)
		if err != nil {
			return nil, err
		}
		model = m
	}

	s := &Session{
		id:               o.id,
		catalog:          cat,
		model:            model,
		defaultMaxTokens: o.defaultMaxTokens,
		credentials:      make(map[string]string),
		now:              o.now,
	}
	s.cfg = Config{
		MaxTokens:   s.initialMaxTokens(model),
		Temperature: clampTemperature(o.temperature),
	}
	return s, nil
}

func (s *Session) initialMaxTokens(m catalog.Model) int {
	return max(min(s.defaultMaxTokens, m.MaxTokens), catalog.MinMaxTokens)
}

func clampTemperature(t float64) float64 {
	return math.Min(math.Max(t, 0), 1)
}

func (s *Session) ID() string {
	return s.id
}

// Catalog returns the models this session can select.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Session) Model() catalog.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the turns in order.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// SelectModel switches to the model with the given id. A different model
// clears the transcript and resets max tokens; the current model is a no-op.
func (s *Session) SelectModel(id string) error {
	m, err := s.catalog.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == s.model.ID {
		return nil
	}
	if s.state.Active() {
		return apperr.Busy("chat.SelectModel")
	}
	s.model = m
	s.transcript = nil
	s.state = StateIdle
	s.cfg.MaxTokens = s.initialMaxTokens(m)
	return nil
}

// SetMaxTokens clamps n into [512, model max] and returns the stored value.
func (s *Session) SetMaxTokens(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxTokens = max(catalog.MinMaxTokens, min(n, s.model.MaxTokens))
	return s.cfg.MaxTokens
}

// SetTemperature clamps t into [0, 1] and returns the stored value.
func (s *Session) SetTemperature(t float64) (float64, error) {
	if math.IsNaN(t) {
		return 0, apperr.InvalidConfig("chat.SetTemperature", "temperature is NaN")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Temperature = clampTemperature(t)
	return s.cfg.Temperature, nil
}

// AppendUserTurn adds a user message. Whitespace-only content is rejected.
func (s *Session) AppendUserTurn(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.EmptyInput()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return apperr.Busy("chat.AppendUserTurn")
	}
	s.transcript = append(s.transcript, llm.UserText(content))
	s.state = StateIdle
	return nil
}

func (s *Session) AppendAssistantTurn(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, llm.AssistantText(content))
}

// Clear empties the transcript and keeps the model and config.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return apperr.Busy("chat.Clear")
	}
	s.transcript = nil
	s.state = StateIdle
	return nil
}

// SetCredential stores secret for the selected model's provider.
func (s *Session) SetCredential(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[s.model.Provider] = strings.TrimSpace(secret)
}

// SetProviderCredential stores secret for a named provider.
func (s *Session) SetProviderCredential(provider, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[provider] = strings.TrimSpace(secret)
}

// HasCredential reports whether the selected model's provider has a secret.
func (s *Session) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[s.model.Provider] != ""
}

// checkReadyLocked returns the error a new turn would fail with before any
// provider is contacted.
func (s *Session) checkReadyLocked(op apperr.Op) error {
	if s.state.Active() {
		return apperr.Busy(op)
	}
	if s.credentials[s.model.Provider] == "" {
		return apperr.MissingCredential(s.model.Provider)
	}
	return nil
}

// pendingTurn is what a stream needs from the session, captured atomically.
type pendingTurn struct {
	model      catalog.Model
	credential string
	request    llm.Request
}

// begin reserves the session for one stream.
func (s *Session) begin() (pendingTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReadyLocked("chat.StreamCompletion"); err != nil {
		return pendingTurn{}, err
	}
	return s.beginLocked(), nil
}

// beginWithUserTurn appends content as a user turn and reserves the session
// under one lock, so a concurrent turn cannot leave it without a reply.
func (s *Session) beginWithUserTurn(content string) (pendingTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReadyLocked("chat.Converse"); err != nil {
		return pendingTurn{}, err
	}
	if strings.TrimSpace(content) == "" {
		return pendingTurn{}, apperr.EmptyInput()
	}
	s.transcript = append(s.transcript, llm.UserText(content))
	return s.beginLocked(), nil
}

func (s *Session) beginLocked() pendingTurn {
	messages := make([]llm.Message, len(s.transcript))
	copy(messages, s.transcript)
	s.state = StateRequesting
	return pendingTurn{
		model:      s.model,
		credential: s.credentials[s.model.Provider],
		request: llm.Request{
			Model:           s.model.ID,
			Messages:        messages,
			MaxOutputTokens: s.cfg.MaxTokens,
			Temperature:     s.cfg.Temperature,
			Stream:          true,
		},
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// String never includes credentials.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("Session{id=%s model=%s turns=%d state=%s credentials=%d}",
		s.id, s.model.ID, len(s.transcript), s.state, len(s.credentials))
}

// MarshalLogObject lets a session be logged with zap.Object.
func (s *Session) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc.AddString("id", s.id)
	enc.AddString("model", s.model.ID)
	enc.AddString("provider", s.model.Provider)
	enc.AddInt("turns", len(s.transcript))
	enc.AddInt("max_tokens", s.cfg.MaxTokens)
	enc.AddFloat64("temperature", s.cfg.Temperature)
	enc.AddString("state", s.state.String())
	return nil
}
