package chat

import (
	core "github.com/samsaffron/groq-chat/internal/chat"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

// Server event types.
const (
	EventSessionReady = "session_ready"
	EventCatchup      = "catchup"
	EventConfig       = "config"
	EventPhaseChange  = "phase_change"
	EventTextDelta    = "text_delta"
	EventMessageDone  = "message_done"
	EventError        = "error"
)

// Client event types.
const (
	ClientMessage        = "message"
	ClientInterrupt      = "interrupt"
	ClientReset          = "reset"
	ClientSelectModel    = "select_model"
	ClientSetMaxTokens   = "set_max_tokens"
	ClientSetTemperature = "set_temperature"
	ClientSetCredential  = "set_credential"
)

// Phases reported in phase_change events.
const (
	PhaseRequesting = "requesting"
	PhaseStreaming  = "streaming"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
	PhaseCanceled   = "canceled"
)

// WireEvent is the JSON envelope sent server->client.
// Every event has a monotonic Seq for catchup replay.
type WireEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// session_ready
	SessionID string        `json:"session_id,omitempty"`
	History   []HistoryItem `json:"history,omitempty"`

	// catchup
	Events []WireEvent `json:"events,omitempty"`

	// session_ready / config
	Config *ConfigInfo `json:"config,omitempty"`

	// phase_change
	Phase string `json:"phase,omitempty"`

	// text_delta / message_done
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type HistoryItem struct {
	Role string `json:"role"`
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// ConfigInfo is the session's model and generation settings as shown on the page.
type ConfigInfo struct {
	Model          string  `json:"model"`
	ModelName      string  `json:"model_name"`
	Developer      string  `json:"developer"`
	ModelMaxTokens int     `json:"model_max_tokens"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	HasCredential  bool    `json:"has_credential"`
}

// ClientEvent is the JSON envelope sent client->server.
type ClientEvent struct {
	Type string `json:"type"`

	// message
	Text string `json:"text,omitempty"`

	// select_model
	Model string `json:"model,omitempty"`

	// set_max_tokens
	MaxTokens int `json:"max_tokens,omitempty"`

	// set_temperature
	Temperature *float64 `json:"temperature,omitempty"`

	// set_credential
	Credential string `json:"credential,omitempty"`
}

func configInfo(s *core.Session) *ConfigInfo {
	m := s.Model()
	cfg := s.Config()
	return &ConfigInfo{
		Model:          m.ID,
		ModelName:      m.Label(),
		Developer:      m.Developer,
		ModelMaxTokens: m.MaxTokens,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		HasCredential:  s.HasCredential(),
	}
}

// ErrorEvent maps err to an error event carrying its kind code.
func ErrorEvent(err error) WireEvent {
	return WireEvent{Type: EventError, Message: err.Error(), Code: apperr.GetKind(err).Code()}
}

// PhaseFor names the phase a finished turn ended in.
func PhaseFor(err error) string {
	switch {
	case err == nil:
		return PhaseCompleted
	case apperr.Is(err, apperr.KindCanceled):
		return PhaseCanceled
	default:
		return PhaseFailed
	}
}
