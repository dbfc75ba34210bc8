// Package errors provides the structured error types shared by the chat core.
// Every error carries a Kind so shells can tell credential problems, validation
// problems and transient stream failures apart.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.Function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindMissingCredential
	KindBusy
	KindStream
	KindCanceled
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation error"
	case KindMissingCredential:
		return "missing credential"
	case KindBusy:
		return "busy"
	case KindStream:
		return "stream error"
	case KindCanceled:
		return "canceled"
	case KindConfig:
		return "configuration error"
	default:
		return "unknown error"
	}
}

// Code returns a short machine-readable name for the kind.
func (k Kind) Code() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindMissingCredential:
		return "missing_credential"
	case KindBusy:
		return "busy"
	case KindStream:
		return "stream"
	case KindCanceled:
		return "canceled"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the structured error type for the chat core.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// StreamError reports a failed completion stream. Partial holds every fragment
// delivered before the failure so the caller can decide what to keep.
type StreamError struct {
	Model     string
	Partial   string
	Fragments int
	Cause     error
}

func (e *StreamError) Error() string {
	if e.Fragments > 0 {
		return fmt.Sprintf("stream %s failed after %d fragments: %v", e.Model, e.Fragments, e.Cause)
	}
	return fmt.Sprintf("stream %s failed: %v", e.Model, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StreamError
	if errors.As(err, &se) {
		return KindStream
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsStream extracts a StreamError from err.
func AsStream(err error) (*StreamError, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Model errors
func ModelNotFound(id string, suggestions []string) error {
	msg := fmt.Sprintf("model %q not found", id)
	if len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %q?)", suggestions[0])
	}
	return E(Op("catalog.Get"), KindNotFound, msg)
}

func InvalidModel(reason string) error {
	return E(Op("catalog.New"), KindValidation, reason)
}

// Session errors
func EmptyInput() error {
	return E(Op("chat.AppendUserTurn"), KindValidation, "message is empty")
}

func InvalidConfig(op Op, reason string) error {
	return E(op, KindValidation, reason)
}

func MissingCredential(provider string) error {
	return E(Op("chat.StreamCompletion"), KindMissingCredential, fmt.Sprintf("no API key set for provider %s", provider))
}

func Busy(op Op) error {
	return E(op, KindBusy, "a reply is still streaming")
}

func Canceled(err error) error {
	return E(Op("chat.Recv"), KindCanceled, "stream canceled", err)
}

// Config errors
func ConfigInvalid(reason string) error {
	return E(Op("config.Validate"), KindConfig, reason)
}

func UnknownProvider(name string) error {
	return E(Op("llm.Factory"), KindConfig, fmt.Sprintf("unknown provider %q", name))
}
