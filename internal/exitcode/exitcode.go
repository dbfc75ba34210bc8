package exitcode

import (
	"context"
	"errors"

	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

// Exit codes for groq-chat commands
const (
	Success           = 0
	Error             = 1
	Usage             = 2
	MissingCredential = 3
	Cancelled         = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

func Cancel() ExitError { return ExitError{Code: Cancelled, Message: "cancelled"} }

// FromError maps an error returned by a command to a process exit code.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	var exitErr ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	switch apperr.GetKind(err) {
	case apperr.KindCanceled:
		return Cancelled
	case apperr.KindMissingCredential:
		return MissingCredential
	case apperr.KindValidation, apperr.KindConfig, apperr.KindNotFound:
		return Usage
	default:
		return Error
	}
}
