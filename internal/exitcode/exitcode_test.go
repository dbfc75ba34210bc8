package exitcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, Success},
		{"exit error", fmt.Errorf("wrapped: %w", ExitError{Code: 7, Message: "x"}), 7},
		{"cancel", Cancel(), Cancelled},
		{"context", fmt.Errorf("read: %w", context.Canceled), Cancelled},
		{"canceled kind", apperr.Canceled(errors.New("stop")), Cancelled},
		{"credential", apperr.MissingCredential("groq"), MissingCredential},
		{"config", apperr.ConfigInvalid("bad"), Usage},
		{"not found", apperr.ModelNotFound("x", nil), Usage},
		{"other", errors.New("boom"), Error},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromError(tc.err); got != tc.want {
				t.Errorf("FromError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
