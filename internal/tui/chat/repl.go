// Package chat is the terminal chat shell: a line-oriented loop over a
// conversation session with slash commands.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/samsaffron/groq-chat/internal/catalog"
	core "github.com/samsaffron/groq-chat/internal/chat"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/samsaffron/groq-chat/internal/ui"
)

// Options configures a REPL. In, Out and Styles default to the process
// streams. PickModel and ReadSecret are optional interactive hooks; without
// ReadSecret the key is read as the next input line.
type Options struct {
	Session *core.Session
	Client  *core.Client
	In      io.Reader
	Out     io.Writer
	Styles  *ui.Styles

	PickModel  func(cat *catalog.Catalog, current string) (string, error)
	ReadSecret func(prompt string) (string, error)
	// TurnContext derives the context for one reply. The default cancels on
	// os.Interrupt so Ctrl+C stops the stream without leaving the shell.
	TurnContext func(ctx context.Context) (context.Context, context.CancelFunc)
	ExportDir   string
}

// REPL reads lines, dispatches slash commands and streams replies.
type REPL struct {
	session     *core.Session
	client      *core.Client
	scanner     *bufio.Scanner
	out         io.Writer
	styles      *ui.Styles
	pickModel   func(cat *catalog.Catalog, current string) (string, error)
	secretFn    func(prompt string) (string, error)
	turnContext func(ctx context.Context) (context.Context, context.CancelFunc)
	exportDir   string
}

// New creates a REPL.
func New(opts Options) *REPL {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	styles := opts.Styles
	if styles == nil {
		styles = ui.NewStyles(out)
	}
	turnContext := opts.TurnContext
	if turnContext == nil {
		turnContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		}
	}
	exportDir := opts.ExportDir
	if exportDir == "" {
		exportDir = "."
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &REPL{
		session:     opts.Session,
		client:      opts.Client,
		scanner:     scanner,
		out:         out,
		styles:      styles,
		pickModel:   opts.PickModel,
		secretFn:    opts.ReadSecret,
		turnContext: turnContext,
		exportDir:   exportDir,
	}
}

// Run loops until /quit, end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	m := r.session.Model()
	fmt.Fprintln(r.out, r.styles.Title.Render("groq-chat")+r.styles.Muted.Render(fmt.Sprintf("  %s by %s · /help for commands", m.Label(), m.Developer)))

	if !r.session.HasCredential() {
		r.cmdKey()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(r.out, r.styles.RoleLabel("user"))
		line, ok := r.readLine()
		if !ok {
			fmt.Fprintln(r.out)
			return r.scanner.Err()
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if r.ExecuteCommand(line) {
				return nil
			}
			continue
		}
		r.converse(ctx, line)
	}
}

func (r *REPL) readLine() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	return r.scanner.Text(), true
}

func (r *REPL) readSecret(prompt string) (string, error) {
	if r.secretFn != nil {
		return r.secretFn(prompt)
	}
	fmt.Fprint(r.out, prompt)
	line, ok := r.readLine()
	if !ok {
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(line), nil
}

func (r *REPL) converse(ctx context.Context, input string) {
	turnCtx, cancel := r.turnContext(ctx)
	defer cancel()

	fmt.Fprint(r.out, r.styles.RoleLabel("assistant"))
	_, err := r.client.Converse(turnCtx, r.session, input, func(fragment string) {
		fmt.Fprint(r.out, fragment)
	})
	fmt.Fprintln(r.out)

	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindCanceled):
		r.showSystemMessage("[stopped]")
	case apperr.Is(err, apperr.KindMissingCredential):
		r.showError(err)
		r.showSystemMessage("Use /key to enter one.")
	default:
		if se, ok := apperr.AsStream(err); ok {
			r.showError(se.Cause)
			return
		}
		r.showError(err)
	}
}
