package chat

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	apperr "github.com/samsaffron/groq-chat/internal/errors"
	"github.com/samsaffron/groq-chat/internal/llm"
	"github.com/samsaffron/groq-chat/internal/telemetry"
	"github.com/samsaffron/groq-chat/internal/usage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProviderSource resolves a provider name and credential to a Provider.
// *llm.Factory implements it.
type ProviderSource interface {
	Provider(name, credential string) (llm.Provider, error)
}

// UsageRecorder receives one entry per finished turn.
type UsageRecorder interface {
	Log(entry usage.LogEntry) error
}

// Client streams completions for sessions. It never modifies a transcript;
// committing a reply is left to the caller (see Converse).
type Client struct {
	providers ProviderSource
	logger    *zap.Logger
	tracer    trace.Tracer
	inst      *telemetry.Instruments
	ledger    UsageRecorder
	now       func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTelemetry records spans and turn metrics on p.
func WithTelemetry(p *telemetry.Providers) ClientOption {
	return func(c *Client) {
		c.tracer = p.TracerProvider.Tracer(telemetry.InstrumentationName)
		if inst, err := telemetry.NewInstruments(p.MeterProvider); err == nil {
			c.inst = inst
		}
	}
}

// WithUsage writes a ledger entry for every turn.
func WithUsage(r UsageRecorder) ClientOption {
	return func(c *Client) { c.ledger = r }
}

// WithClientClock overrides the time source used for durations.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(providers ProviderSource, opts ...ClientOption) *Client {
	noop := telemetry.Noop()
	inst, _ := telemetry.NewInstruments(noop.MeterProvider)
	c := &Client{
		providers: providers,
		logger:    zap.NewNop(),
		tracer:    noop.TracerProvider.Tracer(telemetry.InstrumentationName),
		inst:      inst,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamCompletion sends the session's transcript to the selected model and
// returns a Reply yielding the response fragments. It fails with a Busy error
// while another stream is in flight and with a MissingCredential error before
// any provider is contacted.
func (c *Client) StreamCompletion(ctx context.Context, sess *Session) (*Reply, error) {
	turn, err := sess.begin()
	if err != nil {
		return nil, err
	}
	return c.open(ctx, sess, turn)
}

func (c *Client) open(ctx context.Context, sess *Session, turn pendingTurn) (*Reply, error) {
	ctx, span := c.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("chat.session_id", sess.ID()),
		attribute.String("chat.model", turn.model.ID),
		attribute.String("chat.provider", turn.model.Provider),
		attribute.Int("chat.max_tokens", turn.request.MaxOutputTokens),
		attribute.Float64("chat.temperature", turn.request.Temperature),
		attribute.Int("chat.messages", len(turn.request.Messages)),
	))
	r := &Reply{
		client: c,
		sess:   sess,
		turn:   turn,
		ctx:    ctx,
		span:   span,
		start:  c.now(),
	}
	c.logger.Info("chat turn started",
		zap.String("session", sess.ID()),
		zap.String("model", turn.model.ID),
		zap.String("provider", turn.model.Provider),
		zap.Int("messages", len(turn.request.Messages)),
		zap.Int("max_tokens", turn.request.MaxOutputTokens),
		zap.Float64("temperature", turn.request.Temperature),
	)

	provider, err := c.providers.Provider(turn.model.Provider, turn.credential)
	if err != nil {
		r.finish(err)
		return nil, err
	}
	stream, err := provider.Stream(ctx, turn.request)
	if err != nil {
		r.finish(r.classify(err))
		return nil, r.err
	}
	r.stream = stream
	return r, nil
}

// Converse appends input as a user turn, streams the reply and commits it.
// onFragment, when set, sees every fragment as it arrives. A failed stream is
// recorded as an "Error: ..." assistant turn; a canceled one records nothing.
func (c *Client) Converse(ctx context.Context, sess *Session, input string, onFragment func(string)) (string, error) {
	turn, err := sess.beginWithUserTurn(input)
	if err != nil {
		return "", err
	}

	reply, err := c.open(ctx, sess, turn)
	if err != nil {
		commitFailure(sess, err)
		return "", err
	}
	defer reply.Close()

	for fragment, err := range reply.Fragments() {
		if err != nil {
			commitFailure(sess, err)
			return "", err
		}
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	text := reply.Text()
	sess.AppendAssistantTurn(text)
	return text, nil
}

func commitFailure(sess *Session, err error) {
	if se, ok := apperr.AsStream(err); ok {
		sess.AppendAssistantTurn("Error: " + se.Cause.Error())
	}
}

// Reply is one streaming response. It is consumed by a single goroutine and
// must be closed.
type Reply struct {
	client *Client
	sess   *Session
	turn   pendingTurn
	ctx    context.Context
	span   trace.Span
	stream llm.Stream
	start  time.Time

	text      strings.Builder
	fragments int
	usage     llm.Usage
	hasUsage  bool

	done bool
	err  error
}

// Model returns the id of the model answering.
func (r *Reply) Model() string {
	return r.turn.model.ID
}

// Recv returns the next fragment, io.EOF after the last one, a
// *errors.StreamError when the stream fails, or a Canceled error when the
// context ends first.
func (r *Reply) Recv() (string, error) {
	if r.done {
		if r.err != nil {
			return "", r.err
		}
		return "", io.EOF
	}
	for {
		ev, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			r.finish(nil)
			return "", io.EOF
		}
		if err != nil {
			r.finish(r.classify(err))
			return "", r.err
		}
		switch ev.Type {
		case llm.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			if r.fragments == 0 {
				r.sess.setState(StateStreaming)
			}
			r.fragments++
			r.text.WriteString(ev.Text)
			return ev.Text, nil
		case llm.EventUsage:
			if ev.Use != nil {
				r.usage = *ev.Use
				r.hasUsage = true
			}
		case llm.EventDone:
			r.finish(nil)
			return "", io.EOF
		}
	}
}

// Fragments ranges over the remaining fragments. A failure is yielded once
// as the final element.
func (r *Reply) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			fragment, err := r.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Text returns the text received so far. It is empty after cancellation.
func (r *Reply) Text() string {
	return r.text.String()
}

// Usage returns token counts when the provider reported them.
func (r *Reply) Usage() (llm.Usage, bool) {
	return r.usage, r.hasUsage
}

// Close releases the session. Closing before the stream ended counts as a
// cancellation.
func (r *Reply) Close() error {
	if !r.done {
		r.finish(apperr.Canceled(context.Canceled))
	}
	return nil
}

func (r *Reply) classify(err error) error {
	if r.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return apperr.Canceled(err)
	}
	return &apperr.StreamError{
		Model:     r.turn.model.ID,
		Partial:   r.text.String(),
		Fragments: r.fragments,
		Cause:     err,
	}
}

// finish settles the turn exactly once: it closes the stream, updates the
// session state and records the outcome.
func (r *Reply) finish(err error) {
	if r.done {
		return
	}
	r.done = true
	r.err = err
	if r.stream != nil {
		_ = r.stream.Close()
	}

	outcome := usage.OutcomeCompleted
	state := StateCompleted
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindCanceled):
		outcome = usage.OutcomeCanceled
		state = StateFailed
		r.text.Reset()
	default:
		outcome = usage.OutcomeFailed
		state = StateFailed
	}
	r.sess.setState(state)
	r.record(outcome, err)
}

func (r *Reply) record(outcome string, err error) {
	c := r.client
	elapsed := c.now().Sub(r.start)
	// The turn may end because ctx was canceled; metrics still need a live context.
	ctx := context.WithoutCancel(r.ctx)

	attrs := metric.WithAttributes(
		attribute.String("model", r.turn.model.ID),
		attribute.String("provider", r.turn.model.Provider),
		attribute.String("outcome", outcome),
	)
	c.inst.Turns.Add(ctx, 1, attrs)
	if r.fragments > 0 {
		c.inst.Fragments.Add(ctx, int64(r.fragments), attrs)
	}
	c.inst.Duration.Record(ctx, elapsed.Seconds(), attrs)

	r.span.SetAttributes(
		attribute.String("chat.outcome", outcome),
		attribute.Int("chat.fragments", r.fragments),
		attribute.Int("chat.output_tokens", r.usage.OutputTokens),
	)
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, outcome)
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.End()

	fields := []zap.Field{
		zap.String("session", r.sess.ID()),
		zap.String("model", r.turn.model.ID),
		zap.String("outcome", outcome),
		zap.Int("fragments", r.fragments),
		zap.Duration("elapsed", elapsed),
	}
	if r.hasUsage {
		fields = append(fields, zap.Int("input_tokens", r.usage.InputTokens), zap.Int("output_tokens", r.usage.OutputTokens))
	}
	switch outcome {
	case usage.OutcomeFailed:
		c.logger.Warn("chat turn failed", append(fields, zap.Error(err))...)
	default:
		c.logger.Info("chat turn finished", fields...)
	}

	if c.ledger != nil {
		entry := usage.LogEntry{
			Timestamp:    c.now(),
			SessionID:    r.sess.ID(),
			Model:        r.turn.model.ID,
			Provider:     r.turn.model.Provider,
			Outcome:      outcome,
			Fragments:    r.fragments,
			InputTokens:  r.usage.InputTokens,
			OutputTokens: r.usage.OutputTokens,
			DurationMS:   elapsed.Milliseconds(),
		}
		if lerr := c.ledger.Log(entry); lerr != nil {
			c.logger.Warn("usage ledger write failed", zap.Error(lerr))
		}
	}
}
