package llm

import (
	"context"
	"io"
)

// pullStream adapts a pull function to Stream. next is called once per Recv,
// so nothing is read from the wire before the caller asks for it.
type pullStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	next    func() (Event, error)
	closeFn func() error
	done    bool
}

// newPullStream wraps next. ctx must be the context the underlying request was
// issued with and cancel must cancel it; Close calls both cancel and closeFn.
func newPullStream(ctx context.Context, cancel context.CancelFunc, next func() (Event, error), closeFn func() error) Stream {
	return &pullStream{ctx: ctx, cancel: cancel, next: next, closeFn: closeFn}
}

func (s *pullStream) Recv() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		s.done = true
		return Event{}, err
	}
	ev, err := s.next()
	if err != nil {
		s.done = true
		// SDKs surface cancellation as transport errors; report the context error instead.
		if ctxErr := s.ctx.Err(); ctxErr != nil && err != io.EOF {
			return Event{}, ctxErr
		}
		return Event{}, err
	}
	if ev.Type == EventDone {
		s.done = true
		return Event{}, io.EOF
	}
	return ev, nil
}

func (s *pullStream) Close() error {
	s.cancel()
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// eventQueue holds events a single SDK chunk produced beyond the first.
type eventQueue []Event

func (q *eventQueue) push(ev Event) {
	*q = append(*q, ev)
}

func (q *eventQueue) pop() (Event, bool) {
	if len(*q) == 0 {
		return Event{}, false
	}
	ev := (*q)[0]
	*q = (*q)[1:]
	return ev, true
}
