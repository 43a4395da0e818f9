package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"promptrunner/internal/task"
)

// Loop plays the UI goroutine for fronts that have no event loop of their
// own. It owns the Session: runner events and posted calls are applied one
// at a time, in arrival order.
type Loop struct {
	session *Session
	events  <-chan task.Event
	calls   chan func(*Session)
}

func NewLoop(s *Session, events <-chan task.Event) *Loop {
	return &Loop{
		session: s,
		events:  events,
		calls:   make(chan func(*Session)),
	}
}

// Run drains events and calls until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	events := l.events
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.session.Apply(ev)
		case fn := <-l.calls:
			fn(l.session)
		case <-ctx.Done():
			log.Debug().Msg("session loop stopped")
			return
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return. ctx only
// bounds the wait for the loop to accept fn; once accepted, fn always runs to
// completion before Do returns.
func (l *Loop) Do(ctx context.Context, fn func(*Session)) error {
	done := make(chan struct{})
	call := func(s *Session) {
		defer close(done)
		fn(s)
	}
	select {
	case l.calls <- call:
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
	<-done
	return nil
}

// CheckCredential tests the key against the API from the caller's goroutine and reports the
// outcome on the loop. Only the prober is touched off-loop.
func (l *Loop) CheckCredential(ctx context.Context, key string) (bool, string, error) {
	ok, err := l.session.CheckCredential(ctx, key)
	var msg string
	if doErr := l.Do(ctx, func(s *Session) { msg = s.ReportCredential(ok, err) }); doErr != nil {
		return false, "", doErr
	}
	return ok, msg, err
}
