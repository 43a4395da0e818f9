package task

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"promptrunner/internal/completion"
)

// Runner executes at most one prompt at a time on a background goroutine and
// hands every notification to a single consumer through Events.
type Runner struct {
	mu        sync.Mutex
	client    completion.Client
	state     State
	current   *run
	events    chan Event
	workersWG sync.WaitGroup
	baseCtx   context.Context
}

// run is the bookkeeping of one task. Only its worker emits events.
type run struct {
	id         string
	prompt     Prompt
	credential string
	cancel     context.CancelFunc
	startedAt  time.Time

	mu          sync.Mutex
	seq         int
	lastPercent int
	finished    atomic.Bool
}

// NewRunner creates an idle runner that submits prompts through client.
func NewRunner(client completion.Client, opts Options) *Runner {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Runner{
		client:  client,
		state:   StateIdle,
		events:  make(chan Event, opts.EventBuffer),
		baseCtx: context.Background(),
	}
}

// Events is the hand-off channel. It must be drained by exactly one consumer.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Start validates the input and launches a worker. Prompt and credential are
// copied; later edits by the caller do not reach the worker.
func (r *Runner) Start(prompt Prompt, credential string) (string, error) {
	if strings.TrimSpace(prompt.Body) == "" {
		return "", ErrPromptMissing
	}
	if strings.TrimSpace(credential) == "" {
		return "", ErrCredentialMissing
	}

	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		log.Warn().Msg("rejecting start: a task is already running")
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	newRun := &run{
		id:         uuid.NewString(),
		prompt:     prompt,
		credential: credential,
		cancel:     cancel,
		startedAt:  time.Now(),
	}
	r.current = newRun
	r.state = StateRunning
	client := r.client
	r.workersWG.Add(1)
	r.mu.Unlock()

	log.Info().
		Str("task_id", newRun.id).
		Str("title", prompt.Title).
		Int("prompt_chars", len(prompt.Body)).
		Bool("credential_set", true).
		Msg("task started")

	go func() {
		defer r.workersWG.Done()
		r.process(ctx, client, newRun)
	}()
	return newRun.id, nil
}

// Cancel asks the running task to stop. It reports whether a task was running.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.current == nil {
		return false
	}
	log.Info().Str("task_id", r.current.id).Msg("task cancellation requested")
	r.current.cancel()
	return true
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsBusy reports whether a task is in flight.
func (r *Runner) IsBusy() bool {
	return r.State() == StateRunning
}

// Current returns the id of the most recent task and whether it is running.
func (r *Runner) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return "", false
	}
	return r.current.id, r.state == StateRunning
}

// SetBaseContext sets the parent context of every task. Cancelling it during
// shutdown aborts the in-flight request.
func (r *Runner) SetBaseContext(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
}

// WaitAll blocks until the worker finishes or the context is done.
// Returns true if the worker finished, false if timed out.
func (r *Runner) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		r.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
