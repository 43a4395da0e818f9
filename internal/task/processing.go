package task

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"promptrunner/internal/completion"
)

const (
	percentSubmitted = 5
	percentStreaming = 10
	percentWaiting   = 50
	percentStreamMax = 95
	percentDone      = 100
)

// process runs one task to completion and always ends with exactly one
// terminal event.
func (r *Runner) process(ctx context.Context, client completion.Client, tk *run) {
	defer tk.cancel()
	res := r.execute(ctx, client, tk)
	r.finish(tk, res)
}

func (r *Runner) execute(ctx context.Context, client completion.Client, tk *run) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("task_id", tk.id).Interface("panic", p).Msg("worker panicked")
			err := fmt.Errorf("internal error: %v", p)
			res = Result{Status: StateFailed, Payload: err.Error(), Err: err}
		}
	}()

	r.progress(tk, percentSubmitted, "submitting prompt")
	if ctx.Err() != nil {
		return cancelled()
	}

	var (
		text string
		err  error
	)
	if streamer, ok := client.(completion.Streamer); ok {
		r.progress(tk, percentStreaming, "streaming response")
		text, err = streamer.SubmitStream(ctx, tk.credential, tk.prompt.Body, func(ch completion.Chunk) {
			if ctx.Err() == nil {
				r.progress(tk, chunkPercent(ch), "")
			}
		})
	} else {
		r.progress(tk, percentWaiting, "waiting for response")
		text, err = client.Submit(ctx, tk.credential, tk.prompt.Body)
	}

	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		log.Warn().Str("task_id", tk.id).Err(err).Msg("completion request failed")
		return Result{Status: StateFailed, Payload: err.Error(), Err: err}
	}

	r.progress(tk, percentDone, "response received")
	return Result{Status: StateSucceeded, Payload: text}
}

func cancelled() Result {
	return Result{Status: StateCancelled, Payload: "cancelled", Err: context.Canceled}
}

// chunkPercent maps streamed chunks onto the band between streaming start
// and completion.
func chunkPercent(ch completion.Chunk) int {
	if ch.Budget <= 0 {
		return percentStreaming
	}
	span := percentStreamMax - percentStreaming
	p := percentStreaming + ch.Received*span/ch.Budget
	if p > percentStreamMax {
		p = percentStreamMax
	}
	return p
}

// progress emits a progress event. Percent is clamped to [0,100] and never
// goes below the last emitted value; repeats without a message are skipped.
func (r *Runner) progress(tk *run, percent int, message string) {
	if percent < 0 {
		percent = 0
	} else if percent > percentDone {
		percent = percentDone
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if tk.finished.Load() {
		return
	}
	if percent < tk.lastPercent {
		percent = tk.lastPercent
	}
	if percent == tk.lastPercent && message == "" && tk.seq > 0 {
		return
	}
	tk.lastPercent = percent
	r.emit(tk.next(Event{Kind: EventProgress, Percent: percent, Message: message}))
}

// finish hands off the terminal event. A second call for the same task is
// dropped.
func (r *Runner) finish(tk *run, res Result) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	if !tk.finished.CompareAndSwap(false, true) {
		log.Warn().Str("task_id", tk.id).Str("status", string(res.Status)).Msg("duplicate terminal notification dropped")
		return
	}

	r.mu.Lock()
	if r.current == tk {
		r.state = res.Status
	}
	r.mu.Unlock()

	evt := log.Info()
	if res.Status == StateFailed {
		evt = log.Warn()
	}
	evt.Str("task_id", tk.id).
		Str("status", string(res.Status)).
		Dur("elapsed", time.Since(tk.startedAt)).
		Msg("task finished")

	r.emit(tk.next(Event{Kind: kindFor(res.Status), Percent: tk.lastPercent, Message: res.Payload, Result: &res}))
}

func (tk *run) next(ev Event) Event {
	tk.seq++
	ev.TaskID = tk.id
	ev.Seq = tk.seq
	ev.At = time.Now()
	return ev
}

// emit delivers ev in order. It only gives up when the base context is done,
// i.e. the process is shutting down and nobody drains the channel any more.
func (r *Runner) emit(ev Event) {
	select {
	case r.events <- ev:
		return
	default:
	}

	r.mu.Lock()
	done := r.baseCtx.Done()
	r.mu.Unlock()
	select {
	case r.events <- ev:
	case <-done:
		log.Warn().Str("task_id", ev.TaskID).Str("kind", string(ev.Kind)).Msg("event dropped during shutdown")
	}
}
