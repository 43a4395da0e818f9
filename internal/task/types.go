package task

import "time"

// State is the lifecycle position of a Runner.
//
//	idle -> running -> succeeded | failed | cancelled -> running (next Start)
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Prompt is what the user submitted. Runners keep their own copy.
type Prompt struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Result is the outcome of one task. Payload holds the completion text on
// success and the diagnostic otherwise.
type Result struct {
	Status  State  `json:"status"`
	Payload string `json:"payload"`
	Err     error  `json:"-"`
}

// Event is one notification from a worker. Seq starts at 1 for each task and
// orders its events; the terminal event always has the highest Seq.
type Event struct {
	TaskID  string    `json:"task_id"`
	Seq     int       `json:"seq"`
	Kind    EventKind `json:"kind"`
	Percent int       `json:"percent"`
	Message string    `json:"message,omitempty"`
	Result  *Result   `json:"result,omitempty"`
	At      time.Time `json:"at"`
}

// Terminal reports whether the event ends its task.
func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}

type Options struct {
	EventBuffer int
}

const defaultEventBuffer = 64

func kindFor(status State) EventKind {
	switch status {
	case StateSucceeded:
		return EventSucceeded
	case StateCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}
