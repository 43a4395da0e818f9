// Package session holds the state a prompt runner window shows and the rules
// for changing it. A Session is not safe for concurrent use: it belongs to
// the UI goroutine, which feeds it runner events one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"promptrunner/internal/config"
	"promptrunner/internal/task"
)

const maxConsoleLines = 1000

// ErrNothingToSave is returned by RetrySave when no completion is held.
var ErrNothingToSave = errors.New("no completion to save")

// Starter launches background tasks. *task.Runner implements it.
type Starter interface {
	Start(prompt task.Prompt, credential string) (string, error)
	Cancel() bool
}

// Prober validates a credential. completion.Client implements it.
type Prober interface {
	TestCredential(ctx context.Context, credential string) (bool, error)
}

// Form is a snapshot of the input fields, taken when the user acts.
type Form struct {
	Title         string `json:"title"`
	Body          string `json:"prompt"`
	APIKey        string `json:"api_key,omitempty"`
	PromptsFolder string `json:"prompts_folder,omitempty"`
	OutputsFolder string `json:"outputs_folder,omitempty"`
	RevealKey     bool   `json:"reveal_key,omitempty"`
}

// View is a copy of everything a front renders.
type View struct {
	Console     []string   `json:"console"`
	Progress    int        `json:"progress"`
	Running     bool       `json:"running"`
	TaskID      string     `json:"task_id,omitempty"`
	LastStatus  task.State `json:"last_status,omitempty"`
	LastOutput  string     `json:"last_output,omitempty"`
	PendingSave bool       `json:"pending_save"`
	DarkMode    bool       `json:"dark_mode"`
	APIKey      string     `json:"api_key"`
	RevealKey   bool       `json:"reveal_key"`
}

type Session struct {
	doc     config.Document
	starter Starter
	prober  Prober
	store   Store

	running     bool
	currentID   string
	submitted   Form
	console     []string
	progress    int
	lastStatus  task.State
	lastOutput  string
	pendingSave bool
	revealKey   bool
}

// New creates an idle session around the loaded document.
func New(doc config.Document, starter Starter, prober Prober, store Store) *Session {
	if store == nil {
		store = NewFileStore()
	}
	return &Session{
		doc:        doc,
		starter:    starter,
		prober:     prober,
		store:      store,
		lastStatus: task.StateIdle,
	}
}

// Run validates form and starts a task. Validation failures leave the
// session untouched and are meant to be shown as a blocking message.
func (s *Session) Run(form Form) (string, error) {
	if s.running {
		return "", task.ErrBusy
	}
	if strings.TrimSpace(form.Body) == "" {
		return "", task.ErrPromptMissing
	}
	if strings.TrimSpace(form.APIKey) == "" {
		return "", task.ErrCredentialMissing
	}

	id, err := s.starter.Start(task.Prompt{Title: form.Title, Body: form.Body}, form.APIKey)
	if err != nil {
		return "", fmt.Errorf("start task: %w", err)
	}

	s.console = s.console[:0]
	s.progress = 0
	s.running = true
	s.currentID = id
	s.submitted = form
	s.lastOutput = ""
	s.pendingSave = false
	s.remember(form)
	s.revealKey = form.RevealKey
	s.appendConsole("Running prompt...")
	return id, nil
}

// Cancel asks the running task to stop; the result still arrives as an event.
func (s *Session) Cancel() bool {
	if !s.running {
		return false
	}
	return s.starter.Cancel()
}

// Apply consumes one runner event. Events of any task other than the current
// one are discarded. It reports whether the event changed the session.
func (s *Session) Apply(ev task.Event) bool {
	if !s.running || ev.TaskID != s.currentID {
		log.Debug().Str("task_id", ev.TaskID).Str("kind", string(ev.Kind)).Msg("stale event discarded")
		return false
	}

	switch ev.Kind {
	case task.EventProgress:
		s.progress = ev.Percent
		if ev.Message != "" {
			s.appendConsole(fmt.Sprintf("Processing: %d%% complete (%s)", ev.Percent, ev.Message))
		}
		return true
	case task.EventSucceeded:
		s.progress = 100
		s.lastOutput = payload(ev)
		s.appendConsole("API call completed successfully")
		_ = s.saveResult()
	case task.EventFailed:
		s.appendConsole("API call failed: " + payload(ev))
	case task.EventCancelled:
		s.appendConsole("API call cancelled")
	}

	s.running = false
	s.lastStatus = statusOf(ev)
	return true
}

// RetrySave writes the held completion again, optionally to new folders.
func (s *Session) RetrySave(promptsFolder, outputsFolder string) error {
	if s.running || s.lastStatus != task.StateSucceeded {
		return ErrNothingToSave
	}
	if promptsFolder != "" {
		s.submitted.PromptsFolder = promptsFolder
	}
	if outputsFolder != "" {
		s.submitted.OutputsFolder = outputsFolder
	}
	return s.saveResult()
}

// CheckCredential tests key against the API. It blocks on the network and must not be
// called from the UI goroutine; report the answer with ReportCredential.
func (s *Session) CheckCredential(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, task.ErrCredentialMissing
	}
	if s.prober == nil {
		return false, errors.New("no api client configured")
	}
	return s.prober.TestCredential(ctx, key) //nolint:wrapcheck
}

// ReportCredential records the outcome of CheckCredential in the console.
func (s *Session) ReportCredential(ok bool, err error) string {
	msg := "API key is invalid!"
	switch {
	case ok:
		msg = "API key is valid!"
	case err != nil:
		msg = "API key is invalid: " + err.Error()
	}
	s.appendConsole(msg)
	return msg
}

// Note appends a line to the console.
func (s *Session) Note(line string) {
	s.appendConsole(line)
}

// SetDarkMode switches the display preference.
func (s *Session) SetDarkMode(on bool) {
	s.doc.DarkMode = on
}

// SetRevealKey controls whether View shows the credential in clear.
func (s *Session) SetRevealKey(on bool) {
	s.revealKey = on
}

// Document returns the settings to persist, merged with the form fields.
func (s *Session) Document(form Form) config.Document {
	s.remember(form)
	return s.doc
}

// Settings returns the in-memory settings without merging anything.
func (s *Session) Settings() config.Document {
	return s.doc
}

// View returns a copy of the visible state.
func (s *Session) View() View {
	console := make([]string, len(s.console))
	copy(console, s.console)
	return View{
		Console:     console,
		Progress:    s.progress,
		Running:     s.running,
		TaskID:      s.currentID,
		LastStatus:  s.lastStatus,
		LastOutput:  s.lastOutput,
		PendingSave: s.pendingSave,
		DarkMode:    s.doc.DarkMode,
		APIKey:      MaskCredential(s.doc.APIKey, s.revealKey),
		RevealKey:   s.revealKey,
	}
}

// Running reports whether the run control should be disabled.
func (s *Session) Running() bool {
	return s.running
}

func (s *Session) saveResult() error {
	form := s.submitted
	promptPath, err := s.store.SavePrompt(form.PromptsFolder, form.Title, form.Body)
	if err == nil {
		s.appendConsole("Prompt saved to: " + promptPath)
		var outputPath string
		outputPath, err = s.store.SaveOutput(form.OutputsFolder, form.Title, s.lastOutput)
		if err == nil {
			s.appendConsole("Output saved to: " + outputPath)
		}
	}
	if err != nil {
		s.pendingSave = true
		s.appendConsole("Saving failed: " + err.Error())
		log.Warn().Err(err).Str("task_id", s.currentID).Msg("saving run files failed")
		return err
	}
	s.pendingSave = false
	log.Info().Str("task_id", s.currentID).Msg("run files saved")
	return nil
}

func (s *Session) remember(form Form) {
	if form.APIKey != "" {
		s.doc.APIKey = form.APIKey
	}
	if form.PromptsFolder != "" {
		s.doc.PromptsFolder = form.PromptsFolder
	}
	if form.OutputsFolder != "" {
		s.doc.OutputsFolder = form.OutputsFolder
	}
}

func (s *Session) appendConsole(line string) {
	s.console = append(s.console, line)
	if over := len(s.console) - maxConsoleLines; over > 0 {
		s.console = append(s.console[:0], s.console[over:]...)
	}
}

func payload(ev task.Event) string {
	if ev.Result != nil {
		return ev.Result.Payload
	}
	return ev.Message
}

func statusOf(ev task.Event) task.State {
	if ev.Result != nil {
		return ev.Result.Status
	}
	switch ev.Kind {
	case task.EventSucceeded:
		return task.StateSucceeded
	case task.EventCancelled:
		return task.StateCancelled
	default:
		return task.StateFailed
	}
}

// MaskCredential hides key unless reveal is set.
func MaskCredential(key string, reveal bool) string {
	if reveal || key == "" {
		return key
	}
	return strings.Repeat("*", len([]rune(key)))
}
