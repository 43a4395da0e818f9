package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"promptrunner/internal/completion"
	"promptrunner/internal/config"
	"promptrunner/internal/task"
)

// fakeClient answers Submit by credential: "valid-key" gets reply, anything
// else is rejected as unauthorized.
type fakeClient struct {
	reply string
	block chan struct{}
}

func (f *fakeClient) Submit(ctx context.Context, credential, prompt string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if credential != "valid-key" {
		return "", &completion.Error{Kind: completion.KindUnauthorized, Diagnostic: "http 401", StatusCode: http.StatusUnauthorized}
	}
	return f.reply, nil
}

func (f *fakeClient) TestCredential(_ context.Context, credential string) (bool, error) {
	if credential != "valid-key" {
		return false, &completion.Error{Kind: completion.KindUnauthorized, Diagnostic: "http 401"}
	}
	return true, nil
}

// failingStore refuses the first n output writes.
type failingStore struct {
	Store
	failures int
}

func (f *failingStore) SaveOutput(folder, title, output string) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("disk full")
	}
	return f.Store.SaveOutput(folder, title, output)
}

type fixture struct {
	session *Session
	runner  *task.Runner
	client  *fakeClient
	form    Form
}

func newFixture(t *testing.T, store Store) fixture {
	t.Helper()
	dir := t.TempDir()
	client := &fakeClient{reply: "World"}
	runner := task.NewRunner(client, task.Options{})
	doc := config.Default()
	return fixture{
		session: New(doc, runner, client, store),
		runner:  runner,
		client:  client,
		form: Form{
			Title:         "greeting",
			Body:          "Hello",
			APIKey:        "valid-key",
			PromptsFolder: filepath.Join(dir, "prompts"),
			OutputsFolder: filepath.Join(dir, "outputs"),
		},
	}
}

// drain feeds runner events to the session until the terminal one.
func (f fixture) drain(t *testing.T) task.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.runner.Events():
			f.session.Apply(ev)
			if ev.Terminal() {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for terminal event")
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestRunSucceededWritesFiles(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !f.session.Running() {
		t.Fatalf("run control should be disabled while running")
	}

	ev := f.drain(t)
	if ev.Kind != task.EventSucceeded || ev.Result.Payload != "World" {
		t.Fatalf("unexpected terminal: %+v", ev)
	}
	if got := readFile(t, filepath.Join(f.form.PromptsFolder, "greeting.txt")); got != "Hello" {
		t.Fatalf("prompt file = %q", got)
	}
	if got := readFile(t, filepath.Join(f.form.OutputsFolder, "greeting_output.txt")); got != "World" {
		t.Fatalf("output file = %q", got)
	}

	view := f.session.View()
	if view.Running || view.Progress != 100 || view.LastOutput != "World" || view.PendingSave {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.LastStatus != task.StateSucceeded {
		t.Fatalf("expected succeeded status, got %s", view.LastStatus)
	}
}

func TestRunFailedWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.form.Body = "Hi"
	f.form.APIKey = "bad-key"
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}

	ev := f.drain(t)
	if ev.Kind != task.EventFailed || !strings.Contains(ev.Result.Payload, "Unauthorized") {
		t.Fatalf("expected Unauthorized failure, got %+v", ev)
	}
	if _, err := os.Stat(f.form.PromptsFolder); !os.IsNotExist(err) {
		t.Fatalf("prompts folder should not exist after failure: %v", err)
	}
	if _, err := os.Stat(f.form.OutputsFolder); !os.IsNotExist(err) {
		t.Fatalf("outputs folder should not exist after failure: %v", err)
	}

	view := f.session.View()
	if view.Running {
		t.Fatalf("run control should be re-enabled after failure")
	}
	last := view.Console[len(view.Console)-1]
	if !strings.Contains(last, "Unauthorized") {
		t.Fatalf("expected diagnostic in console, got %q", last)
	}
}

func TestRunValidationBlocksStart(t *testing.T) {
	f := newFixture(t, nil)
	f.session.Note("previous line")

	empty := f.form
	empty.Body = "  "
	if _, err := f.session.Run(empty); !errors.Is(err, task.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
	noKey := f.form
	noKey.APIKey = ""
	if _, err := f.session.Run(noKey); !errors.Is(err, task.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}

	if f.session.Running() || f.runner.State() != task.StateIdle {
		t.Fatalf("validation failure must not start a task")
	}
	if view := f.session.View(); len(view.Console) != 1 {
		t.Fatalf("console should be untouched, got %v", view.Console)
	}
}

func TestRunRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	f.client.block = make(chan struct{})

	firstID, err := f.session.Run(f.form)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := f.session.Run(f.form); !errors.Is(err, task.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(f.client.block)

	ev := f.drain(t)
	if ev.TaskID != firstID {
		t.Fatalf("terminal from unexpected task %q", ev.TaskID)
	}
}

func TestFailedStartKeepsConsole(t *testing.T) {
	f := newFixture(t, nil)
	f.client.block = make(chan struct{})
	other := New(config.Default(), f.runner, f.client, nil)
	if _, err := other.Run(f.form); err != nil {
		t.Fatalf("other run: %v", err)
	}

	f.session.Note("previous line")
	if _, err := f.session.Run(f.form); !errors.Is(err, task.ErrBusy) {
		t.Fatalf("expected ErrBusy from the runner, got %v", err)
	}
	view := f.session.View()
	if view.Running || len(view.Console) != 1 || view.Console[0] != "previous line" {
		t.Fatalf("failed start must leave the console alone: %+v", view)
	}
	close(f.client.block)
	f.drain(t)
}

func TestStaleEventsDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	if f.session.Apply(task.Event{TaskID: "ghost", Kind: task.EventSucceeded, Result: &task.Result{Status: task.StateSucceeded}}) {
		t.Fatalf("event applied while idle")
	}

	f.client.block = make(chan struct{})
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.session.Apply(task.Event{TaskID: "ghost", Kind: task.EventFailed}) {
		t.Fatalf("event from another task applied")
	}
	if !f.session.Running() {
		t.Fatalf("stale event ended the current run")
	}
	close(f.client.block)
	f.drain(t)
}

func TestSaveFailureKeepsOutputForRetry(t *testing.T) {
	store := &failingStore{Store: NewFileStore(), failures: 1}
	f := newFixture(t, store)
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.drain(t)

	view := f.session.View()
	if !view.PendingSave || view.LastOutput != "World" {
		t.Fatalf("expected pending save with output kept, got %+v", view)
	}
	if err := f.session.RetrySave("", ""); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if got := readFile(t, OutputPath(f.form.OutputsFolder, f.form.Title)); got != "World" {
		t.Fatalf("output after retry = %q", got)
	}
	if f.session.View().PendingSave {
		t.Fatalf("pending save not cleared")
	}
}

func TestRetrySaveWithoutResult(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.session.RetrySave("", ""); !errors.Is(err, ErrNothingToSave) {
		t.Fatalf("expected ErrNothingToSave, got %v", err)
	}
}

func TestMissingFolderIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.form.OutputsFolder = ""
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.drain(t)
	if !f.session.View().PendingSave {
		t.Fatalf("expected pending save when outputs folder is unset")
	}
	err := f.session.RetrySave("", filepath.Join(t.TempDir(), "late"))
	if err != nil {
		t.Fatalf("retry with folder: %v", err)
	}
}

func TestCancelReportsCancelled(t *testing.T) {
	f := newFixture(t, nil)
	f.client.block = make(chan struct{})
	if f.session.Cancel() {
		t.Fatalf("cancel should be false while idle")
	}
	if _, err := f.session.Run(f.form); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !f.session.Cancel() {
		t.Fatalf("cancel should reach the runner")
	}
	if ev := f.drain(t); ev.Kind != task.EventCancelled {
		t.Fatalf("expected cancelled, got %+v", ev)
	}
	if f.session.View().LastStatus != task.StateCancelled {
		t.Fatalf("expected cancelled status")
	}
}

func TestCheckCredential(t *testing.T) {
	f := newFixture(t, nil)
	if ok, err := f.session.CheckCredential(context.Background(), ""); ok || !errors.Is(err, task.ErrCredentialMissing) {
		t.Fatalf("expected missing credential, got %v %v", ok, err)
	}
	ok, err := f.session.CheckCredential(context.Background(), "bad-key")
	if ok {
		t.Fatalf("expected false for bad key")
	}
	if msg := f.session.ReportCredential(ok, err); !strings.Contains(msg, "invalid") {
		t.Fatalf("unexpected message %q", msg)
	}
	ok, err = f.session.CheckCredential(context.Background(), "valid-key")
	if msg := f.session.ReportCredential(ok, err); msg != "API key is valid!" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestCheckCredentialAgainstHTTP401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := completion.NewOpenAI(completion.Options{Endpoint: srv.URL})
	s := New(config.Default(), task.NewRunner(client, task.Options{}), client, nil)
	if ok, _ := s.CheckCredential(context.Background(), "whatever"); ok {
		t.Fatalf("expected false on 401")
	}
}

func TestDocumentMergesForm(t *testing.T) {
	f := newFixture(t, nil)
	f.session.SetDarkMode(true)
	doc := f.session.Document(f.form)
	if doc.APIKey != "valid-key" || doc.PromptsFolder != f.form.PromptsFolder || !doc.DarkMode {
		t.Fatalf("unexpected merged document: %+v", doc)
	}
}

func TestFileTitleAndMask(t *testing.T) {
	cases := map[string]string{
		"":           "untitled",
		"  ":         "untitled",
		"..":         "untitled",
		"notes":      "notes",
		"../escape":  ".._escape",
		`dir\inside`: "dir_inside",
	}
	for in, want := range cases {
		if got := FileTitle(in); got != want {
			t.Fatalf("FileTitle(%q)=%q want %q", in, got, want)
		}
	}
	if got := OutputPath("/out", ""); got != filepath.Join("/out", "untitled_output.txt") {
		t.Fatalf("unexpected output path %q", got)
	}
	if MaskCredential("abc", false) != "***" || MaskCredential("abc", true) != "abc" {
		t.Fatalf("unexpected masking")
	}
}
