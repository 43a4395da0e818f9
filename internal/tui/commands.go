package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"promptrunner/internal/config"
	"promptrunner/internal/session"
	"promptrunner/internal/task"
)

const credentialTimeout = 15 * time.Second

type (
	eventMsg struct {
		Event task.Event
	}
	eventsClosedMsg struct{}
	credentialMsg   struct {
		Valid bool
		Err   error
	}
	configSavedMsg struct {
		Path string
		Err  error
	}
	clearStatusMsg struct {
		Seq int
	}
)

// waitForEvent delivers the next runner event to Update. It must be re-armed
// after each event.
func waitForEvent(ch <-chan task.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{Event: ev}
	}
}

// checkCredential tests the key against the API off the UI goroutine.
func checkCredential(s *session.Session, key string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
		defer cancel()
		ok, err := s.CheckCredential(ctx, key)
		return credentialMsg{Valid: ok, Err: err}
	}
}

func saveConfig(save SaveFunc, doc config.Document) tea.Cmd {
	return func() tea.Msg {
		path, err := save(doc)
		return configSavedMsg{Path: path, Err: err}
	}
}

func clearStatusAfter(seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearStatusMsg{Seq: seq}
	})
}
