// Package tui is the terminal front of the prompt runner. The bubbletea
// Update loop is the only goroutine touching the session.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"promptrunner/internal/config"
	"promptrunner/internal/session"
	"promptrunner/internal/task"
)

const (
	defaultWidth   = 80
	consoleHeight  = 8
	outputHeight   = 10
	bodyHeight     = 6
	statusDuration = 4 * time.Second
)

type field int

const (
	fieldTitle field = iota
	fieldBody
	fieldPrompts
	fieldOutputs
	fieldKey
	fieldCount
)

var fieldLabels = [fieldCount]string{"Title", "Prompt", "Prompts folder", "Outputs folder", "API key"}

// SaveFunc persists the settings and returns the path written.
type SaveFunc func(config.Document) (string, error)

type Deps struct {
	Session *session.Session
	Events  <-chan task.Event
	Save    SaveFunc
	// Copy defaults to the system clipboard.
	Copy func(string) error
}

type Model struct {
	session *session.Session
	events  <-chan task.Event
	save    SaveFunc
	copy    func(string) error

	title   textinput.Model
	body    textarea.Model
	prompts textinput.Model
	outputs textinput.Model
	key     textinput.Model
	focus   field

	console  viewport.Model
	output   viewport.Model
	bar      progress.Model
	spinner  spinner.Model
	styles   styles
	width    int
	rendered string

	status    string
	statusErr bool
	statusSeq int
	checking  bool
	quitting  bool
}

func New(deps Deps) *Model {
	doc := deps.Session.Settings()
	m := &Model{
		session: deps.Session,
		events:  deps.Events,
		save:    deps.Save,
		copy:    deps.Copy,
		width:   defaultWidth,
		styles:  newStyles(doc.DarkMode),
	}
	if m.copy == nil {
		m.copy = clipboard.WriteAll
	}

	m.title = newInput("untitled", 256)
	m.prompts = newInput("folder for prompt files", 1024)
	m.prompts.SetValue(doc.PromptsFolder)
	m.outputs = newInput("folder for output files", 1024)
	m.outputs.SetValue(doc.OutputsFolder)
	m.key = newInput("API key", 512)
	m.key.EchoMode = textinput.EchoPassword
	m.key.EchoCharacter = '*'
	m.key.SetValue(doc.APIKey)

	m.body = textarea.New()
	m.body.Placeholder = "Enter your prompt here..."
	m.body.ShowLineNumbers = false
	m.body.CharLimit = 0
	m.body.SetHeight(bodyHeight)

	m.console = viewport.New(defaultWidth, consoleHeight)
	m.output = viewport.New(defaultWidth, outputHeight)
	m.bar = progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	m.spinner = spinner.New(spinner.WithSpinner(spinner.Dot))

	m.resize(defaultWidth)
	m.setFocus(fieldTitle)
	return m
}

func newInput(placeholder string, limit int) textinput.Model {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = placeholder
	in.CharLimit = limit
	return in
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.events))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width)
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.applyEvent(msg.Event)
		return m, waitForEvent(m.events)
	case eventsClosedMsg:
		log.Debug().Msg("runner event channel closed")
		return m, nil
	case credentialMsg:
		m.checking = false
		line := m.session.ReportCredential(msg.Valid, msg.Err)
		m.refresh()
		return m, m.setStatus(line, !msg.Valid)
	case configSavedMsg:
		if msg.Err != nil {
			log.Error().Err(msg.Err).Msg("saving settings failed")
			return m, m.setStatus("Saving settings failed: "+msg.Err.Error(), true)
		}
		return m, m.setStatus("Settings saved to "+msg.Path, false)
	case clearStatusMsg:
		if msg.Seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil
	case tea.KeyMsg:
		if handled, cmd := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	cmds = append(cmds, m.updateFocused(msg))
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		if m.session.Running() {
			m.session.Cancel()
		}
		return true, tea.Quit
	case "tab":
		m.setFocus((m.focus + 1) % fieldCount)
		return true, nil
	case "shift+tab":
		m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		return true, nil
	case "ctrl+r":
		return true, m.run()
	case "ctrl+x":
		if m.session.Cancel() {
			return true, m.setStatus("Cancelling...", false)
		}
		return true, nil
	case "ctrl+t":
		if m.checking {
			return true, nil
		}
		key := strings.TrimSpace(m.key.Value())
		if key == "" {
			return true, m.setStatus("Please enter an API key.", true)
		}
		m.checking = true
		return true, tea.Batch(checkCredential(m.session, key), m.setStatus("Testing API key...", false))
	case "ctrl+e":
		m.toggleReveal()
		return true, nil
	case "ctrl+d":
		m.toggleDark()
		return true, nil
	case "ctrl+y":
		return true, m.copyOutput()
	case "ctrl+s":
		if m.save == nil {
			return true, nil
		}
		return true, saveConfig(m.save, m.Document())
	case "ctrl+w":
		err := m.session.RetrySave(m.prompts.Value(), m.outputs.Value())
		m.refresh()
		if err != nil {
			return true, m.setStatus("Saving failed: "+err.Error(), true)
		}
		return true, m.setStatus("Files saved", false)
	}
	return false, nil
}

func (m *Model) run() tea.Cmd {
	_, err := m.session.Run(m.form())
	switch {
	case errors.Is(err, task.ErrPromptMissing):
		return m.setStatus("Please enter a prompt.", true)
	case errors.Is(err, task.ErrCredentialMissing):
		return m.setStatus("Please enter an API key.", true)
	case errors.Is(err, task.ErrBusy):
		return m.setStatus("A prompt is already running.", true)
	case err != nil:
		return m.setStatus(err.Error(), true)
	}
	m.rendered = ""
	m.output.SetContent("")
	m.refresh()
	return m.setStatus("Running prompt...", false)
}

func (m *Model) applyEvent(ev task.Event) {
	if !m.session.Apply(ev) {
		return
	}
	if ev.Kind == task.EventSucceeded {
		m.body.Reset()
		m.renderOutput()
	}
	m.refresh()
}

func (m *Model) form() session.Form {
	return session.Form{
		Title:         m.title.Value(),
		Body:          m.body.Value(),
		APIKey:        m.key.Value(),
		PromptsFolder: m.prompts.Value(),
		OutputsFolder: m.outputs.Value(),
		RevealKey:     m.key.EchoMode == textinput.EchoNormal,
	}
}

// Document returns the settings to persist, merged with the current inputs.
func (m *Model) Document() config.Document {
	return m.session.Document(m.form())
}

func (m *Model) toggleReveal() {
	reveal := m.key.EchoMode != textinput.EchoNormal
	if reveal {
		m.key.EchoMode = textinput.EchoNormal
	} else {
		m.key.EchoMode = textinput.EchoPassword
	}
	m.session.SetRevealKey(reveal)
}

func (m *Model) toggleDark() {
	dark := !m.session.Settings().DarkMode
	m.session.SetDarkMode(dark)
	m.styles = newStyles(dark)
	m.renderOutput()
}

func (m *Model) copyOutput() tea.Cmd {
	out := m.session.View().LastOutput
	if out == "" {
		return m.setStatus("Nothing to copy yet.", true)
	}
	if err := m.copy(out); err != nil {
		log.Warn().Err(err).Msg("clipboard copy failed")
		return m.setStatus("Copy failed: "+err.Error(), true)
	}
	return m.setStatus("Output copied to clipboard", false)
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.status = text
	m.statusErr = isErr
	return clearStatusAfter(m.statusSeq, statusDuration)
}

func (m *Model) setFocus(f field) {
	m.focus = f
	m.title.Blur()
	m.body.Blur()
	m.prompts.Blur()
	m.outputs.Blur()
	m.key.Blur()
	switch f {
	case fieldTitle:
		m.title.Focus()
	case fieldBody:
		m.body.Focus()
	case fieldPrompts:
		m.prompts.Focus()
	case fieldOutputs:
		m.outputs.Focus()
	case fieldKey:
		m.key.Focus()
	}
}

func (m *Model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.focus {
	case fieldTitle:
		m.title, cmd = m.title.Update(msg)
	case fieldBody:
		m.body, cmd = m.body.Update(msg)
	case fieldPrompts:
		m.prompts, cmd = m.prompts.Update(msg)
	case fieldOutputs:
		m.outputs, cmd = m.outputs.Update(msg)
	case fieldKey:
		m.key, cmd = m.key.Update(msg)
	}
	return cmd
}

func (m *Model) resize(width int) {
	if width <= 0 {
		width = defaultWidth
	}
	m.width = width
	inner := width - 6
	if inner < 20 {
		inner = 20
	}
	m.title.Width = inner - 2
	m.prompts.Width = inner - 2
	m.outputs.Width = inner - 2
	m.key.Width = inner - 2
	m.body.SetWidth(inner)
	m.console.Width = inner
	m.output.Width = inner
	m.bar.Width = inner
	m.renderOutput()
}

func (m *Model) renderOutput() {
	out := m.session.View().LastOutput
	if out == "" {
		m.rendered = ""
	} else {
		m.rendered = renderMarkdown(out, m.session.Settings().DarkMode, m.output.Width)
	}
	m.output.SetContent(m.rendered)
}

func (m *Model) refresh() {
	m.console.SetContent(strings.Join(m.session.View().Console, "\n"))
	m.console.GotoBottom()
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	v := m.session.View()
	s := m.styles

	var b strings.Builder
	b.WriteString(s.title.Render("Prompt Runner"))
	b.WriteString("\n")

	inputs := []string{m.title.View(), m.body.View(), m.prompts.View(), m.outputs.View(), m.key.View()}
	for i, in := range inputs {
		panel := s.panel
		if field(i) == m.focus {
			panel = s.panelFocused
		}
		b.WriteString(s.label.Render(fieldLabels[i]))
		b.WriteString("\n")
		b.WriteString(panel.Render(in))
		b.WriteString("\n")
		if field(i) == fieldBody {
			b.WriteString(s.hint.Render(fmt.Sprintf("Characters: %d", utf8.RuneCountInString(m.body.Value()))))
			b.WriteString("\n")
		}
	}

	state := "idle"
	if v.Running {
		state = m.spinner.View() + " running"
	} else if v.LastStatus != task.StateIdle {
		state = string(v.LastStatus)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center,
		m.bar.ViewAs(float64(v.Progress)/100),
		s.label.Render(fmt.Sprintf(" %3d%% %s", v.Progress, state)),
	))
	b.WriteString("\n")
	b.WriteString(s.console.Render(m.console.View()))
	b.WriteString("\n")
	if m.rendered != "" {
		b.WriteString(s.output.Render(m.output.View()))
		b.WriteString("\n")
	}

	if m.status != "" {
		style := s.statusBar
		if m.statusErr {
			style = s.statusErr
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(s.hint.Render("tab focus • ctrl+r run • ctrl+x cancel • ctrl+t test key • ctrl+e reveal • ctrl+d dark • ctrl+y copy • ctrl+s save • ctrl+w retry save • esc quit"))
	return s.app.Render(b.String())
}
