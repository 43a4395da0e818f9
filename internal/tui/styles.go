package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	app, title, label          lipgloss.Style
	panel, panelFocused        lipgloss.Style
	console, output            lipgloss.Style
	statusBar, statusErr, hint lipgloss.Style
}

type palette struct {
	fg, muted, accent, danger, border lipgloss.Color
}

var (
	lightPalette = palette{
		fg:     lipgloss.Color("235"),
		muted:  lipgloss.Color("244"),
		accent: lipgloss.Color("26"),
		danger: lipgloss.Color("160"),
		border: lipgloss.Color("250"),
	}
	darkPalette = palette{
		fg:     lipgloss.Color("252"),
		muted:  lipgloss.Color("242"),
		accent: lipgloss.Color("75"),
		danger: lipgloss.Color("203"),
		border: lipgloss.Color("238"),
	}
)

func newStyles(dark bool) styles {
	p := lightPalette
	if dark {
		p = darkPalette
	}
	base := lipgloss.NewStyle().Foreground(p.fg)
	border := lipgloss.RoundedBorder()

	return styles{
		app:          base.Copy().Padding(0, 1),
		title:        base.Copy().Bold(true).Foreground(p.accent),
		label:        base.Copy().Foreground(p.muted),
		panel:        base.Copy().Border(border).BorderForeground(p.border).Padding(0, 1),
		panelFocused: base.Copy().Border(border).BorderForeground(p.accent).Padding(0, 1),
		console:      base.Copy().Border(lipgloss.NormalBorder()).BorderForeground(p.border),
		output:       base.Copy().Border(lipgloss.NormalBorder()).BorderForeground(p.accent),
		statusBar:    base.Copy().Padding(0, 1),
		statusErr:    base.Copy().Padding(0, 1).Foreground(p.danger).Bold(true),
		hint:         base.Copy().Faint(true),
	}
}
