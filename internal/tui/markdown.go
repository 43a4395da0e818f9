package tui

import (
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

type rendererKey struct {
	dark  bool
	width int
}

var (
	markdownMu       sync.Mutex
	markdownRenderer *glamour.TermRenderer
	markdownKey      rendererKey
)

// renderMarkdown renders a completion for the terminal. Falls back to the
// raw text when glamour cannot build a renderer or parse the content.
func renderMarkdown(content string, dark bool, width int) string {
	renderer := ensureRenderer(rendererKey{dark: dark, width: width})
	if renderer == nil {
		return content
	}
	out, err := renderer.Render(content)
	if err != nil {
		log.Debug().Err(err).Msg("markdown render failed")
		return content
	}
	return out
}

func ensureRenderer(key rendererKey) *glamour.TermRenderer {
	markdownMu.Lock()
	defer markdownMu.Unlock()
	if markdownRenderer != nil && markdownKey == key {
		return markdownRenderer
	}
	style := "light"
	if key.dark {
		style = "dark"
	}
	width := key.width
	if width < 0 {
		width = 0
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable")
		markdownRenderer = nil
		return nil
	}
	markdownRenderer = renderer
	markdownKey = key
	return markdownRenderer
}
