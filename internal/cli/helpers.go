// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/flicker/internal/provider"
)

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// truncate shortens s to width terminal cells, marking the cut with "...".
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

// pad right-pads s to width terminal cells.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// outputJSON writes data as indented JSON.
func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdown renders replies for terminal display. A nil renderer passes text
// through unchanged, which is what piped output gets.
type markdown struct {
	r *glamour.TermRenderer
}

func newMarkdown(w io.Writer) *markdown {
	if !isTerminal(w) {
		return &markdown{}
	}
	width := terminalWidth(w)
	if width > 100 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return &markdown{}
	}
	return &markdown{r: r}
}

// Enabled reports whether output is rendered rather than streamed raw.
func (m *markdown) Enabled() bool {
	return m != nil && m.r != nil
}

func (m *markdown) Render(content string) string {
	if !m.Enabled() {
		return content
	}
	rendered, err := m.r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ERROR HINTS
// =============================================================================

// hint returns a suggestion for configuration errors, "" for anything else.
func hint(err error) string {
	switch {
	case errors.Is(err, provider.ErrMissingAPIKey):
		return "set api_key for the provider in the settings file or export FLICKER_<PROVIDER>_API_KEY"
	case errors.Is(err, provider.ErrNoDefault):
		return "set the default model aliases with `flicker config init` and edit the settings file"
	case errors.Is(err, provider.ErrUnknownAlias):
		return "add the alias to model_refs in the settings file"
	}
	return ""
}
