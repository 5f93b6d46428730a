// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// SHARED STYLES FOR ALL CLI COMMANDS
// =============================================================================

// Styles are bound to one output writer, so colors follow whether that
// writer is a terminal and respect NO_COLOR.
type Styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Dim       lipgloss.Style
	Separator lipgloss.Style
	Prompt    lipgloss.Style
}

// NewStyles builds the palette for w.
func NewStyles(w io.Writer) *Styles {
	r := lipgloss.NewRenderer(w)
	return &Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")), // Cyan
		Label: r.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(12),
		Value: r.NewStyle().
			Foreground(lipgloss.Color("252")),
		Success: r.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true),
		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true),
		Warning: r.NewStyle().
			Foreground(lipgloss.Color("214")), // Yellow/Orange
		Dim: r.NewStyle().
			Foreground(lipgloss.Color("242")),
		Separator: r.NewStyle().
			Foreground(lipgloss.Color("240")),
		Prompt: r.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
	}
}

// RenderSeparator renders a horizontal separator line of the given width.
func (s *Styles) RenderSeparator(width int) string {
	if width <= 0 {
		width = 70
	}
	return s.Separator.Render(strings.Repeat("=", width))
}

// RenderStatus renders a task status with its color.
func (s *Styles) RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "done":
		return s.Success.Render(status)
	case "failed":
		return s.Error.Render(status)
	case "running", "pending":
		return s.Warning.Render(status)
	default:
		return s.Dim.Render(status)
	}
}

// RenderField renders "label value" with a fixed label column.
func (s *Styles) RenderField(label, value string) string {
	return s.Label.Render(label) + s.Value.Render(value)
}
