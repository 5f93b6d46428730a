// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/storage"
	"github.com/jeranaias/flicker/internal/tasks"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a task record to Markdown format.
func (e *MarkdownExporter) Export(rec *storage.TaskRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("task record is nil")
	}
	if rec.Context == nil || rec.Context.Len() == 0 {
		return nil, fmt.Errorf("task %s has no messages", rec.ID)
	}

	ctx := rec.Context
	status := tasks.Status(rec.Status)
	title := rec.Name
	if title == "" {
		title = "Untitled conversation"
	}

	var sb strings.Builder

	// YAML frontmatter
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		fmt.Fprintf(&sb, "task: %s\n", rec.ID)
		fmt.Fprintf(&sb, "model: %s\n", escapeYAML(rec.Model.ModelName))
		fmt.Fprintf(&sb, "status: %s\n", status)
		fmt.Fprintf(&sb, "messages: %d\n", ctx.Len())
		if ctx.Usage.TotalTokens > 0 {
			fmt.Fprintf(&sb, "tokens: %d\n", ctx.Usage.TotalTokens)
		}
		if !rec.SavedAt.IsZero() {
			fmt.Fprintf(&sb, "date: %s\n", rec.SavedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: flicker\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Task Information\n\n")
		fmt.Fprintf(&sb, "- **Model**: %s (%s)\n", rec.Model.ModelName, rec.Model.Alias)
		fmt.Fprintf(&sb, "- **Status**: %s\n", status)
		if rec.Failure != "" {
			fmt.Fprintf(&sb, "- **Failure**: %s\n", rec.Failure)
		}
		if !rec.SavedAt.IsZero() {
			fmt.Fprintf(&sb, "- **Saved**: %s\n", formatTimestamp(rec.SavedAt))
		}
		fmt.Fprintf(&sb, "- **Messages**: %d\n", ctx.Len())
		if u := ctx.Usage; !u.IsZero() {
			fmt.Fprintf(&sb, "- **Tokens**: %d prompt, %d completion", u.PromptTokens, u.CompletionTokens)
			if u.Cost > 0 {
				fmt.Fprintf(&sb, ", $%.4f", u.Cost)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	if ctx.SystemPrompt != nil && ctx.SystemPrompt.Content != "" {
		e.writeMessage(&sb, ctx.SystemPrompt)
	}
	for _, msg := range ctx.Messages {
		e.writeMessage(&sb, msg)
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

func (e *MarkdownExporter) writeMessage(sb *strings.Builder, msg model.Message) {
	fmt.Fprintf(sb, "### %s\n\n", formatRoleLabel(msg.Role()))

	parts := msg.Parts()
	if text := strings.TrimSpace(model.PlainText(parts)); text != "" {
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	images := 0
	for _, p := range parts {
		if _, ok := p.(model.ImagePart); ok {
			images++
		}
	}
	if images > 0 {
		fmt.Fprintf(sb, "_[%d image(s) attached]_\n\n", images)
	}
}

// formatRoleLabel returns a display label for a message role.
func formatRoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case model.RoleSystem:
		return "[System]"
	default:
		return "[" + string(role) + "]"
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes a value that contains YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
