// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/eventbus"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/tasks"
)

// followPoll re-checks a streaming task in case an event was dropped.
const followPoll = 250 * time.Millisecond

// ErrAmbiguousTask is returned when a task id prefix matches several tasks.
var ErrAmbiguousTask = errors.New("ambiguous task id")

func newChatCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>...",
		Short: "Start a new conversation and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			_, err = app.Chat(cmd.Context(), strings.Join(args, " "))
			return err
		},
	}
}

func newReplyCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <task-id> <message>...",
		Short: "Continue a finished conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			t, err := app.FindTask(args[0])
			if err != nil {
				return err
			}
			return app.Reply(cmd.Context(), t, strings.Join(args[1:], " "))
		},
	}
}

// =============================================================================
// CONVERSATION TURNS
// =============================================================================

// Chat starts a conversation with text and follows it to the end.
func (a *App) Chat(ctx context.Context, text string) (*tasks.Task, error) {
	events, cancel := a.Events.Subscribe(eventbus.DefaultDepth)
	defer cancel()

	t, err := a.Tasks.SubmitUserMessage(ctx, text)
	if t == nil {
		return nil, err
	}
	return t, a.follow(ctx, t, events)
}

// Reply sends a follow-up turn to t and follows it to the end.
func (a *App) Reply(ctx context.Context, t *tasks.Task, text string) error {
	events, cancel := a.Events.Subscribe(eventbus.DefaultDepth)
	defer cancel()

	if _, err := a.Tasks.Reply(ctx, t.ID(), text); err != nil {
		return err
	}
	return a.follow(ctx, t, events)
}

// FindTask resolves a full task id or a unique prefix of one.
func (a *App) FindTask(id string) (*tasks.Task, error) {
	if t := a.Tasks.Get(id); t != nil {
		return t, nil
	}
	var found *tasks.Task
	for _, t := range a.Tasks.Tasks() {
		if !strings.HasPrefix(t.ID(), id) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w %q", ErrAmbiguousTask, id)
		}
		found = t
	}
	if found == nil {
		return nil, fmt.Errorf("%w %q", tasks.ErrUnknownTask, id)
	}
	return found, nil
}

// follow prints the reply of the current turn of t while it streams and
// returns once t reaches a terminal status. Raw text is streamed as it
// arrives; rendered markdown is printed once the turn is complete.
func (a *App) follow(ctx context.Context, t *tasks.Task, events <-chan tasks.Event) error {
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	printed := 0
	flush := func() {
		if a.md.Enabled() {
			return
		}
		text := turnText(t.Snapshot())
		if len(text) > printed {
			fmt.Fprint(a.out, text[printed:])
			printed = len(text)
		}
	}

	for !t.Status().Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}
			if ev.EventTaskID() != t.ID() {
				continue
			}
		case <-ticker.C:
		}
		flush()
	}
	flush()

	if a.md.Enabled() {
		fmt.Fprint(a.out, a.md.Render(turnText(t.Snapshot())))
	} else if printed > 0 {
		fmt.Fprintln(a.out)
	}

	info := t.Info()
	if err := a.Tasks.Save(); err != nil {
		a.log.Warn("failed to save conversations", "err", err)
	}
	fmt.Fprintln(a.errOut, a.styles.Dim.Render(turnSummary(info)))
	if info.Status == tasks.StatusFailed {
		return fmt.Errorf("task %s failed: %s", shortID(info.ID), info.Failure)
	}
	return nil
}

// turnText returns the assistant text after the last user message.
func turnText(c *model.Context) string {
	var b strings.Builder
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role() == model.RoleUser {
			for _, m := range c.Messages[i+1:] {
				b.WriteString(model.PlainText(m.Parts()))
			}
			return b.String()
		}
	}
	return ""
}

func turnSummary(info tasks.Info) string {
	parts := []string{
		"task " + shortID(info.ID),
		info.Status.String(),
		fmt.Sprintf("%d tokens", info.Usage.TotalTokens),
	}
	if info.Usage.Cost > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", info.Usage.Cost))
	}
	if info.Duration > 0 {
		parts = append(parts, formatDurationShort(info.Duration))
	}
	return strings.Join(parts, " · ")
}

// shortID returns the first block of a task id.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
