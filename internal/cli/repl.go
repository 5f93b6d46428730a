// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/tasks"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides input history and line editing for the REPL.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader(historyFile string) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &lineReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadInput reads a line of input with the given prompt.
func (r *lineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

const replHelp = `Commands:
  /new         start a new conversation
  /open <id>   continue a saved conversation
  /tasks       list conversations
  /quit        exit
Anything else is sent to the current conversation.`

func newReplCmd(rt *runtime) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive conversation with line editing and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("chat"); err != nil {
				return err
			}
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			var current *tasks.Task
			if taskID != "" {
				if current, err = app.FindTask(taskID); err != nil {
					return err
				}
			}
			return app.repl(cmd, current)
		},
	}
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "continue the conversation with this id")
	return cmd
}

func (a *App) repl(cmd *cobra.Command, current *tasks.Task) error {
	ctx := cmd.Context()
	if err := a.Settings.Start(ctx); err != nil {
		a.log.Warn("settings watcher unavailable", "err", err)
	}

	in := newLineReader(filepath.Join(a.Home, "history"))
	defer in.Close()

	fmt.Fprintln(a.errOut, a.styles.Title.Render("flicker "+a.version)+" "+a.styles.Dim.Render(a.Policy.StatusIndicator()))
	fmt.Fprintln(a.errOut, a.styles.Dim.Render("Type /help for commands."))
	if current != nil {
		fmt.Fprintln(a.errOut, a.styles.Dim.Render("Continuing "+shortID(current.ID())+": "+current.Name()))
	}

	for {
		input, err := in.ReadInput("flicker> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(a.errOut)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			next, quit, err := a.slashCommand(input, current)
			if err != nil {
				fmt.Fprintf(a.errOut, "%s %v\n", a.styles.Error.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			current = next
			continue
		}

		if current == nil {
			current, err = a.Chat(ctx, input)
		} else {
			err = a.Reply(ctx, current, input)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			fmt.Fprintf(a.errOut, "%s %v\n", a.styles.Error.Render("[Error]"), err)
			if h := hint(err); h != "" {
				fmt.Fprintln(a.errOut, a.styles.Dim.Render(h))
			}
		}
	}
}

// slashCommand runs one REPL command and returns the conversation to
// continue with.
func (a *App) slashCommand(input string, current *tasks.Task) (next *tasks.Task, quit bool, err error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return current, true, nil
	case "/help", "/?":
		fmt.Fprintln(a.errOut, replHelp)
		return current, false, nil
	case "/new":
		fmt.Fprintln(a.errOut, a.styles.Dim.Render("New conversation."))
		return nil, false, nil
	case "/tasks":
		a.printTaskList(a.errOut)
		return current, false, nil
	case "/open":
		if len(fields) != 2 {
			return current, false, errors.New("usage: /open <id>")
		}
		t, err := a.FindTask(fields[1])
		if err != nil {
			return current, false, err
		}
		fmt.Fprintln(a.errOut, a.styles.Dim.Render("Continuing "+shortID(t.ID())+": "+t.Name()))
		return t, false, nil
	}
	return current, false, fmt.Errorf("unknown command %s (try /help)", fields[0])
}
