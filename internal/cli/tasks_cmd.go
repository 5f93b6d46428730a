// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/export"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/tasks"
)

func newTasksCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and inspect saved conversations",
	}
	cmd.AddCommand(newTasksListCmd(rt))
	cmd.AddCommand(newTasksShowCmd(rt))
	cmd.AddCommand(newTasksExportCmd(rt))
	cmd.AddCommand(newTasksRemoveCmd(rt))
	cmd.AddCommand(newTasksPruneCmd(rt))
	return cmd
}

func newTasksListCmd(rt *runtime) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				infos := make([]tasks.Info, 0)
				for _, t := range app.Tasks.Tasks() {
					infos = append(infos, t.Info())
				}
				return outputJSON(app.out, infos)
			}
			app.printTaskList(app.out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newTasksShowCmd(rt *runtime) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			t, err := app.FindTask(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return outputJSON(app.out, t.Snapshot())
			}
			app.printTask(t)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the conversation context as JSON")
	return cmd
}

func newTasksExportCmd(rt *runtime) *cobra.Command {
	var (
		format string
		dir    string
		bare   bool
	)
	cmd := &cobra.Command{
		Use:   "export <task-id>",
		Short: "Write a conversation to a Markdown or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.ForFormat(format, &export.Options{IncludeMetadata: !bare})
			if err != nil {
				return err
			}
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			t, err := app.FindTask(args[0])
			if err != nil {
				return err
			}
			path, err := export.ExportToFile(t.Record(), exp, dir)
			if err != nil {
				return err
			}
			app.log.Info("task exported", "task", t.ID(), "path", path, "mime", exp.MimeType())
			fmt.Fprintln(app.out, app.styles.Success.Render("exported")+" "+path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: md or json")
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&bare, "no-metadata", false, "omit front matter and task information")
	return cmd
}

func newTasksRemoveCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			for _, arg := range args {
				t, err := app.FindTask(arg)
				if err != nil {
					return err
				}
				if err := app.Tasks.Remove(t.ID()); err != nil {
					return fmt.Errorf("cannot remove %s: %w", shortID(t.ID()), err)
				}
				fmt.Fprintln(app.out, app.styles.Dim.Render("removed "+shortID(t.ID())+" "+t.Name()))
			}
			return nil
		},
	}
}

func newTasksPruneCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete saved task files that no conversation lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := app.Tasks.Prune()
			fmt.Fprintf(app.out, "pruned %d task files\n", len(removed))
			return err
		},
	}
}

// printTaskList writes one line per task: id, status, messages, tokens, name.
func (a *App) printTaskList(w io.Writer) {
	list := a.Tasks.Tasks()
	if len(list) == 0 {
		fmt.Fprintln(w, a.styles.Dim.Render("No conversations yet."))
		return
	}
	nameWidth := terminalWidth(w) - 40
	if nameWidth < 20 {
		nameWidth = 20
	}
	for _, t := range list {
		info := t.Info()
		status := a.styles.RenderStatus(pad(info.Status.String(), 8))
		fmt.Fprintf(w, "%s  %s %4d msgs %7d tok  %s\n",
			pad(shortID(info.ID), 8), status, info.Messages, info.Usage.TotalTokens,
			truncate(info.Name, nameWidth))
	}
}

func (a *App) printTask(t *tasks.Task) {
	info := t.Info()
	fmt.Fprintln(a.out, a.styles.Title.Render(info.Name))
	fmt.Fprintln(a.out, a.styles.RenderField("id", info.ID))
	fmt.Fprintln(a.out, a.styles.RenderField("status", a.styles.RenderStatus(info.Status.String())))
	if info.Failure != "" {
		fmt.Fprintln(a.out, a.styles.RenderField("failure", info.Failure))
	}
	fmt.Fprintln(a.out, a.styles.RenderField("model", info.Model))
	fmt.Fprintln(a.out, a.styles.RenderField("usage", fmt.Sprintf("%d tokens, $%.4f", info.Usage.TotalTokens, info.Usage.Cost)))
	fmt.Fprintln(a.out, a.styles.RenderSeparator(terminalWidth(a.out)-4))

	for _, m := range t.Snapshot().Messages {
		var text strings.Builder
		images := 0
		for _, p := range m.Parts() {
			switch p := p.(type) {
			case model.TextPart:
				text.WriteString(p.Text)
			case model.ImagePart:
				images++
			}
		}
		header := strings.ToUpper(m.Role().String())
		if images > 0 {
			header += fmt.Sprintf(" (+%d image)", images)
		}
		fmt.Fprintln(a.out, a.styles.Label.Render(header))
		if m.Role() == model.RoleAssistant {
			fmt.Fprintln(a.out, a.md.Render(text.String()))
		} else {
			fmt.Fprintln(a.out, text.String())
		}
		fmt.Fprintln(a.out)
	}
}
