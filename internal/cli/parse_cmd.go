// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/intent"
	"github.com/jeranaias/flicker/internal/model"
)

func newParseScreenCmd(rt *runtime) *cobra.Command {
	var (
		strict bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "parse-screen <image>",
		Short: "Ask the multimodal model which intents a screenshot suggests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			screenshot, err := model.ImageFromBytes(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}

			h, err := app.NewParser(strict).StartParseScreen(cmd.Context(), screenshot, nil)
			if err != nil {
				return err
			}
			res, err := h.Wait(cmd.Context())
			if asJSON {
				if res.Message == "" && err != nil {
					res = intent.Result{Message: err.Error()}
				}
				if jerr := outputJSON(app.out, res); jerr != nil {
					return jerr
				}
			} else if err == nil {
				app.printIntents(res.Intents)
			}
			if err != nil {
				return fmt.Errorf("intent parsing failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject intents outside the catalog and params that fail their schema")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (a *App) printIntents(intents []intent.Instance) {
	if len(intents) == 0 {
		fmt.Fprintln(a.out, a.styles.Dim.Render("No intents suggested."))
		return
	}
	for i, in := range intents {
		fmt.Fprintf(a.out, "%d. %s %s\n", i+1, a.styles.Title.Render(in.Name),
			a.styles.Dim.Render(fmt.Sprintf("(%.0f%%)", in.Confidence*100)))
		if in.Reasoning != "" {
			fmt.Fprintln(a.out, "   "+in.Reasoning)
		}
		keys := make([]string, 0, len(in.Params))
		for k := range in.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(a.out, "   %s %v\n", a.styles.Label.Render(k), in.Params[k])
		}
	}
	fmt.Fprintln(a.out, a.styles.Dim.Render(fmt.Sprintf("%d intent(s)", len(intents))))
}
