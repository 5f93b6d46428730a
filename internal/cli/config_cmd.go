// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/provider"
)

func newConfigCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the settings file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rt.home()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), config.Path(home))
			return err
		},
	})
	cmd.AddCommand(newConfigShowCmd(rt))
	cmd.AddCommand(newConfigInitCmd(rt))
	cmd.AddCommand(newConfigModelsCmd(rt))
	return cmd
}

func newConfigModelsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model aliases and whether they are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rt.home()
			if err != nil {
				return err
			}
			s, err := config.Load(config.Path(home))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			w := cmd.OutOrStdout()
			styles := NewStyles(w)
			dir := provider.NewDirectory(s)
			aliases := dir.Aliases()
			if len(aliases) == 0 {
				fmt.Fprintln(w, styles.Dim.Render("No model_refs configured."))
				return nil
			}
			for _, alias := range aliases {
				inst, err := dir.Resolve(alias)
				if err != nil {
					fmt.Fprintf(w, "%s  %s\n", pad(alias, 12), styles.Error.Render(err.Error()))
					continue
				}
				state := styles.Success.Render("ready")
				if !inst.Configured() {
					state = styles.Warning.Render("no api key")
				}
				fmt.Fprintf(w, "%s  %s  %s%s\n", pad(alias, 12), state, inst.ModelName+" @ "+inst.BaseURL, defaultRoles(s, alias))
			}
			return nil
		},
	}
}

// defaultRoles lists which default slots point at alias.
func defaultRoles(s *config.Settings, alias string) string {
	var roles []string
	if s.DefaultModelAlias == alias {
		roles = append(roles, "chat")
	}
	if s.DefaultMultimodalModelAlias == alias {
		roles = append(roles, "multimodal")
	}
	if s.DefaultEmbedModelAlias == alias {
		roles = append(roles, "embed")
	}
	if len(roles) == 0 {
		return ""
	}
	return "  [" + strings.Join(roles, ", ") + "]"
}

func newConfigShowCmd(rt *runtime) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings, environment overrides included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rt.home()
			if err != nil {
				return err
			}
			s, err := config.Load(config.Path(home))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if !reveal {
				s = redacted(s)
			}
			return outputJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print API keys instead of masking them")
	return cmd
}

func newConfigInitCmd(rt *runtime) *cobra.Command {
	var (
		force  bool
		asTOML bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rt.home()
			if err != nil {
				return err
			}
			path := config.Path(home)
			if asTOML {
				path = filepath.Join(home, "settings.toml")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	cmd.Flags().BoolVar(&asTOML, "toml", false, "write settings.toml instead of settings.json")
	return cmd
}

// redacted returns a copy of s with API keys masked.
func redacted(s *config.Settings) *config.Settings {
	out := s.Clone()
	for i := range out.ModelProviders {
		if key := out.ModelProviders[i].APIKey; key != "" {
			out.ModelProviders[i].APIKey = maskKey(key)
		}
	}
	return out
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
