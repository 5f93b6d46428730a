// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/logx"
)

// runtime holds what the root command resolves before a subcommand runs.
type runtime struct {
	opts    Options
	verbose bool
	app     *App
}

// home returns the settings directory after flags and .env files applied.
func (r *runtime) home() (string, error) {
	if r.opts.Home != "" {
		return r.opts.Home, nil
	}
	return config.Dir()
}

// App builds the services on first use. Commands that only touch the
// settings file never open the task store.
func (r *runtime) App(ctx context.Context) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	home, err := r.home()
	if err != nil {
		return nil, err
	}
	opts := r.opts
	opts.Home = home
	app, err := NewApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.app = app
	return app, nil
}

func (r *runtime) close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, opts Options) int {
	opts = opts.withDefaults()
	rt := &runtime{opts: opts}
	root := newRootCmd(rt)
	root.SetArgs(args)
	root.SetOut(opts.Out)
	root.SetErr(opts.ErrOut)

	err := root.ExecuteContext(ctx)
	if cerr := rt.close(); err == nil {
		err = cerr
	}
	if err != nil {
		styles := NewStyles(opts.ErrOut)
		fmt.Fprintf(opts.ErrOut, "%s %v\n", styles.Error.Render("error:"), err)
		if h := hint(err); h != "" {
			fmt.Fprintf(opts.ErrOut, "%s %s\n", styles.Dim.Render("hint:"), h)
		}
		return 1
	}
	return 0
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "flicker",
		Short:         "Desktop assistant core: conversations, screen intents and file memory",
		Version:       rt.opts.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(".env"); err != nil {
				return err
			}
			home, err := rt.home()
			if err != nil {
				return err
			}
			if err := loadEnvFile(filepath.Join(home, ".env")); err != nil {
				return err
			}
			if !rt.opts.Offline {
				rt.opts.Offline = offlineFromEnv()
			}
			if rt.opts.Log == nil {
				rt.opts.Log = logx.New(rt.opts.ErrOut, rt.verbose)
			}
			cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), rt.opts.Log))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&rt.opts.Home, "home", rt.opts.Home, "settings directory (default $FLICKER_HOME or ~/.flicker)")
	root.PersistentFlags().BoolVar(&rt.opts.Offline, "offline", rt.opts.Offline, "only contact providers on localhost (also FLICKER_OFFLINE)")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newChatCmd(rt))
	root.AddCommand(newReplyCmd(rt))
	root.AddCommand(newReplCmd(rt))
	root.AddCommand(newTasksCmd(rt))
	root.AddCommand(newParseScreenCmd(rt))
	root.AddCommand(newScanCmd(rt))
	root.AddCommand(newFilesCmd(rt))
	root.AddCommand(newConfigCmd(rt))
	return root
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is ignored.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
