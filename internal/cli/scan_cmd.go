// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/embedding"
	"github.com/jeranaias/flicker/internal/index"
)

// ErrNoDataSources is returned by scan without a root when none is configured.
var ErrNoDataSources = errors.New("no memory data sources configured")

type scanFlags struct {
	extensions  []string
	excluded    []string
	since       time.Duration
	incremental bool
	database    string
	list        bool
	embed       bool
	batchSize   int
	dimensions  int
}

func newScanCmd(rt *runtime) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Index files of the configured data sources, or of root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}

			var sources []config.DataSource
			if len(args) == 1 {
				root, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				sources = []config.DataSource{{
					Type:                config.DataSourceFileSystem,
					RootDirectory:       root,
					ExtensionNames:      f.extensions,
					ExcludedDirectories: f.excluded,
					DatabaseFile:        f.database,
				}}
			} else {
				sources = app.Settings.Current().MemoryDataSources
			}
			if len(sources) == 0 {
				return ErrNoDataSources
			}

			for _, ds := range sources {
				if err := app.scanSource(cmd.Context(), ds, f); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&f.extensions, "ext", nil, "file extensions to index (default images, office documents, pdf, txt)")
	cmd.Flags().StringSliceVar(&f.excluded, "exclude", nil, "path prefixes to skip")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only files modified within this duration")
	cmd.Flags().BoolVar(&f.incremental, "incremental", false, "only files modified since the previous scan of the database")
	cmd.Flags().StringVar(&f.database, "db", "", "file database, relative to the settings directory")
	cmd.Flags().BoolVar(&f.list, "list", false, "print every matching path")
	cmd.Flags().BoolVar(&f.embed, "embed", false, "embed the matching file names with the default embedding model")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", embedding.DefaultBatchSize, "texts per embedding request")
	cmd.Flags().IntVar(&f.dimensions, "dimensions", 0, "embedding dimensions (0 = model default)")
	return cmd
}

func (a *App) scanSource(ctx context.Context, ds config.DataSource, f scanFlags) error {
	store, err := index.OpenStore(index.DatabasePath(a.Home, ds))
	if err != nil {
		return err
	}
	defer store.Close()

	opts := index.OptionsFromSource(ds)
	if f.since > 0 {
		opts.After = time.Now().Add(-f.since)
	}
	if f.incremental {
		last, err := store.LastScan(ctx)
		if err != nil {
			return err
		}
		if last.After(opts.After) {
			opts.After = last
		}
		a.log.Debug("incremental scan", "root", ds.RootDirectory, "after", opts.After)
	}
	var onPath func(string) error
	if f.list {
		onPath = func(p string) error {
			_, err := fmt.Fprintln(a.out, p)
			return err
		}
	}

	scanner := index.NewScanner(a.Registry, store, a.log)
	res, err := scanner.Start(ctx, opts, onPath, nil).Wait(ctx)
	if err != nil {
		if index.IsCanceled(err) {
			return err
		}
		return fmt.Errorf("scan %s: %w", ds.RootDirectory, err)
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.errOut, a.styles.RenderField("scanned", fmt.Sprintf("%s: %d files in %s (%d indexed in %s)",
		ds.RootDirectory, len(res.Paths), formatDurationShort(res.Elapsed), total, filepath.Base(store.Path()))))

	if !f.embed || len(res.Paths) == 0 {
		return nil
	}
	names := make([]string, len(res.Paths))
	for i, p := range res.Paths {
		names[i] = filepath.Base(p)
	}
	return a.embedNames(ctx, names, embedding.Options{BatchSize: f.batchSize, Dimensions: f.dimensions})
}

func newFilesCmd(rt *runtime) *cobra.Command {
	var (
		database string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List file names in the file database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			store, err := index.OpenStore(index.DatabasePath(app.Home, config.DataSource{DatabaseFile: database}))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			total, err := store.Count(ctx)
			if err != nil {
				return err
			}
			names, err := store.Names(ctx, limit)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(app.out, n)
			}
			last, err := store.LastScan(ctx)
			if err != nil {
				return err
			}
			scanned := "never"
			if !last.IsZero() {
				scanned = last.Format(time.DateTime)
			}
			fmt.Fprintln(app.errOut, app.styles.Dim.Render(fmt.Sprintf("%d of %d files, last scan %s", len(names), total, scanned)))
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "db", "", "file database, relative to the settings directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum names to print (0 = all)")
	return cmd
}

func (a *App) embedNames(ctx context.Context, names []string, opts embedding.Options) error {
	inst, err := a.Models.Embedding()
	if err != nil {
		return fmt.Errorf("cannot embed: %w", err)
	}
	h, err := a.Embedder.Start(ctx, inst, names, opts, func(p embedding.Progress) error {
		a.log.Info("embedding progress", "batch", p.Batch, "batches", p.Batches, "done", p.Done, "total", p.Total)
		return nil
	}, nil)
	if err != nil {
		return fmt.Errorf("cannot embed: %w", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	fmt.Fprintln(a.errOut, a.styles.RenderField("embedded", fmt.Sprintf("%d texts, %d cached, %d tokens in %s",
		len(res.Vectors), res.Cached, res.Tokens, formatDurationShort(res.Elapsed))))
	return nil
}
