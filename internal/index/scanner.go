// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/worker"
)

// DefaultExtensions are scanned when a data source names none.
var DefaultExtensions = []string{
	".png", ".jpg", ".jpeg", ".webp",
	".ppt", ".pptx",
	".doc", ".docx",
	".pdf",
	".txt",
}

// Options selects the files of one scan.
type Options struct {
	// Root is the directory tree to walk
	Root string

	// Extensions are matched case-insensitively, with the leading dot
	Extensions []string

	// Excluded are path prefixes; a matching directory is pruned with its subtree
	Excluded []string

	// After keeps only files modified after it (zero = no filter)
	After time.Time
}

// OptionsFromSource converts a configured file-system data source.
func OptionsFromSource(ds config.DataSource) Options {
	return Options{
		Root:       ds.RootDirectory,
		Extensions: ds.ExtensionNames,
		Excluded:   ds.ExcludedDirectories,
	}
}

// DatabasePath returns the file database of a data source.
func DatabasePath(settingsDir string, ds config.DataSource) string {
	if ds.DatabaseFile != "" {
		if filepath.IsAbs(ds.DatabaseFile) {
			return ds.DatabaseFile
		}
		return filepath.Join(settingsDir, ds.DatabaseFile)
	}
	return filepath.Join(settingsDir, DefaultDatabaseFile)
}

// Result is the terminal outcome of a scan.
type Result struct {
	Paths   []string
	Stored  int
	Elapsed time.Duration
}

// =============================================================================
// SCANNER
// =============================================================================

// Scanner walks data sources and records matching files.
type Scanner struct {
	reg   *worker.Registry
	store *Store
	log   pslog.Logger
}

// NewScanner creates a scanner. store may be nil, in which case matches are
// only reported.
func NewScanner(reg *worker.Registry, store *Store, log pslog.Logger) *Scanner {
	return &Scanner{
		reg:   reg,
		store: store,
		log:   logx.Or(log, context.Background()).With("component", "index"),
	}
}

// Start runs Scan as a worker in the scan family and returns at once.
// onPath (may be nil) receives every match in walk order; onFinish (may be
// nil) receives the terminal result.
func (s *Scanner) Start(ctx context.Context, opts Options, onPath func(string) error, onFinish func(Result, error)) *worker.Handle[Result] {
	return worker.Spawn(ctx, s.reg, worker.Job[string, Result]{
		Family: worker.FamilyScan,
		Run: func(ctx context.Context, emit func(string) error) (Result, error) {
			return s.Scan(ctx, opts, emit)
		},
		OnProgress: onPath,
		OnFinish:   onFinish,
	})
}

// Scan walks opts.Root on the calling goroutine. Unreadable subdirectories
// are logged and skipped; a missing root is an error.
func (s *Scanner) Scan(ctx context.Context, opts Options, emit func(string) error) (Result, error) {
	start := time.Now()
	root := filepath.Clean(opts.Root)
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, root)
	}

	exts := extensionSet(opts.Extensions)
	excluded := make([]string, 0, len(opts.Excluded))
	for _, ex := range opts.Excluded {
		if ex != "" {
			excluded = append(excluded, filepath.Clean(ex))
		}
	}
	log := s.log.With("root", root)
	log.Info("file scanning started", "extensions", len(exts), "excluded", len(excluded))

	var (
		res   Result
		infos []FileInfo
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			log.Warn("skipping unreadable path", "path", path, "err", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if hasPrefix(path, excluded) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !exts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			log.Warn("skipping unreadable file", "path", path, "err", err)
			return nil
		}
		if !opts.After.IsZero() && !fi.ModTime().After(opts.After) {
			return nil
		}

		res.Paths = append(res.Paths, path)
		if emit != nil {
			if err := emit(path); err != nil {
				return err
			}
		}
		if s.store != nil {
			created, modified, accessed := fileTimes(path, fi)
			infos = append(infos, FileInfo{Path: path, Name: d.Name(), Created: created, Modified: modified, Accessed: accessed})
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if s.store != nil && len(infos) > 0 {
		log.Info("storing file info", "files", len(infos))
		if err := s.store.Upsert(ctx, infos); err != nil {
			log.Error("failed to store file info", "err", err)
			return res, err
		}
		res.Stored = len(infos)
	}

	res.Elapsed = time.Since(start)
	log.Info("file scanning finished", "files", len(res.Paths), "seconds", res.Elapsed.Seconds())
	return res, nil
}

// hasPrefix reports whether path starts with any of the prefixes, compared
// as plain strings.
func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// IsCanceled reports whether err ended a scan through its context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
