// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index scans file-system data sources into a SQLite file database.
//
// # Key Types
//
//   - Scanner: walks a directory tree as a scan worker
//   - Options: root, extensions, excluded prefixes, modification cutoff
//   - Store: the fileinfo table (path, name, created/modified/accessed)
//
// # Usage
//
//	store, err := index.OpenStore(index.DatabasePath(settingsDir, ds))
//	scanner := index.NewScanner(reg, store, log)
//	h := scanner.Start(ctx, index.OptionsFromSource(ds), nil, nil)
//	res, err := h.Wait(ctx)
//
// Excluded directories are matched as path prefixes, so an excluded
// directory prunes its whole subtree.
package index
