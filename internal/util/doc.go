// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file helpers shared by the persistence layers.
//
// # Key Functions
//
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//   - WriteJSON: Indented JSON document written atomically
//   - ReadJSON: Decode a JSON document, reporting fs.ErrNotExist unchanged
//
// # Usage
//
//	// Write files atomically to prevent torn documents
//	err := util.WriteJSON(path, manifest, 0644)
package util
