// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved conversation tasks out as Markdown or JSON.
//
// # Key Types
//
//   - Exporter: format interface (Export, FileExtension, MimeType)
//   - MarkdownExporter: human-readable transcript with YAML front matter
//   - JSONExporter: the task record in its on-disk form
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ExportToFile(task.Record(), exp, "./exports")
package export
