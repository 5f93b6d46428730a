// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the command-line front end of flicker.
//
// Execute builds a cobra command tree around one App, the composition root
// that owns the settings watcher, model directory, worker registry,
// completion engine, task manager, intent catalog and embedding service.
// Commands receive the App by reference; the package keeps no mutable
// state of its own.
//
// # Commands
//
//   - chat <message>: start a conversation and stream the reply
//   - reply <id> <message>: continue a conversation
//   - repl: interactive loop with line editing and history
//   - tasks list | show | export | rm | prune: manage saved conversations
//   - parse-screen <image>: suggest intents for a screenshot
//   - scan [root]: index file-system data sources, optionally embedding names
//   - files: list the file database
//   - config path | show | init | models: settings file helpers
//
// With --offline (or FLICKER_OFFLINE=1) providers are only contacted on
// localhost.
//
// Output is styled with lipgloss and replies are rendered with glamour when
// stdout is a terminal; piped output stays plain.
package cli
