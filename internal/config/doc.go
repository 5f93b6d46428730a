// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides settings loading and management for flicker.
//
// The settings document names the model providers and their credentials,
// the model references (alias to provider and model name), the three
// default aliases, the user profile and the file-system data sources.
// Both JSON and TOML are accepted with the same keys.
//
// Settings file locations (in order of precedence):
//   - the path given on the command line
//   - $FLICKER_HOME/settings.toml or $FLICKER_HOME/settings.json
//   - ~/.flicker/settings.toml or ~/.flicker/settings.json
//   - Built-in defaults
//
// # Key Types
//
//   - Settings: The complete settings document
//   - Watcher: Keeps the current Settings and reloads them on file change
//   - ValidationErrors: Aggregated validation failures
//
// # Usage
//
//	w, err := config.NewWatcher(path, logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	_ = w.Start(ctx)
//	settings := w.Current()
package config
