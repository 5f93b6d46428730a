// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider resolves model aliases from the settings document into
// concrete endpoint credentials.
//
// A model reference (alias, provider, model name) is configuration-time
// identity and carries no secret. Resolving it yields an Instance: base URL,
// API key and model name, the only form handed to the network layer.
// Instances are never persisted with their key.
//
// # Usage
//
//	dir := provider.NewDirectory(watcher)
//	inst, err := dir.Default()
//	if err != nil {
//	    return err
//	}
//	if err := provider.Require(inst); err != nil {
//	    return err // surfaced to the user before any request is made
//	}
package provider
