// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package intent turns a screenshot into ranked intent candidates with one
// multimodal completion call.
//
// The Catalog lists what the assistant can act on: each Intent has a name,
// a description and a JSON Schema for its parameters. The Parser renders
// the catalog into a prompt, sends it with the screenshot, extracts the
// fenced JSON block from the reply and decodes it into Instances. Any
// violation fails the whole parse: partial results are never returned.
//
// Only one parse runs at a time. StartParseScreen fails fast with
// worker.ErrAlreadyRunning while another is in flight.
package intent
