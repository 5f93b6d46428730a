// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package completion drives chat completions against a resolved model
// instance and turns provider fragments into assistant deltas.
//
// Stream runs one completion worker per call, any number concurrently.
// Each network fragment is parsed and delivered to the caller before the
// next one is read. Parsing rules:
//
//   - delta content becomes a text part, delta images become image parts
//   - usage blocks are passed along for accumulation, never overwrite
//   - finish_reason "stop" ends the turn; usage-only trailers still arrive
//   - finish_reason "content_filter" appends ContentFilterNotice and ends
//     processing at once
//   - any other finish reason, or an error object, is a ProtocolError
//
// Complete is the non-streaming form used by the intent parser.
package completion
