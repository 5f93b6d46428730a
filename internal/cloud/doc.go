// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the HTTP client for OpenAI-compatible providers
// (OpenRouter, SiliconFlow, local gateways).
//
// # Key Types
//
//   - Client: chat completions (plain and SSE streaming) and embeddings
//   - ChatRequest / ChatMessage / MessageContent: request wire format,
//     content is either a string or an array of typed parts
//   - StreamChunk: one decoded SSE event of a streaming completion
//   - APIError: non-200 responses that map to no sentinel
//
// # Usage
//
//	client := cloud.NewClient(inst.BaseURL, inst.APIKey, cloud.WithLimiter(lim))
//	err := client.ChatStream(ctx, cloud.ChatRequest{
//	    Model:    inst.ModelName,
//	    Messages: msgs,
//	}, func(chunk cloud.StreamChunk) error {
//	    fmt.Print(chunk.Content())
//	    return nil
//	})
//
// The client never retries; a failed request is reported to the caller as is.
// API keys are never logged.
package cloud
