// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the value types that flow between the completion
// engine, the conversation tasks and the persistence layer: multi-part
// message content, role-tagged chat messages, and the conversation context
// with its cumulative usage counters.
//
// # Key Types
//
//   - Part: Sealed content part (TextPart or ImagePart)
//   - Parts: Ordered content that never holds two adjacent text parts
//   - Message: Sealed chat message (*SystemMessage, *UserMessage, *AssistantMessage)
//   - Context: Optional system prompt, message history and Usage
//   - Usage: Token and cost counters with an additive combine
//
// # Usage
//
// Build a context and apply streamed deltas:
//
//	ctx := &model.Context{}
//	ctx.Append(model.NewUserMessage(model.Text("hi")))
//	_ = ctx.ApplyDelta(model.NewAssistantMessage(model.Text("Hel")))
//	_ = ctx.ApplyDelta(model.NewAssistantMessage(model.Text("lo")))
//	fmt.Println(model.PlainText(ctx.Last().Parts())) // "Hello"
package model
