// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// USAGE
// =============================================================================

// Usage holds billing counters reported by a provider.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Cost:             u.Cost + o.Cost,
	}
}

// IsZero reports whether every counter is zero.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// clamp drops negative counters so accumulated usage never decreases.
func (u Usage) clamp() Usage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	if u.TotalTokens < 0 {
		u.TotalTokens = 0
	}
	if u.Cost < 0 {
		u.Cost = 0
	}
	return u
}

// =============================================================================
// CONTEXT
// =============================================================================

// Context is one conversation: an optional system prompt, the message
// history and cumulative usage. Messages are appended, never reordered.
// Context is not safe for concurrent use; its owner serializes access.
type Context struct {
	SystemPrompt *SystemMessage
	Messages     Messages
	Usage        Usage
}

// Append adds a message to the end of the history.
func (c *Context) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// Last returns the most recent message, or nil for an empty history.
func (c *Context) Last() Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Len returns the number of messages in the history.
func (c *Context) Len() int {
	return len(c.Messages)
}

// ApplyDelta folds a streamed assistant delta into the history. A new
// assistant message starts when the last message is not an assistant turn;
// otherwise the last assistant message is extended.
func (c *Context) ApplyDelta(delta *AssistantMessage) error {
	var target *AssistantMessage
	switch last := c.Last().(type) {
	case *AssistantMessage:
		target = last
	case *UserMessage, *SystemMessage, nil:
		target = &AssistantMessage{}
		if err := target.AppendChunk(delta); err != nil {
			return err
		}
		c.Append(target)
		return nil
	default:
		return fmt.Errorf("model: unhandled message type %T", last)
	}
	return target.AppendChunk(delta)
}

// AddUsage accumulates usage into the context.
func (c *Context) AddUsage(u Usage) {
	c.Usage = c.Usage.Add(u.clamp())
}

// WireMessages returns the messages sent to a provider: the system prompt
// first when set, then the history.
func (c *Context) WireMessages() Messages {
	out := make(Messages, 0, len(c.Messages)+1)
	if c.SystemPrompt != nil {
		out = append(out, c.SystemPrompt)
	}
	return append(out, c.Messages...)
}

// Clone returns a deep copy that can be read while the original mutates.
func (c *Context) Clone() *Context {
	out := &Context{Usage: c.Usage}
	if c.SystemPrompt != nil {
		sp := *c.SystemPrompt
		out.SystemPrompt = &sp
	}
	out.Messages = make(Messages, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}

type wireContext struct {
	SystemPrompt *SystemMessage `json:"system_prompt"`
	Messages     Messages       `json:"messages"`
	Usage        Usage          `json:"usage"`
}

// MarshalJSON encodes the context for persistence.
func (c Context) MarshalJSON() ([]byte, error) {
	msgs := c.Messages
	if msgs == nil {
		msgs = Messages{}
	}
	return json.Marshal(wireContext{SystemPrompt: c.SystemPrompt, Messages: msgs, Usage: c.Usage})
}

// UnmarshalJSON decodes a persisted context.
func (c *Context) UnmarshalJSON(data []byte) error {
	var raw struct {
		SystemPrompt json.RawMessage `json:"system_prompt"`
		Messages     Messages        `json:"messages"`
		Usage        Usage           `json:"usage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.SystemPrompt = nil
	if len(raw.SystemPrompt) > 0 && string(raw.SystemPrompt) != "null" {
		msg, err := DecodeMessage(raw.SystemPrompt)
		if err != nil {
			return fmt.Errorf("decode system prompt: %w", err)
		}
		sp, ok := msg.(*SystemMessage)
		if !ok {
			return fmt.Errorf("system prompt has role %q", msg.Role())
		}
		c.SystemPrompt = sp
	}
	c.Messages = raw.Messages
	if c.Messages == nil {
		c.Messages = Messages{}
	}
	c.Usage = raw.Usage
	return nil
}
