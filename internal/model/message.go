// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// ROLE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ErrImageInStream is returned when a streamed delta carries an image part.
// Images are never produced incrementally.
var ErrImageInStream = errors.New("image part in streamed delta")

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Message is a chat message. The variant set is closed: *SystemMessage,
// *UserMessage and *AssistantMessage are the only implementations.
type Message interface {
	Role() Role
	// Parts returns the content as parts. A system message yields one text part.
	Parts() Parts
	clone() Message
	isMessage()
}

// SystemMessage is the optional instruction sent ahead of the history.
type SystemMessage struct {
	Content string
}

// UserMessage is a user turn with multi-part content.
type UserMessage struct {
	Content Parts
}

// AssistantMessage is a model turn with multi-part content.
type AssistantMessage struct {
	Content Parts
}

func (*SystemMessage) Role() Role    { return RoleSystem }
func (*UserMessage) Role() Role      { return RoleUser }
func (*AssistantMessage) Role() Role { return RoleAssistant }

func (m *SystemMessage) Parts() Parts    { return Parts{TextPart{Text: m.Content}} }
func (m *UserMessage) Parts() Parts      { return m.Content }
func (m *AssistantMessage) Parts() Parts { return m.Content }

func (m *SystemMessage) clone() Message    { c := *m; return &c }
func (m *UserMessage) clone() Message      { return &UserMessage{Content: m.Content.Clone()} }
func (m *AssistantMessage) clone() Message { return &AssistantMessage{Content: m.Content.Clone()} }

func (*SystemMessage) isMessage()    {}
func (*UserMessage) isMessage()      {}
func (*AssistantMessage) isMessage() {}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *SystemMessage {
	return &SystemMessage{Content: content}
}

// NewUserMessage creates a user message from parts, coalescing text.
func NewUserMessage(parts ...Part) *UserMessage {
	msg := &UserMessage{}
	for _, p := range parts {
		msg.Content = msg.Content.Append(p)
	}
	return msg
}

// NewAssistantMessage creates an assistant message from parts, coalescing text.
func NewAssistantMessage(parts ...Part) *AssistantMessage {
	msg := &AssistantMessage{}
	for _, p := range parts {
		msg.Content = msg.Content.Append(p)
	}
	return msg
}

// AppendChunk extends the message with a streamed delta. Text is merged into
// the trailing text part; an image part fails with ErrImageInStream and
// leaves the message unchanged.
func (m *AssistantMessage) AppendChunk(delta *AssistantMessage) error {
	if delta == nil {
		return nil
	}
	if delta.Content.HasImage() {
		return ErrImageInStream
	}
	for _, p := range delta.Content {
		m.Content = m.Content.AppendText(p.(TextPart).Text)
	}
	return nil
}

// =============================================================================
// MESSAGE JSON
// =============================================================================

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes {"role":"system","content":"..."}.
func (m *SystemMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}{RoleSystem, m.Content})
}

// MarshalJSON encodes {"role":"user","content":[parts]}.
func (m *UserMessage) MarshalJSON() ([]byte, error) {
	return marshalParts(RoleUser, m.Content)
}

// MarshalJSON encodes {"role":"assistant","content":[parts]}.
func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	return marshalParts(RoleAssistant, m.Content)
}

func marshalParts(role Role, parts Parts) ([]byte, error) {
	if parts == nil {
		parts = Parts{}
	}
	return json.Marshal(struct {
		Role    Role  `json:"role"`
		Content Parts `json:"content"`
	}{role, parts})
}

// DecodeMessage decodes one role-tagged message.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Role {
	case RoleSystem:
		var s string
		if err := json.Unmarshal(w.Content, &s); err != nil {
			return nil, fmt.Errorf("system content: %w", err)
		}
		return &SystemMessage{Content: s}, nil
	case RoleUser:
		msg := &UserMessage{}
		if err := decodeContent(w.Content, &msg.Content); err != nil {
			return nil, err
		}
		return msg, nil
	case RoleAssistant:
		msg := &AssistantMessage{}
		if err := decodeContent(w.Content, &msg.Content); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", w.Role)
	}
}

func decodeContent(raw json.RawMessage, dst *Parts) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = Parts{}
		return nil
	}
	return dst.UnmarshalJSON(raw)
}

// Messages is an ordered message history.
type Messages []Message

// UnmarshalJSON decodes each element by its role tag.
func (ms *Messages) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Messages, 0, len(raw))
	for i, r := range raw {
		msg, err := DecodeMessage(r)
		if err != nil {
			return fmt.Errorf("decode message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	*ms = out
	return nil
}
