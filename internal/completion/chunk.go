// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"fmt"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/model"
)

// FinishReason says why a turn ended. The zero value means it has not.
type FinishReason string

const (
	FinishNone          FinishReason = ""
	FinishStop          FinishReason = "stop"
	FinishContentFilter FinishReason = "content_filter"
)

// ContentFilterNotice is appended to the delta that carries a
// content_filter finish reason so the user sees why the reply stopped.
const ContentFilterNotice = "\n\n[The response was withheld by the provider's content filter.]"

// ProtocolError reports a provider response the engine does not accept.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "completion protocol violation: " + e.Reason
}

// StreamChunk is one parsed fragment of an assistant turn.
type StreamChunk struct {
	Delta  *model.AssistantMessage
	Finish FinishReason
	Usage  *model.Usage
}

// Finished reports whether the chunk ends the turn.
func (c StreamChunk) Finished() bool {
	return c.Finish != FinishNone
}

// Parse converts one provider fragment into a StreamChunk.
func Parse(c cloud.StreamChunk) (StreamChunk, error) {
	if c.Error != nil {
		return StreamChunk{}, &ProtocolError{Reason: "provider error in stream: " + c.Error.Message}
	}
	out := StreamChunk{Delta: model.NewAssistantMessage(), Usage: convertUsage(c.Usage)}
	choice, ok := c.Choice()
	if !ok {
		return out, nil
	}
	appendResponse(out.Delta, choice.Delta)

	finish, err := parseFinish(choice.FinishReason)
	if err != nil {
		return StreamChunk{}, err
	}
	out.Finish = finish
	if finish == FinishContentFilter {
		out.Delta.Content = out.Delta.Content.AppendText(ContentFilterNotice)
	}
	return out, nil
}

// Reply is the result of a non-streaming completion.
type Reply struct {
	Message *model.AssistantMessage
	Finish  FinishReason
	Usage   model.Usage
}

// ParseResponse converts a non-streaming response the same way Parse does.
func ParseResponse(r *cloud.ChatResponse) (Reply, error) {
	if len(r.Choices) == 0 {
		return Reply{}, &ProtocolError{Reason: "response contains no choices"}
	}
	choice := r.Choices[0]
	out := Reply{Message: model.NewAssistantMessage()}
	appendResponse(out.Message, choice.Message)

	finish, err := parseFinish(choice.FinishReason)
	if err != nil {
		return Reply{}, err
	}
	out.Finish = finish
	if finish == FinishContentFilter {
		out.Message.Content = out.Message.Content.AppendText(ContentFilterNotice)
	}
	if u := convertUsage(r.Usage); u != nil {
		out.Usage = *u
	}
	return out, nil
}

func parseFinish(reason string) (FinishReason, error) {
	switch FinishReason(reason) {
	case FinishNone, FinishStop, FinishContentFilter:
		return FinishReason(reason), nil
	default:
		return FinishNone, &ProtocolError{Reason: fmt.Sprintf("unsupported finish reason %q", reason)}
	}
}

func appendResponse(dst *model.AssistantMessage, m cloud.ResponseMessage) {
	if m.Content.Parts == nil {
		if m.Content.Text != "" {
			dst.Content = dst.Content.AppendText(m.Content.Text)
		}
	} else {
		for _, p := range m.Content.Parts {
			appendWirePart(dst, p)
		}
	}
	for _, img := range m.Images {
		appendWirePart(dst, img)
	}
}

func appendWirePart(dst *model.AssistantMessage, p cloud.ContentPart) {
	switch {
	case p.Type == "text" && p.Text != "":
		dst.Content = dst.Content.AppendText(p.Text)
	case p.Type == "image_url" && p.ImageURL != nil:
		dst.Content = dst.Content.Append(model.Image(p.ImageURL.URL))
	}
}

func convertUsage(u *cloud.Usage) *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
	}
}

// =============================================================================
// WIRE MESSAGES
// =============================================================================

// WireMessages converts history into request messages.
func WireMessages(msgs model.Messages) []cloud.ChatMessage {
	out := make([]cloud.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case *model.SystemMessage:
			out = append(out, cloud.NewSystemMessage(v.Content))
		case *model.UserMessage:
			out = append(out, cloud.ChatMessage{Role: string(model.RoleUser), Content: wireContent(v.Content)})
		case *model.AssistantMessage:
			out = append(out, cloud.ChatMessage{Role: string(model.RoleAssistant), Content: wireContent(v.Content)})
		default:
			panic(fmt.Sprintf("completion: unhandled message type %T", m))
		}
	}
	return out
}

func wireContent(parts model.Parts) cloud.MessageContent {
	wire := make([]cloud.ContentPart, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case model.TextPart:
			wire = append(wire, cloud.TextContent(v.Text))
		case model.ImagePart:
			wire = append(wire, cloud.ImageContent(v.URL))
		default:
			panic(fmt.Sprintf("completion: unhandled part type %T", p))
		}
	}
	return cloud.MessageContent{Parts: wire}
}
