// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of multi-part message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextContent returns a text content part.
func TextContent(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImageContent returns an image content part.
func ImageContent(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// MessageContent is either a plain string or an array of parts. On the wire
// a nil Parts slice encodes as the string form.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// MarshalJSON encodes the string form or the part array.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a string, null, or an array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	default:
		return fmt.Errorf("unsupported message content: %.40s", data)
	}
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string         `json:"role"` // "user", "assistant", or "system"
	Content MessageContent `json:"content"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: MessageContent{Text: content}}
}

// NewUserMessage creates a new user message with string content.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: MessageContent{Text: content}}
}

// StreamOptions asks the provider to append usage to the stream.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// Usage is the billing block of a response. Cost is reported by OpenRouter only.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// ResponseMessage is the message or delta of a choice.
type ResponseMessage struct {
	Role    string         `json:"role,omitempty"`
	Content MessageContent `json:"content"`
	Images  []ContentPart  `json:"images,omitempty"`
}

// ChatChoice is one choice of a non-streaming response.
type ChatChoice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ChatResponse represents a response from the chat completions endpoint.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// GetContent returns the text of the first choice, or "" if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	c := r.Choices[0].Message.Content
	if c.Parts == nil {
		return c.Text
	}
	var b bytes.Buffer
	for _, p := range c.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ErrorBody is the error object providers embed in responses.
type ErrorBody struct {
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message"`
}

// CodeString returns the error code whether it was sent as a string or a number.
func (e *ErrorBody) CodeString() string {
	if len(e.Code) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return string(e.Code)
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// =============================================================================
// EMBEDDING TYPES
// =============================================================================

// EmbeddingRequest represents a request to the embeddings endpoint.
type EmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// Embedding is one vector of an embeddings response.
type Embedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingResponse represents a response from the embeddings endpoint.
type EmbeddingResponse struct {
	Model string      `json:"model"`
	Data  []Embedding `json:"data"`
	Usage Usage       `json:"usage"`
}
