// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// PART TYPES
// =============================================================================

// Part type tags used on the wire and on disk.
const (
	PartTypeText  = "text"
	PartTypeImage = "image_url"
)

// Part is one piece of message content. The variant set is closed:
// TextPart and ImagePart are the only implementations.
type Part interface {
	// PartType returns the wire tag of the part.
	PartType() string
	isPart()
}

// TextPart holds plain text content.
type TextPart struct {
	Text string
}

// ImagePart references an image, either remote or embedded as a data URL.
type ImagePart struct {
	URL string
}

func (TextPart) PartType() string  { return PartTypeText }
func (ImagePart) PartType() string { return PartTypeImage }

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

// Text returns a text part.
func Text(s string) TextPart {
	return TextPart{Text: s}
}

// Image returns an image part for the given URL.
func Image(url string) ImagePart {
	return ImagePart{URL: url}
}

// ImageFromBytes embeds raw image data as a base64 data URL.
// The content type is sniffed from the data.
func ImageFromBytes(data []byte) (ImagePart, error) {
	if len(data) == 0 {
		return ImagePart{}, errors.New("empty image data")
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return ImagePart{}, fmt.Errorf("unsupported image content type %q", mediaType)
	}
	url := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return ImagePart{URL: url}, nil
}

// =============================================================================
// PART JSON
// =============================================================================

type imageURL struct {
	URL string `json:"url"`
}

type wirePart struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

// MarshalJSON encodes the part as {"type":"text","text":...}.
func (p TextPart) MarshalJSON() ([]byte, error) {
	text := p.Text
	return json.Marshal(wirePart{Type: PartTypeText, Text: &text})
}

// MarshalJSON encodes the part as {"type":"image_url","image_url":{"url":...}}.
func (p ImagePart) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePart{Type: PartTypeImage, ImageURL: &imageURL{URL: p.URL}})
}

func decodePart(data []byte) (Part, error) {
	var w wirePart
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case PartTypeText:
		if w.Text == nil {
			return nil, errors.New("text part without text")
		}
		return TextPart{Text: *w.Text}, nil
	case PartTypeImage:
		if w.ImageURL == nil {
			return nil, errors.New("image part without image_url")
		}
		return ImagePart{URL: w.ImageURL.URL}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", w.Type)
	}
}

// =============================================================================
// PARTS
// =============================================================================

// Parts is insertion-ordered message content. The append methods keep the
// invariant that no two text parts are ever adjacent.
type Parts []Part

// AppendText appends text, merging it into a trailing text part.
func (ps Parts) AppendText(s string) Parts {
	if n := len(ps); n > 0 {
		if last, ok := ps[n-1].(TextPart); ok {
			ps[n-1] = TextPart{Text: last.Text + s}
			return ps
		}
	}
	return append(ps, TextPart{Text: s})
}

// Append appends any part, coalescing text.
func (ps Parts) Append(p Part) Parts {
	switch v := p.(type) {
	case TextPart:
		return ps.AppendText(v.Text)
	case ImagePart:
		return append(ps, v)
	default:
		panic(fmt.Sprintf("model: unhandled part type %T", p))
	}
}

// Clone returns a copy that shares no backing array with ps.
func (ps Parts) Clone() Parts {
	if ps == nil {
		return nil
	}
	out := make(Parts, len(ps))
	copy(out, ps)
	return out
}

// HasImage reports whether any part is an image.
func (ps Parts) HasImage() bool {
	for _, p := range ps {
		if _, ok := p.(ImagePart); ok {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes a tagged part array. A bare JSON string is accepted
// as a single text part.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*ps = Parts{}.AppendText(s)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode parts: %w", err)
	}
	out := make(Parts, 0, len(raw))
	for i, r := range raw {
		p, err := decodePart(r)
		if err != nil {
			return fmt.Errorf("decode part %d: %w", i, err)
		}
		out = out.Append(p)
	}
	*ps = out
	return nil
}

// PlainText concatenates the text parts, skipping images.
func PlainText(ps Parts) string {
	var b strings.Builder
	for _, p := range ps {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
