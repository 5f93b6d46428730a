// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Format errors of a model reply.
var (
	// ErrMissingCodeBlock is returned when the reply has no ```json fence.
	ErrMissingCodeBlock = errors.New("missing ```json code block in response")

	// ErrUnterminatedCodeBlock is returned when the ```json fence is never closed.
	ErrUnterminatedCodeBlock = errors.New("unterminated ```json code block in response")

	// ErrNotArray is returned when the fenced JSON is not an array.
	ErrNotArray = errors.New("parsed intents are not a JSON array")

	// ErrInvalidInstance is returned when an array item has the wrong shape.
	ErrInvalidInstance = errors.New("invalid intent instance")
)

const (
	openFence  = "```json"
	closeFence = "```"
)

// Instance is one intent candidate proposed by the model. Confidence is
// documented as [0, 1] but not enforced.
type Instance struct {
	Name       string         `json:"name"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
	Params     map[string]any `json:"params"`
}

// =============================================================================
// PROMPT
// =============================================================================

const promptHeader = `You are a perceptive assistant who knows phones and desktop software well.

From the screenshot of the user's device, infer the tasks the user is likely to want help with next (we call them intents).
Every intent currently supported is listed below.

## Supported intents

`

const promptFormat = `
## Response format

Reply with a JSON array of every plausible intent inside a ` + "```json" + ` code block, ordered from most to least likely.
Each element of the array must have this form:

    {
        "name": <intent name>,
        "reasoning": <a short, friendly explanation of why the intent relates to the screen>,
        "confidence": <how likely the intent is, from 0 to 1>,
        "params": <the intent parameters, matching the intent's parameter schema>
    }
`

// RenderPrompt lists every intent of the catalog with its name, description
// and serialized parameter schema, followed by the output format.
func RenderPrompt(c *Catalog) (string, error) {
	var b strings.Builder
	b.WriteString(promptHeader)
	for _, in := range c.Intents() {
		schema, err := json.Marshal(in.Params)
		if err != nil {
			return "", fmt.Errorf("intent %q: encode schema: %w", in.Name, err)
		}
		fmt.Fprintf(&b, "- Intent name: %s\n", in.Name)
		fmt.Fprintf(&b, "  * Description: %s\n", in.Description)
		fmt.Fprintf(&b, "  * Parameter schema: %s\n", schema)
	}
	b.WriteString(promptFormat)
	return b.String(), nil
}

// =============================================================================
// RESPONSE
// =============================================================================

// ExtractJSONBlock returns the trimmed text between the first ```json fence
// and the next ``` after it.
func ExtractJSONBlock(text string) (string, error) {
	start := strings.Index(text, openFence)
	if start == -1 {
		return "", ErrMissingCodeBlock
	}
	body := text[start+len(openFence):]
	end := strings.Index(body, closeFence)
	if end == -1 {
		return "", ErrUnterminatedCodeBlock
	}
	return strings.TrimSpace(body[:end]), nil
}

var instanceSchema = mustResolve(&jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"name":       {Type: "string"},
		"reasoning":  {Type: "string"},
		"confidence": {Type: "number"},
		"params":     {Type: "object"},
	},
	Required: []string{"name", "reasoning", "confidence", "params"},
})

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("intent: resolve schema: %v", err))
	}
	return rs
}

// ParseResponse extracts and decodes the intent array from a model reply.
// Items keep the order the model produced.
func ParseResponse(text string) ([]Instance, error) {
	block, err := ExtractJSONBlock(text)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, ErrNotArray
	}

	out := make([]Instance, 0, len(items))
	for i, item := range items {
		if err := instanceSchema.Validate(item); err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrInvalidInstance, i, err)
		}
		inst, ok := toInstance(item)
		if !ok {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidInstance, i)
		}
		out = append(out, inst)
	}
	return out, nil
}

func toInstance(item any) (Instance, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Instance{}, false
	}
	var inst Instance
	if inst.Name, ok = obj["name"].(string); !ok {
		return Instance{}, false
	}
	if inst.Reasoning, ok = obj["reasoning"].(string); !ok {
		return Instance{}, false
	}
	if inst.Confidence, ok = obj["confidence"].(float64); !ok {
		return Instance{}, false
	}
	if inst.Params, ok = obj["params"].(map[string]any); !ok {
		return Instance{}, false
	}
	return inst, true
}
