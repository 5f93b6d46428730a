// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrUnknownIntent is returned when an intent name is not in the catalog.
var ErrUnknownIntent = errors.New("unknown intent")

// Intent is one action the assistant can propose.
type Intent struct {
	Name        string
	Description string
	Params      *jsonschema.Schema
}

// Catalog is an ordered set of intents with resolved parameter schemas.
type Catalog struct {
	mu       sync.RWMutex
	intents  []Intent
	resolved map[string]*jsonschema.Resolved
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{resolved: make(map[string]*jsonschema.Resolved)}
}

// DefaultCatalog returns a catalog holding the predefined intents.
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	for _, in := range Predefined() {
		if err := c.Register(in); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds an intent. Names must be unique and the schema must resolve.
func (c *Catalog) Register(in Intent) error {
	if in.Name == "" {
		return errors.New("intent name must not be empty")
	}
	if in.Params == nil {
		return fmt.Errorf("intent %q has no parameter schema", in.Name)
	}
	rs, err := in.Params.Resolve(nil)
	if err != nil {
		return fmt.Errorf("intent %q: resolve parameter schema: %w", in.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.resolved[in.Name]; dup {
		return fmt.Errorf("intent %q already registered", in.Name)
	}
	c.intents = append(c.intents, in)
	c.resolved[in.Name] = rs
	return nil
}

// Intents returns the registered intents in registration order.
func (c *Catalog) Intents() []Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Intent(nil), c.intents...)
}

// Lookup finds an intent by name.
func (c *Catalog) Lookup(name string) (Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, in := range c.intents {
		if in.Name == name {
			return in, true
		}
	}
	return Intent{}, false
}

// ValidateParams checks params against the named intent's schema.
func (c *Catalog) ValidateParams(name string, params map[string]any) error {
	c.mu.RLock()
	rs, ok := c.resolved[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownIntent, name)
	}
	if err := rs.Validate(params); err != nil {
		return fmt.Errorf("intent %q params: %w", name, err)
	}
	return nil
}

// =============================================================================
// PREDEFINED INTENTS
// =============================================================================

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func optionalStr(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"string", "null"}, Description: desc}
}

// Predefined returns the built-in intents.
func Predefined() []Intent {
	return []Intent{
		{
			Name: "add_todo",
			Description: "Trigger when the screen shows a notification, an errand or a warning " +
				"(for example a data plan running out or a top-up reminder) from which it can be " +
				"inferred that the user has to act on something later.",
			Params: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"title":    str("Todo title"),
					"content":  str("Todo details"),
					"deadline": optionalStr("Deadline (optional)"),
				},
				Required: []string{"title", "content"},
			},
		},
		{
			Name: "log_expense",
			Description: "Trigger when the screen shows financial details of a concrete purchase " +
				"such as an order, an invoice or a receipt. Do not trigger for statements, " +
				"repayment notices or other summaries that are not a single expense.",
			Params: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"title":    str("Expense title"),
					"amount":   {Type: "number", Description: "Amount spent"},
					"currency": {Type: "string", Enum: []any{"CNY", "USD"}, Description: "Currency"},
					"date":     optionalStr("Date of the expense (optional)"),
				},
				Required: []string{"title", "amount", "currency"},
			},
		},
		{
			Name: "add_note",
			Description: "Trigger when the screen shows information worth keeping, such as " +
				"meeting minutes or an important announcement.",
			Params: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"title":   str("Note title"),
					"content": str("Note content"),
				},
				Required: []string{"title", "content"},
			},
		},
	}
}
