// Package catalog describes the event kinds herald can emit and optionally
// constrains the shape of each kind's data with a JSON Schema.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/herald/event"
)

// ErrUnknownKind is returned for kinds outside the closed event set.
var ErrUnknownKind = errors.New("catalog: unknown event kind")

// Definition documents one event kind.
type Definition struct {
	Kind        event.Kind      `json:"kind"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Catalog holds one definition per known event kind.
type Catalog struct {
	mu        sync.RWMutex
	defs      map[event.Kind]Definition
	validator *Validator
}

// New returns a catalog containing every known kind without a schema.
func New() *Catalog {
	c := &Catalog{
		defs:      make(map[event.Kind]Definition),
		validator: NewValidator(),
	}
	for _, k := range event.Kinds() {
		c.defs[k] = Definition{Kind: k}
	}
	return c
}

// Register replaces the definition for def.Kind. A schema, when present, is
// compiled immediately so mistakes surface at registration.
func (c *Catalog) Register(def Definition) error {
	if !def.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, def.Kind)
	}
	if len(def.Schema) > 0 {
		if _, err := c.validator.compile(def.Schema); err != nil {
			return fmt.Errorf("catalog: %s: %w", def.Kind, err)
		}
	}

	c.mu.Lock()
	c.defs[def.Kind] = def
	c.mu.Unlock()
	return nil
}

// Get returns the definition for kind.
func (c *Catalog) Get(kind event.Kind) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.defs[kind]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return def, nil
}

// List returns all definitions sorted by kind.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Validate checks data against the schema registered for kind.
func (c *Catalog) Validate(kind event.Kind, data any) error {
	def, err := c.Get(kind)
	if err != nil {
		return err
	}
	return c.validator.Validate(def.Schema, data)
}
