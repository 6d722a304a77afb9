package catalog_test

import (
	"errors"
	"testing"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/event"
)

func TestNewContainsAllKinds(t *testing.T) {
	c := catalog.New()

	defs := c.List()
	if len(defs) != len(event.Kinds()) {
		t.Fatalf("expected %d definitions, got %d", len(event.Kinds()), len(defs))
	}
	for _, k := range event.Kinds() {
		if _, err := c.Get(k); err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
	}
}

func TestRegisterUnknownKind(t *testing.T) {
	c := catalog.New()

	err := c.Register(catalog.Definition{Kind: "invoice.paid"})
	if !errors.Is(err, catalog.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRegisterRejectsBrokenSchema(t *testing.T) {
	c := catalog.New()

	err := c.Register(catalog.Definition{
		Kind:   event.OrderCreated,
		Schema: []byte(`{"type": 12}`),
	})
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestValidateUsesRegisteredSchema(t *testing.T) {
	c := catalog.New()
	if err := c.Register(catalog.Definition{Kind: event.OrderCreated, Schema: orderSchema}); err != nil {
		t.Fatal(err)
	}

	if err := c.Validate(event.OrderCreated, map[string]any{"order_id": "x"}); err == nil {
		t.Fatal("expected schema violation")
	}
	if err := c.Validate(event.OrderCreated, map[string]any{"order_id": "x", "total": 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Kinds without a schema accept anything.
	if err := c.Validate(event.OrderCancelled, "free-form"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate("order.refunded", nil); !errors.Is(err, catalog.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
