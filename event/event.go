// Package event defines the closed set of event kinds herald delivers and the
// canonical payload that is signed and transmitted for each occurrence.
package event

import (
	"fmt"
)

// Kind identifies a domain occurrence. The set is closed.
type Kind string

const (
	// OrderCreated fires after an order has been committed.
	OrderCreated Kind = "order.created"

	// OrderUpdated fires after an order's contents or status change.
	OrderUpdated Kind = "order.updated"

	// OrderCompleted fires when an order has been fulfilled.
	OrderCompleted Kind = "order.completed"

	// OrderCancelled fires when an order is cancelled.
	OrderCancelled Kind = "order.cancelled"
)

var kinds = []Kind{OrderCreated, OrderUpdated, OrderCompleted, OrderCancelled}

// Kinds returns every known event kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind converts s into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("event: unknown kind %q", s)
	}
	return k, nil
}
