package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the body transmitted to every subscription notified for one
// occurrence. Field order is fixed by the struct declaration and is part of
// the wire contract: receivers verify signatures over these exact bytes.
type Payload struct {
	Event     Kind              `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  string            `json:"tenant_id"`
	Data      any               `json:"data"`
	Metadata  map[string]string `json:"metadata"`
}

// NewPayload builds a payload stamped at ts (normalized to UTC).
// A nil metadata map is encoded as an empty object.
func NewPayload(kind Kind, ts time.Time, tenantID string, data any, metadata map[string]string) Payload {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Payload{
		Event:     kind,
		Timestamp: ts.UTC(),
		TenantID:  tenantID,
		Data:      data,
		Metadata:  metadata,
	}
}

// Encode returns the canonical JSON encoding of the payload.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("event: encode payload: %w", err)
	}
	return b, nil
}
