// Package herald delivers order lifecycle events to tenant-configured
// webhooks.
//
// Herald is a library, not a service. An order workflow calls Emit and moves
// on; matching subscriptions each receive a signed JSON POST in the
// background, and every try is written to an append-mostly delivery log that
// doubles as the retry queue.
//
// Key features:
//   - HMAC-SHA256 signature over the exact body bytes (X-Webhook-Signature)
//   - Per-subscription retry policy with a fixed backoff table
//   - Periodic retry sweep with overlap protection and bounded concurrency
//   - Composable store pattern (Postgres, SQLite, MongoDB, Redis, Memory)
//   - Optional JSON Schema validation of event data
//
// Quick start:
//
//	h, err := herald.New(
//	    herald.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h.Start(ctx)
//	defer h.Stop(ctx)
//
//	h.Emit(ctx, "rest_42", event.OrderCreated, orderID,
//	    map[string]any{"order_id": orderID, "total": 1250},
//	    map[string]string{"source": "checkout"},
//	)
//
// Receivers verify deliveries with signature.Verify(body, header, secret).
package herald
