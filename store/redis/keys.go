package redis

// Key prefixes for primary entity storage.
const (
	prefixSubscription = "herald:sub:"
	prefixAttempt      = "herald:att:"
)

// Key prefixes for sorted set indexes.
const (
	zSubscriptionTenant = "herald:z:sub:tenant:" // + tenant ID, scored by created_at
	zAttemptSub         = "herald:z:att:sub:"    // + subscription ID, scored by created_at
	zAttemptTenant      = "herald:z:att:tenant:" // + tenant ID, scored by created_at
	zAttemptChain       = "herald:z:att:chain:"  // + subscription ID + ":" + event ID, scored by attempt_number
	zAttemptRetry       = "herald:z:att:retry"   // scored by next_retry_at
)

// Key prefixes for set indexes.
const (
	sSubscriptionActive = "herald:s:sub:tenant:" // + tenant ID + ":active"
	sAttemptOutcome     = "herald:s:att:outcome:"
)

// lockSweep guards the retry sweep across processes.
const lockSweep = "herald:lock:sweep"

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// activeSetKey returns the set key for active subscriptions of a tenant.
func activeSetKey(tenantID string) string {
	return sSubscriptionActive + tenantID + ":active"
}

// chainKey returns the sorted set holding one event's attempts to one subscription.
func chainKey(subID, eventID string) string {
	return zAttemptChain + subID + ":" + eventID
}
