package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald"
	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/id"
)

// AppendAttempt persists a new attempt row.
func (s *Store) AppendAttempt(ctx context.Context, a *attempt.Attempt) error {
	m := toAttemptModel(a)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: append attempt: %w", err)
	}

	return nil
}

// UpdateAttempt sets the outcome fields of an existing row. A nil
// NextRetryAt unsets the field so the row drops out of the due index.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	set := bson.M{
		"outcome":       string(a.Outcome),
		"status_code":   a.Response.StatusCode,
		"response_body": a.Response.Body,
		"latency_ms":    a.Response.LatencyMs,
		"error":         a.Error,
		"error_class":   a.ErrorClass,
		"updated_at":    now(),
	}

	update := bson.M{"$set": set}
	if a.NextRetryAt != nil {
		set["next_retry_at"] = a.NextRetryAt.UTC()
	} else {
		update["$unset"] = bson.M{"next_retry_at": ""}
	}

	res, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{"_id": a.ID.String()}).
		SetUpdate(update).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update attempt: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrAttemptNotFound
	}

	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*attempt.Attempt, error) {
	var m attemptModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": attID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrAttemptNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get attempt: %w", err)
	}

	return fromAttemptModel(&m)
}

// ListAttemptsBySubscription returns attempts for a subscription, newest first.
func (s *Store) ListAttemptsBySubscription(ctx context.Context, subID id.ID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(ctx, bson.M{"subscription_id": subID.String()}, opts)
}

// ListAttemptsByTenant returns attempts for a tenant, newest first.
func (s *Store) ListAttemptsByTenant(ctx context.Context, tenantID string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(ctx, bson.M{"tenant_id": tenantID}, opts)
}

func (s *Store) listAttempts(ctx context.Context, filter bson.M, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	var models []attemptModel

	if opts.Outcome != "" {
		filter["outcome"] = string(opts.Outcome)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list attempts: %w", err)
	}

	return fromAttemptModels(models)
}

// ListAttemptsByEvent returns one event's attempt chain to one subscription.
func (s *Store) ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error) {
	var models []attemptModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"subscription_id": subID.String(),
			"event_id":        eventID,
		}).
		Sort(bson.D{{Key: "attempt_number", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list attempts by event: %w", err)
	}

	return fromAttemptModels(models)
}

// DueRetries returns retrying attempts whose next_retry_at has passed.
func (s *Store) DueRetries(ctx context.Context, at time.Time, limit int) ([]*attempt.Attempt, error) {
	var models []attemptModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"outcome":       string(attempt.OutcomeRetrying),
			"next_retry_at": bson.M{"$lte": at.UTC()},
		}).
		Sort(bson.D{{Key: "next_retry_at", Value: 1}, {Key: "_id", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: due retries: %w", err)
	}

	return fromAttemptModels(models)
}

// ClaimRetry moves a due next_retry_at to until with a filtered
// single-document update. Document-level atomicity lets exactly one caller
// match.
func (s *Store) ClaimRetry(ctx context.Context, attID id.ID, at, until time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{
			"_id":           attID.String(),
			"outcome":       string(attempt.OutcomeRetrying),
			"next_retry_at": bson.M{"$lte": at.UTC()},
		}).
		Set("next_retry_at", until.UTC()).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("herald/mongo: claim retry: %w", err)
	}

	return res.MatchedCount() == 1, nil
}

// SettleRetry unsets next_retry_at once the follow-up attempt exists.
func (s *Store) SettleRetry(ctx context.Context, attID id.ID) error {
	res, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{"_id": attID.String()}).
		SetUpdate(bson.M{
			"$unset": bson.M{"next_retry_at": ""},
			"$set":   bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: settle retry: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrAttemptNotFound
	}

	return nil
}

// ReleaseRetry restores next_retry_at on a claimed attempt.
func (s *Store) ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*attemptModel)(nil)).
		Filter(bson.M{"_id": attID.String()}).
		Set("next_retry_at", at.UTC()).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: release retry: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrAttemptNotFound
	}

	return nil
}

// CountAttempts returns the number of attempts with the given outcome.
func (s *Store) CountAttempts(ctx context.Context, outcome attempt.Outcome) (int64, error) {
	count, err := s.mdb.NewFind((*attemptModel)(nil)).
		Filter(bson.M{"outcome": string(outcome)}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count attempts: %w", err)
	}

	return count, nil
}

func fromAttemptModels(models []attemptModel) ([]*attempt.Attempt, error) {
	result := make([]*attempt.Attempt, 0, len(models))

	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, a)
	}

	return result, nil
}
