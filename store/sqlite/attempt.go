package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/id"
)

func (s *Store) AppendAttempt(ctx context.Context, a *attempt.Attempt) error {
	m := toAttemptModel(a)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: append attempt: %w", err)
	}
	return nil
}

func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	res, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("outcome = ?", string(a.Outcome)).
		Set("status_code = ?", a.Response.StatusCode).
		Set("response_body = ?", a.Response.Body).
		Set("latency_ms = ?", a.Response.LatencyMs).
		Set("error = ?", a.Error).
		Set("error_class = ?", a.ErrorClass).
		Set("next_retry_at = ?", utc(a.NextRetryAt)).
		Set("updated_at = ?", now()).
		Where("id = ?", a.ID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update attempt: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*attempt.Attempt, error) {
	m := new(attemptModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", attID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get attempt: %w", err)
	}
	return fromAttemptModel(m)
}

func (s *Store) ListAttemptsBySubscription(ctx context.Context, subID id.ID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(ctx, "subscription_id", subID.String(), opts)
}

func (s *Store) ListAttemptsByTenant(ctx context.Context, tenantID string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(ctx, "tenant_id", tenantID, opts)
}

func (s *Store) listAttempts(ctx context.Context, column, value string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models).Where(column+" = ?", value)
	if opts.Outcome != "" {
		q = q.Where("outcome = ?", string(opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list attempts by %s: %w", column, err)
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error) {
	var models []attemptModel
	if err := s.sdb.NewSelect(&models).
		Where("subscription_id = ?", subID.String()).
		Where("event_id = ?", eventID).
		OrderExpr("attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list attempts by event: %w", err)
	}
	return fromAttemptModels(models)
}

// DueRetries compares next_retry_at with a bound parameter rather than
// datetime('now') so the injected clock decides what is due.
func (s *Store) DueRetries(ctx context.Context, at time.Time, limit int) ([]*attempt.Attempt, error) {
	var models []attemptModel
	q := s.sdb.NewSelect(&models).
		Where("outcome = ?", string(attempt.OutcomeRetrying)).
		Where("next_retry_at IS NOT NULL").
		Where("next_retry_at <= ?", at.UTC()).
		OrderExpr("next_retry_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: due retries: %w", err)
	}
	return fromAttemptModels(models)
}

func (s *Store) ClaimRetry(ctx context.Context, attID id.ID, at, until time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = ?", until.UTC()).
		Set("updated_at = ?", now()).
		Where("id = ?", attID.String()).
		Where("outcome = ?", string(attempt.OutcomeRetrying)).
		Where("next_retry_at IS NOT NULL").
		Where("next_retry_at <= ?", at.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("herald/sqlite: claim retry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) SettleRetry(ctx context.Context, attID id.ID) error {
	res, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = NULL").
		Set("updated_at = ?", now()).
		Where("id = ?", attID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: settle retry: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = ?", at.UTC()).
		Set("updated_at = ?", now()).
		Where("id = ?", attID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: release retry: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) CountAttempts(ctx context.Context, outcome attempt.Outcome) (int64, error) {
	count, err := s.sdb.NewSelect((*attemptModel)(nil)).
		Where("outcome = ?", string(outcome)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: count attempts: %w", err)
	}
	return count, nil
}

func fromAttemptModels(models []attemptModel) ([]*attempt.Attempt, error) {
	result := make([]*attempt.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}
