package postgres

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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("herald/postgres: append attempt: %w", err)
	}
	return nil
}

// UpdateAttempt touches only the outcome columns. The request snapshot is
// written once by AppendAttempt.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	res, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("outcome = $1", string(a.Outcome)).
		Set("status_code = $2", a.Response.StatusCode).
		Set("response_body = $3", a.Response.Body).
		Set("latency_ms = $4", a.Response.LatencyMs).
		Set("error = $5", a.Error).
		Set("error_class = $6", a.ErrorClass).
		Set("next_retry_at = $7", a.NextRetryAt).
		Set("updated_at = $8", now()).
		Where("id = $9", a.ID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: update attempt: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*attempt.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", attID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get attempt: %w", err)
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
	q := s.pg.NewSelect(&models).Where(column+" = $1", value)

	argIdx := 1
	if opts.Outcome != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("outcome = $%d", argIdx), string(opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list attempts by %s: %w", column, err)
	}
	return fromAttemptModels(models)
}

func (s *Store) ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String()).
		Where("event_id = $2", eventID).
		OrderExpr("attempt_number ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list attempts by event: %w", err)
	}
	return fromAttemptModels(models)
}

func (s *Store) DueRetries(ctx context.Context, at time.Time, limit int) ([]*attempt.Attempt, error) {
	var models []attemptModel
	q := s.pg.NewSelect(&models).
		Where("outcome = $1", string(attempt.OutcomeRetrying)).
		Where("next_retry_at IS NOT NULL").
		Where("next_retry_at <= $2", at.UTC()).
		OrderExpr("next_retry_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: due retries: %w", err)
	}
	return fromAttemptModels(models)
}

// ClaimRetry relies on the row lock taken by the conditional UPDATE: only one
// concurrent caller still sees the row as due and gets a non-zero row count.
func (s *Store) ClaimRetry(ctx context.Context, attID id.ID, at, until time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = $1", until.UTC()).
		Set("updated_at = $2", now()).
		Where("id = $3", attID.String()).
		Where("outcome = $4", string(attempt.OutcomeRetrying)).
		Where("next_retry_at IS NOT NULL").
		Where("next_retry_at <= $5", at.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("herald/postgres: claim retry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) SettleRetry(ctx context.Context, attID id.ID) error {
	res, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = NULL").
		Set("updated_at = $1", now()).
		Where("id = $2", attID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: settle retry: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error {
	res, err := s.pg.NewUpdate((*attemptModel)(nil)).
		Set("next_retry_at = $1", at.UTC()).
		Set("updated_at = $2", now()).
		Where("id = $3", attID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: release retry: %w", err)
	}
	return affected(res, herald.ErrAttemptNotFound)
}

func (s *Store) CountAttempts(ctx context.Context, outcome attempt.Outcome) (int64, error) {
	count, err := s.pg.NewSelect((*attemptModel)(nil)).
		Where("outcome = $1", string(outcome)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: count attempts: %w", err)
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
