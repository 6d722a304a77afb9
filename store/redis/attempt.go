package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// attemptModel is the JSON representation stored in Redis.
type attemptModel struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscription_id"`
	TenantID       string            `json:"tenant_id"`
	EventKind      string            `json:"event_kind"`
	EventID        string            `json:"event_id"`
	AttemptNumber  int               `json:"attempt_number"`
	RequestURL     string            `json:"request_url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	RequestBody    string            `json:"request_body"`
	Signature      string            `json:"signature"`
	StatusCode     int               `json:"status_code"`
	ResponseBody   string            `json:"response_body"`
	LatencyMs      int               `json:"latency_ms"`
	Outcome        string            `json:"outcome"`
	Error          string            `json:"error,omitempty"`
	ErrorClass     string            `json:"error_class,omitempty"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		TenantID:       a.TenantID,
		EventKind:      string(a.EventKind),
		EventID:        a.EventID,
		AttemptNumber:  a.AttemptNumber,
		RequestURL:     a.Request.URL,
		RequestHeaders: a.Request.Headers,
		RequestBody:    string(a.Request.Body),
		Signature:      a.Request.Signature,
		StatusCode:     a.Response.StatusCode,
		ResponseBody:   a.Response.Body,
		LatencyMs:      a.Response.LatencyMs,
		Outcome:        string(a.Outcome),
		Error:          a.Error,
		ErrorClass:     a.ErrorClass,
		NextRetryAt:    a.NextRetryAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*attempt.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &attempt.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		EventKind:      event.Kind(m.EventKind),
		EventID:        m.EventID,
		AttemptNumber:  m.AttemptNumber,
		Request: attempt.Request{
			URL:       m.RequestURL,
			Headers:   m.RequestHeaders,
			Body:      []byte(m.RequestBody),
			Signature: m.Signature,
		},
		Response: attempt.Response{
			StatusCode: m.StatusCode,
			Body:       m.ResponseBody,
			LatencyMs:  m.LatencyMs,
		},
		Outcome:     attempt.Outcome(m.Outcome),
		Error:       m.Error,
		ErrorClass:  m.ErrorClass,
		NextRetryAt: m.NextRetryAt,
	}, nil
}

// scheduled reports whether m belongs in the retry index.
func (m *attemptModel) scheduled() bool {
	return m.Outcome == string(attempt.OutcomeRetrying) && m.NextRetryAt != nil
}

func (s *Store) AppendAttempt(ctx context.Context, a *attempt.Attempt) error {
	m := toAttemptModel(a)
	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: append attempt: %w", err)
	}

	created := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zAttemptSub+m.SubscriptionID, goredis.Z{Score: created, Member: m.ID})
	pipe.ZAdd(ctx, zAttemptTenant+m.TenantID, goredis.Z{Score: created, Member: m.ID})
	pipe.ZAdd(ctx, chainKey(m.SubscriptionID, m.EventID), goredis.Z{Score: float64(m.AttemptNumber), Member: m.ID})
	pipe.SAdd(ctx, sAttemptOutcome+m.Outcome, m.ID)
	if m.scheduled() {
		pipe.ZAdd(ctx, zAttemptRetry, goredis.Z{Score: scoreFromTime(*m.NextRetryAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: append attempt indexes: %w", err)
	}
	return nil
}

func (s *Store) getAttemptModel(ctx context.Context, attID string) (*attemptModel, error) {
	var m attemptModel
	if err := s.getEntity(ctx, entityKey(prefixAttempt, attID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("herald/redis: get attempt: %w", err)
	}
	return &m, nil
}

// UpdateAttempt rewrites the outcome fields of a row and moves it between
// the outcome and retry indexes.
func (s *Store) UpdateAttempt(ctx context.Context, a *attempt.Attempt) error {
	m, err := s.getAttemptModel(ctx, a.ID.String())
	if err != nil {
		return err
	}
	prevOutcome := m.Outcome

	m.Outcome = string(a.Outcome)
	m.StatusCode = a.Response.StatusCode
	m.ResponseBody = a.Response.Body
	m.LatencyMs = a.Response.LatencyMs
	m.Error = a.Error
	m.ErrorClass = a.ErrorClass
	m.NextRetryAt = a.NextRetryAt
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: update attempt: %w", err)
	}

	pipe := s.rdb.Pipeline()
	if prevOutcome != m.Outcome {
		pipe.SRem(ctx, sAttemptOutcome+prevOutcome, m.ID)
		pipe.SAdd(ctx, sAttemptOutcome+m.Outcome, m.ID)
	}
	if m.scheduled() {
		pipe.ZAdd(ctx, zAttemptRetry, goredis.Z{Score: scoreFromTime(*m.NextRetryAt), Member: m.ID})
	} else {
		pipe.ZRem(ctx, zAttemptRetry, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update attempt indexes: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*attempt.Attempt, error) {
	m, err := s.getAttemptModel(ctx, attID.String())
	if err != nil {
		return nil, err
	}
	return fromAttemptModel(m)
}

// loadAttempts fetches the given IDs in order, skipping vanished rows.
func (s *Store) loadAttempts(ctx context.Context, ids []string, keep func(*attemptModel) bool) ([]*attempt.Attempt, error) {
	result := make([]*attempt.Attempt, 0, len(ids))
	for _, attID := range ids {
		m, err := s.getAttemptModel(ctx, attID)
		if err != nil {
			if errors.Is(err, herald.ErrAttemptNotFound) {
				continue
			}
			return nil, err
		}
		if keep != nil && !keep(m) {
			continue
		}
		a, err := fromAttemptModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Store) listNewestFirst(ctx context.Context, key string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	ids, err := s.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list attempts: %w", err)
	}
	result, err := s.loadAttempts(ctx, ids, func(m *attemptModel) bool {
		return opts.Outcome == "" || m.Outcome == string(opts.Outcome)
	})
	if err != nil {
		return nil, err
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListAttemptsBySubscription(ctx context.Context, subID id.ID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listNewestFirst(ctx, zAttemptSub+subID.String(), opts)
}

func (s *Store) ListAttemptsByTenant(ctx context.Context, tenantID string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listNewestFirst(ctx, zAttemptTenant+tenantID, opts)
}

func (s *Store) ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error) {
	ids, err := s.rdb.ZRange(ctx, chainKey(subID.String(), eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list attempts by event: %w", err)
	}
	return s.loadAttempts(ctx, ids, nil)
}

func (s *Store) DueRetries(ctx context.Context, at time.Time, limit int) ([]*attempt.Attempt, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zAttemptRetry, math.Inf(-1), scoreFromTime(at), limit)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: due retries: %w", err)
	}
	return s.loadAttempts(ctx, ids, func(m *attemptModel) bool {
		return m.scheduled() && !m.NextRetryAt.After(at)
	})
}

// claimScript moves a due member of the retry index to the lease score.
// KEYS[1] = retry index
// ARGV[1] = attempt ID, ARGV[2] = now score, ARGV[3] = lease score
var claimScript = goredis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if s and tonumber(s) <= tonumber(ARGV[2]) then
    redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
    return 1
end
return 0
`)

// ClaimRetry leases a due attempt. The script runs atomically, so exactly
// one caller sees the member as due; the document is updated afterwards.
func (s *Store) ClaimRetry(ctx context.Context, attID id.ID, at, until time.Time) (bool, error) {
	claimed, err := claimScript.Run(ctx, s.rdb, []string{zAttemptRetry},
		attID.String(), scoreFromTime(at), scoreFromTime(until)).Int()
	if err != nil {
		return false, fmt.Errorf("herald/redis: claim retry: %w", err)
	}
	if claimed == 0 {
		return false, nil
	}

	m, err := s.getAttemptModel(ctx, attID.String())
	if err != nil {
		return false, err
	}
	until = until.UTC()
	m.NextRetryAt = &until
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return false, fmt.Errorf("herald/redis: claim retry: %w", err)
	}
	return true, nil
}

// SettleRetry drops the attempt from the retry index and clears its marker.
func (s *Store) SettleRetry(ctx context.Context, attID id.ID) error {
	m, err := s.getAttemptModel(ctx, attID.String())
	if err != nil {
		return err
	}
	m.NextRetryAt = nil
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: settle retry: %w", err)
	}
	if err := s.rdb.ZRem(ctx, zAttemptRetry, m.ID).Err(); err != nil {
		return fmt.Errorf("herald/redis: settle retry index: %w", err)
	}
	return nil
}

func (s *Store) ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error {
	m, err := s.getAttemptModel(ctx, attID.String())
	if err != nil {
		return err
	}
	at = at.UTC()
	m.NextRetryAt = &at
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, entityKey(prefixAttempt, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: release retry: %w", err)
	}
	if !m.scheduled() {
		return nil
	}
	if err := s.rdb.ZAdd(ctx, zAttemptRetry, goredis.Z{Score: scoreFromTime(at), Member: m.ID}).Err(); err != nil {
		return fmt.Errorf("herald/redis: release retry index: %w", err)
	}
	return nil
}

func (s *Store) CountAttempts(ctx context.Context, outcome attempt.Outcome) (int64, error) {
	n, err := s.rdb.SCard(ctx, sAttemptOutcome+string(outcome)).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count attempts: %w", err)
	}
	return n, nil
}
