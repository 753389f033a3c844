package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/subsync/pkg/pg"
)

// Querier is the part of *pgxpool.Pool the store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps records in the user_subscriptions table.
// user_key is a uuid column; keys of any other shape fail with
// ErrKeyFormatRejected.
type PostgresStore struct {
	db      Querier
	timeout time.Duration
}

// NewPostgresStore wraps db. A zero timeout leaves statements bounded only by
// the caller's context.
func NewPostgresStore(db Querier, timeout time.Duration) *PostgresStore {
	if db == nil {
		panic("subscription: postgres querier is required")
	}
	return &PostgresStore{db: db, timeout: timeout}
}

const recordColumns = `user_key::text, plan, status,
	COALESCE(external_customer_id, ''), COALESCE(external_subscription_id, ''),
	COALESCE(current_period_end, 0), created_at, updated_at, last_updated`

const (
	selectByKeySQL = `SELECT ` + recordColumns + `
	FROM user_subscriptions
	WHERE user_key = ($1::text)::uuid`

	selectByCustomerSQL = `SELECT ` + recordColumns + `
	FROM user_subscriptions
	WHERE external_customer_id = $1
	ORDER BY last_updated DESC
	LIMIT 1`

	insertValuesSQL = `INSERT INTO user_subscriptions (
		user_key, plan, status, external_customer_id, external_subscription_id,
		current_period_end, created_at, updated_at, last_updated
	) VALUES (
		($1::text)::uuid, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
		NULLIF($6::bigint, 0), NOW(), NOW(), $7
	)
	ON CONFLICT (user_key) DO UPDATE SET
		plan = EXCLUDED.plan,
		status = EXCLUDED.status,
		external_customer_id = EXCLUDED.external_customer_id,
		external_subscription_id = EXCLUDED.external_subscription_id,
		current_period_end = EXCLUDED.current_period_end,
		updated_at = NOW(),`

	upsertSQL = insertValuesSQL + `
		last_updated = GREATEST(EXCLUDED.last_updated, user_subscriptions.last_updated + 1)
	RETURNING ` + recordColumns

	conditionalUpsertSQL = insertValuesSQL + `
		last_updated = EXCLUDED.last_updated
	WHERE user_subscriptions.last_updated < EXCLUDED.last_updated
	RETURNING ` + recordColumns
)

func (s *PostgresStore) Get(ctx context.Context, userKey string) (*Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := scanRecord(s.db.QueryRow(ctx, selectByKeySQL, userKey))
	if err != nil {
		return nil, mapPgError(err)
	}
	return rec, nil
}

func (s *PostgresStore) GetByCustomerID(ctx context.Context, customerID string) (*Record, error) {
	if customerID == "" {
		return nil, ErrRecordNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := scanRecord(s.db.QueryRow(ctx, selectByCustomerSQL, customerID))
	if err != nil {
		return nil, mapPgError(err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stored, err := scanRecord(s.db.QueryRow(ctx, upsertSQL, upsertArgs(rec)...))
	if err != nil {
		return nil, mapPgError(err)
	}
	return stored, nil
}

func (s *PostgresStore) ConditionalUpsert(ctx context.Context, rec Record) (*Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return nil, false, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stored, err := scanRecord(s.db.QueryRow(ctx, conditionalUpsertSQL, upsertArgs(rec)...))
	switch {
	case err == nil:
		return stored, true, nil
	case pg.IsNotFoundError(err):
		// The WHERE guard filtered the update: the stored row is newer or equal.
		current, getErr := scanRecord(s.db.QueryRow(ctx, selectByKeySQL, rec.UserKey))
		if getErr != nil {
			return nil, false, mapPgError(getErr)
		}
		return current, false, nil
	default:
		return nil, false, mapPgError(err)
	}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func upsertArgs(rec Record) []any {
	return []any{
		rec.UserKey,
		string(rec.Plan),
		string(rec.Status),
		rec.ExternalCustomerID,
		rec.ExternalSubscriptionID,
		rec.CurrentPeriodEnd,
		rec.LastUpdated,
	}
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec          Record
		plan, status string
	)
	if err := row.Scan(
		&rec.UserKey,
		&plan,
		&status,
		&rec.ExternalCustomerID,
		&rec.ExternalSubscriptionID,
		&rec.CurrentPeriodEnd,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.LastUpdated,
	); err != nil {
		return nil, err
	}
	rec.Plan = Plan(plan)
	rec.Status = Status(status)
	return &rec, nil
}

func mapPgError(err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return ErrRecordNotFound
	case pg.IsInvalidTextRepresentation(err):
		return errors.Join(ErrKeyFormatRejected, err)
	case pg.IsTransientError(err):
		return errors.Join(ErrStoreUnavailable, err)
	default:
		return err
	}
}
