// Package postgres implements the repository contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/iglaboq/shop/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS journals (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price NUMERIC(12,2) NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	cover_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payments (
	payment_id TEXT PRIMARY KEY,
	tg_user_id BIGINT NOT NULL,
	chat_id BIGINT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	journal_id BIGINT NOT NULL REFERENCES journals (id),
	quantity INTEGER NOT NULL,
	amount NUMERIC(12,2) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'RUB',
	status TEXT NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	full_name TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	postcode TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	payment_id TEXT NOT NULL UNIQUE REFERENCES payments (payment_id),
	tg_user_id BIGINT NOT NULL,
	chat_id BIGINT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	journal_id BIGINT NOT NULL REFERENCES journals (id),
	quantity INTEGER NOT NULL,
	amount NUMERIC(12,2) NOT NULL,
	currency TEXT NOT NULL DEFAULT 'RUB',
	status TEXT NOT NULL DEFAULT 'paid',
	full_name TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	postcode TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	track_number TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_tg_user_idx ON orders (tg_user_id);
`

// Store bundles the PostgreSQL-backed repositories over a shared pool.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// StoreOption configures optional Store behaviour.
type StoreOption func(*Store)

// WithClock overrides the time source, mostly for tests.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore constructs a Store over an open database pool.
func NewStore(db *sql.DB, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: db is required")
	}
	s := &Store{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the schema when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return translateError("postgres.init", err)
	}
	return nil
}

// Ping verifies database connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// pq error class 23 covers integrity constraint violations.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "row not found", err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return repositories.NewStoreError(op, repositories.StoreErrorConflict, pqErr.Message, err)
		case pqErr.Code.Class() == "08":
			return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, pqErr.Message, err)
		}
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnknown, err.Error(), err)
}

var (
	_ repositories.JournalRepository = (*JournalRepository)(nil)
	_ repositories.PaymentRepository = (*PaymentRepository)(nil)
	_ repositories.OrderRepository   = (*OrderRepository)(nil)
	_ repositories.UnitOfWork        = (*UnitOfWork)(nil)
)
