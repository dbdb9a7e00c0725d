package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    key_hash         TEXT PRIMARY KEY,
    idem_key         TEXT NOT NULL,
    fingerprint      TEXT NOT NULL,
    status           TEXT NOT NULL,
    response_status  INTEGER NOT NULL DEFAULT 0,
    response_headers TEXT,
    response_body    BYTEA,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    expires_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys (expires_at);
`

// PostgresStore persists idempotency records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a store backed by the provided connection pool.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: database handle is required")
	}
	return &PostgresStore{db: db}, nil
}

// Init creates the backing table when it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("idempotency: init schema: %w", err)
	}
	return nil
}

// Reserve implements the Store interface. Expired records are overwritten so
// a retried key behaves like a fresh one.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)
	expires := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, idem_key, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (key_hash) DO UPDATE SET
			fingerprint      = EXCLUDED.fingerprint,
			status           = EXCLUDED.status,
			response_status  = 0,
			response_headers = NULL,
			response_body    = NULL,
			created_at       = EXCLUDED.created_at,
			updated_at       = EXCLUDED.updated_at,
			expires_at       = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at`,
		id, key, fingerprint, string(StatusPending), now, expires,
	)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if affected > 0 {
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   expires,
		}}, nil
	}

	record, err := s.findRecord(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements the Store interface.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := storageKey(key)

	var headers []byte
	if sanitized := replayableHeaders(resp.Headers); len(sanitized) > 0 {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		headers = encoded
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET
			status           = $2,
			response_status  = $3,
			response_headers = $4,
			response_body    = $5,
			updated_at       = $6,
			expires_at       = $7
		WHERE key_hash = $1 AND fingerprint = $8`,
		id, string(StatusCompleted), resp.Status, nullableBytes(headers), nullableBytes(resp.Body), now, now.Add(ttl), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Either the reservation vanished or the key is held by another request.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, idem_key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)`,
		id, key, fingerprint, string(StatusCompleted), resp.Status, nullableBytes(headers), nullableBytes(resp.Body), now, now.Add(ttl),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
			return ErrFingerprintMismatch
		}
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key_hash = $1`, storageKey(key)); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}

// CleanupExpired implements the Store interface.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key_hash IN (
			SELECT key_hash FROM idempotency_keys WHERE expires_at <= $1 LIMIT $2
		)`,
		now.UTC(), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup expired: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup expired: %w", err)
	}
	return int(removed), nil
}

func (s *PostgresStore) findRecord(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idem_key, fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys WHERE key_hash = $1`,
		id,
	)

	var record Record
	var status string
	var headers, body []byte
	if err := row.Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers, &body, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt); err != nil {
		return Record{}, fmt.Errorf("idempotency: load record: %w", err)
	}
	record.Status = Status(status)
	if len(headers) > 0 {
		decoded := make(map[string][]string)
		if err := json.Unmarshal(headers, &decoded); err != nil {
			return Record{}, fmt.Errorf("idempotency: decode headers: %w", err)
		}
		record.ResponseHeaders = decoded
	}
	if len(body) > 0 {
		record.ResponseBody = body
	}
	return record, nil
}

func nullableBytes(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
