package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// BeginMutation registers an idempotency key before the underlying
// mutation executes.
//
// Exactly one of three things happens, all inside one transaction:
//   - fresh key (or expired record): an in_progress record is inserted and
//     started=true is returned; the caller must run the mutation and call
//     CompleteMutation.
//   - key exists and is completed/failed: the stored record is returned
//     with started=false; the caller replays the stored response verbatim
//     and must NOT re-execute the mutation.
//   - key exists and is in_progress: world.ErrStillProcessing.
//
// Expiry is evaluated against the injected clock, so simulation runs can
// fast-forward past the TTL without sleeping.
func (s *Store) BeginMutation(ctx context.Context, key string, ttl time.Duration) (rec world.IdempotencyRecord, started bool, err error) {
	now := s.clock.Now()

	tx, err := s.begin(ctx)
	if err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: %w", key, err)
	}
	defer tx.Rollback()

	// Drop an expired record so the key can be reused. Logical expiry is
	// what matters; physical deletion here just keeps the table small.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE key = ? AND expires_at <= ?
	`, key, now.UnixMilli()); err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: expire: %w", key, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, status, response_status, response_body, created_at, expires_at)
		VALUES (?, 'in_progress', 0, NULL, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: insert: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: rows affected: %w", key, err)
	}

	if affected > 0 {
		if err := tx.Commit(); err != nil {
			return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: commit: %w", key, err)
		}
		return world.IdempotencyRecord{
			Key:       key,
			Status:    world.MutationInProgress,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}, true, nil
	}

	// Conflict: the key is live. Read the record in the same transaction.
	rec, err = scanRecord(tx.QueryRowContext(ctx, `
		SELECT key, status, response_status, response_body, created_at, expires_at
		FROM idempotency_records WHERE key = ?
	`, key))
	if err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: read record: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return world.IdempotencyRecord{}, false, fmt.Errorf("begin mutation %s: commit: %w", key, err)
	}

	if rec.Status == world.MutationInProgress {
		return rec, false, fmt.Errorf("begin mutation %s: %w", key, world.ErrStillProcessing)
	}
	return rec, false, nil
}

// CompleteMutation records the outcome of the first call with a key.
//
// The transition is one-way: only an in_progress record can be completed,
// and completed records are immutable. Replays read the stored response
// bytes exactly as written here.
func (s *Store) CompleteMutation(ctx context.Context, key string, status world.MutationStatus, responseStatus int, responseBody []byte) error {
	if status != world.MutationCompleted && status != world.MutationFailed {
		return fmt.Errorf("complete mutation %s: invalid terminal status %q", key, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET status = ?, response_status = ?, response_body = ?
		WHERE key = ? AND status = 'in_progress'
	`, string(status), responseStatus, responseBody, key)
	if err != nil {
		return fmt.Errorf("complete mutation %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete mutation %s: rows affected: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("complete mutation %s: record not in progress: %w", key, world.ErrInvalidTransition)
	}
	return nil
}

// GetMutationRecord fetches an idempotency record regardless of expiry.
// Used by tests and the invariant checker.
func (s *Store) GetMutationRecord(ctx context.Context, key string) (world.IdempotencyRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT key, status, response_status, response_body, created_at, expires_at
		FROM idempotency_records WHERE key = ?
	`, key))
	if err != nil {
		return world.IdempotencyRecord{}, fmt.Errorf("get mutation record %s: %w", key, err)
	}
	return rec, nil
}

func scanRecord(row rowScanner) (world.IdempotencyRecord, error) {
	var rec world.IdempotencyRecord
	var status string
	var body []byte
	var createdAt, expiresAt int64
	err := row.Scan(&rec.Key, &status, &rec.ResponseStatus, &body, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return world.IdempotencyRecord{}, world.ErrNotFound
	}
	if err != nil {
		return world.IdempotencyRecord{}, err
	}
	rec.Status = world.MutationStatus(status)
	rec.ResponseBody = body
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return rec, nil
}
