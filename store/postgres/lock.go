package postgres

import (
	"context"
	"time"

	"github.com/nexus-link/durable"
)

// Claim takes key for owner until lease elapses. An expired claim of
// another owner is taken over; the caller's own claim is extended.
func (s *Store) Claim(ctx context.Context, key, owner string, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO durable_locks (key, owner, expires_at)
		VALUES ($1, $2, NOW() + $3::bigint * INTERVAL '1 microsecond')
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE durable_locks.owner = EXCLUDED.owner OR durable_locks.expires_at <= NOW()`,
		key, owner, lease.Microseconds(),
	)
	if err != nil {
		return wrap("claim lock", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrLockTaken
	}
	return nil
}

// Release drops owner's claim on key.
func (s *Store) Release(ctx context.Context, key, owner string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM durable_locks WHERE key = $1 AND owner = $2`, key, owner)
	if err != nil {
		return wrap("release lock", err)
	}
	if tag.RowsAffected() == 0 {
		return durable.ErrLockNotHeld
	}
	return nil
}
