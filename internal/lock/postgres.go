package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

// PostgresLocker uses session advisory locks. Each held lock pins one pooled
// connection until released, since advisory locks belong to the session.
type PostgresLocker struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db, pollInterval: defaultPollInterval}
}

func (l *PostgresLocker) Backend() string { return "postgres" }

func (l *PostgresLocker) Lock(ctx context.Context, key string) (Release, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock connection: %w", err)
	}

	id := AdvisoryKey(key)
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if locked {
			break
		}
		if err := wait(ctx, l.pollInterval); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return func(releaseCtx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(releaseCtx, "SELECT pg_advisory_unlock($1)", id).Scan(&released); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		if !released {
			return errors.New("advisory lock was not held by this session")
		}
		return nil
	}, nil
}

// AdvisoryKey folds a string key into the bigint space of pg advisory locks.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
