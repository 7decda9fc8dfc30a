package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultQueryTimeout = 5 * time.Second

// Store implements the identity persistence contract on PostgreSQL.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open connects to PostgreSQL and returns a Store with pool defaults
// suited to the gateway's short point queries.
func Open(dsn string, queryTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, queryTimeout), nil
}

// NewStore wraps an existing connection pool. A non-positive timeout
// selects the default per-query bound.
func NewStore(db *sql.DB, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Store{db: db, queryTimeout: queryTimeout}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for readiness probes and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// opCtx bounds a single store operation so an unreachable backend fails
// the request instead of hanging it.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}
