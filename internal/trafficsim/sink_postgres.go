package trafficsim

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTrafficLogSQL = `
CREATE TABLE IF NOT EXISTS traffic_log (
	id            BIGSERIAL PRIMARY KEY,
	ts            TIMESTAMPTZ NOT NULL,
	session_id    TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER,
	user_agent    TEXT NOT NULL,
	referrer      TEXT NOT NULL,
	proxy         TEXT NOT NULL,
	dwell_seconds DOUBLE PRECISION NOT NULL,
	note          TEXT NOT NULL,
	error         TEXT NOT NULL
)`

type postgresSink struct {
	pool *pgxpool.Pool
}

func newPostgresSink(ctx context.Context, dbURL string) (*postgresSink, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	// PgBouncer in transaction mode rejects named prepared statements.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTrafficLogSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create traffic_log: %w", err)
	}
	return &postgresSink{pool: pool}, nil
}

// Append is a single INSERT, so a record is either stored whole or not at all.
func (s *postgresSink) Append(rec SessionRecord) error {
	var status *int
	if rec.Status != 0 {
		status = &rec.Status
	}
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO traffic_log (ts, session_id, seq, url, status_code, user_agent, referrer, proxy, dwell_seconds, note, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.Timestamp.UTC(), rec.SessionID, rec.Seq, rec.URL, status, rec.UserAgent,
		rec.Referrer, rec.Proxy, rec.Dwell.Seconds(), rec.Note, rec.Error)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *postgresSink) count(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM traffic_log WHERE session_id = $1", sessionID).Scan(&n)
	return n, err
}

func (s *postgresSink) Close() error {
	s.pool.Close()
	return nil
}
