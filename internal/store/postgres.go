package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores buckets in a shared relaychat_kv table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Postgres{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relaychat_kv (
			bucket TEXT NOT NULL,
			key TEXT COLLATE "C" NOT NULL,
			value BYTEA NOT NULL,
			PRIMARY KEY (bucket, key)
		)
	`)
	return err
}

func (s *Postgres) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validate(bucket, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM relaychat_kv WHERE bucket = $1 AND key = $2`, bucket, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Postgres) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relaychat_kv (bucket, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value
	`, bucket, key, value)
	return err
}

func (s *Postgres) Delete(ctx context.Context, bucket, key string) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM relaychat_kv WHERE bucket = $1 AND key = $2`, bucket, key)
	return err
}

func (s *Postgres) Range(ctx context.Context, bucket string, opts RangeOptions) ([]Entry, error) {
	if err := validate(bucket, "-"); err != nil {
		return nil, err
	}
	query := `SELECT key, value FROM relaychat_kv WHERE bucket = $1 AND key > $2 ORDER BY key ASC`
	if opts.Descending {
		query = `SELECT key, value FROM relaychat_kv WHERE bucket = $1 AND key > $2 ORDER BY key DESC`
	}
	args := []any{bucket, opts.After}
	if opts.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, opts.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
