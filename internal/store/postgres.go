package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements RowAppender and Properties on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// AppendRow inserts one record into the named log store.
func (p *Postgres) AppendRow(ctx context.Context, storeName string, fields []string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO log_rows (store_name, fields) VALUES ($1, $2)`,
		storeName, fields,
	)
	if err != nil {
		return fmt.Errorf("append row to %s: %w", storeName, err)
	}
	return nil
}

// Get returns the value for key, reporting absence without error.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM properties WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get property %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a property. Last writer wins.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO properties (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set property %s: %w", key, err)
	}
	return nil
}

// Delete removes a property. Deleting an absent key is not an error.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM properties WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete property %s: %w", key, err)
	}
	return nil
}

// All returns the whole property map.
func (p *Postgres) All(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM properties`)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return props, nil
}
