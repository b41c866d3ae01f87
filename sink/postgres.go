package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/use-agent/propintel/models"
)

const createListings = `
CREATE TABLE IF NOT EXISTS listings (
	url        TEXT PRIMARY KEY,
	city       TEXT,
	price      DOUBLE PRECISION,
	price_unit TEXT,
	bhk        INTEGER,
	area_sqft  INTEGER,
	fields     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertListing = `
INSERT INTO listings (url, city, price, price_unit, bhk, area_sqft, fields, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (url) DO UPDATE SET
	city = EXCLUDED.city,
	price = EXCLUDED.price,
	price_unit = EXCLUDED.price_unit,
	bhk = EXCLUDED.bhk,
	area_sqft = EXCLUDED.area_sqft,
	fields = EXCLUDED.fields,
	updated_at = now()`

// Postgres upserts records into a listings table keyed by URL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the schema.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sink: open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: ping postgres: %w", err)
	}
	if _, err := pool.Exec(pingCtx, createListings); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: ensure listings schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Append(ctx context.Context, row models.Fields) error {
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sink: encode postgres row: %w", err)
	}
	url, _ := row[models.FieldURL].(string)
	_, err = p.pool.Exec(context.WithoutCancel(ctx), upsertListing,
		url,
		nullString(row[models.FieldCity]),
		nullFloat(row[models.FieldPrice]),
		nullString(row[models.FieldPriceUnit]),
		nullInt(row[models.FieldBHK]),
		nullInt(row[models.FieldAreaSqft]),
		doc,
	)
	if err != nil {
		return fmt.Errorf("sink: upsert listing %s: %w", url, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nullString(v any) *string {
	if s, ok := v.(string); ok && s != "" {
		return &s
	}
	return nil
}

func nullFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

func nullInt(v any) *int {
	if n, ok := v.(int); ok {
		return &n
	}
	return nil
}
