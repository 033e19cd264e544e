// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the embed_apps table if it does not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS embed_apps (
  id text PRIMARY KEY,
  secret text NOT NULL,
  allowed_origins text[] NOT NULL DEFAULT '{}',
  name text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  require_origin_hint boolean NOT NULL DEFAULT false,
  policy text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure new columns exist (for upgrades)
ALTER TABLE embed_apps ADD COLUMN IF NOT EXISTS require_origin_hint boolean NOT NULL DEFAULT false;
ALTER TABLE embed_apps ADD COLUMN IF NOT EXISTS policy text NOT NULL DEFAULT '';
`)
	return err
}

// SeedFromRecords upserts records into embed_apps.
func SeedFromRecords(ctx context.Context, dbPool *pgxpool.Pool, recs []Record) error {
	for _, r := range recs {
		_, err := dbPool.Exec(ctx, `INSERT INTO embed_apps(id,secret,allowed_origins,name,description,require_origin_hint,policy)
		  VALUES ($1,$2,$3,$4,$5,$6,$7)
		  ON CONFLICT (id) DO UPDATE SET secret=EXCLUDED.secret,allowed_origins=EXCLUDED.allowed_origins,name=EXCLUDED.name,
		    description=EXCLUDED.description,require_origin_hint=EXCLUDED.require_origin_hint,policy=EXCLUDED.policy,updated_at=NOW()`,
			r.ID, r.Secret, r.AllowedOrigins, r.Name, r.Description, r.RequireOriginHint, r.Policy)
		if err != nil {
			return fmt.Errorf("seed %q: %w", r.ID, err)
		}
	}
	return nil
}

// LoadPostgres reads every embed_apps row. The registry is built from this
// snapshot once; later table edits need a restart.
func LoadPostgres(ctx context.Context, dbPool *pgxpool.Pool) ([]Record, error) {
	rows, err := dbPool.Query(ctx, `SELECT id, secret, allowed_origins, name, description, require_origin_hint, policy FROM embed_apps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Secret, &r.AllowedOrigins, &r.Name, &r.Description, &r.RequireOriginHint, &r.Policy); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
