package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the identity tables if missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS embed_users (
  id UUID PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  credential_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS embed_user_apps (
  id BIGSERIAL PRIMARY KEY,
  user_id UUID NOT NULL REFERENCES embed_users(id),
  app_id TEXT NOT NULL,
  external_user_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (app_id, external_user_id)
);`)
	return err
}

type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `SELECT id::text, email FROM embed_users WHERE email=$1`, email).Scan(&u.ID, &u.Email)
	return u, notFound(err)
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, credentialHash string) (User, error) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO embed_users(id, email, credential_hash) VALUES ($1,$2,$3) ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email, credentialHash); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	// whoever won the insert, the row is there now
	return s.FindUserByEmail(ctx, email)
}

func (s *PostgresStore) FindUserAppBinding(ctx context.Context, externalUserID, tenantID string) (Binding, error) {
	b := Binding{TenantID: tenantID, ExternalUserID: externalUserID}
	err := s.db.QueryRow(ctx,
		`SELECT user_id::text FROM embed_user_apps WHERE app_id=$1 AND external_user_id=$2`,
		tenantID, externalUserID).Scan(&b.InternalUserID)
	return b, notFound(err)
}

func (s *PostgresStore) CreateUserAppBinding(ctx context.Context, b Binding) (Binding, error) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO embed_user_apps(user_id, app_id, external_user_id) VALUES ($1::uuid,$2,$3) ON CONFLICT (app_id, external_user_id) DO NOTHING`,
		b.InternalUserID, b.TenantID, b.ExternalUserID); err != nil {
		return Binding{}, fmt.Errorf("insert binding: %w", err)
	}
	return s.FindUserAppBinding(ctx, b.ExternalUserID, b.TenantID)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
