package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const passwordHashBySystemID = `
SELECT password_hash
FROM smpp_credentials
WHERE system_id = $1 AND status = 'active'`

const upsertCredential = `
INSERT INTO smpp_credentials (system_id, password_hash, status)
VALUES ($1, $2, 'active')
ON CONFLICT (system_id) DO UPDATE
SET password_hash = EXCLUDED.password_hash, status = 'active', updated_at = NOW()`

// rowQuerier is the subset of *pgxpool.Pool the store needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGCredentialStore looks credentials up in the smpp_credentials table.
type PGCredentialStore struct {
	db rowQuerier
}

func NewPGCredentialStore(db rowQuerier) *PGCredentialStore {
	return &PGCredentialStore{db: db}
}

func (s *PGCredentialStore) PasswordHash(ctx context.Context, systemID string) (string, error) {
	var hash *string
	err := s.db.QueryRow(ctx, passwordHashBySystemID, systemID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownSystemID
		}
		return "", fmt.Errorf("query smpp credential: %w", err)
	}
	if hash == nil {
		// A row without a hash can never bind.
		return "", ErrUnknownSystemID
	}
	return *hash, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SaveCredential hashes password and stores it as the active credential for
// systemID, replacing any previous one.
func SaveCredential(ctx context.Context, db execer, systemID, password string) error {
	if systemID == "" {
		return errors.New("system id must not be empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, upsertCredential, systemID, hash); err != nil {
		return fmt.Errorf("save smpp credential: %w", err)
	}
	return nil
}
