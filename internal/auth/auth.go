package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCostFactor is a variable so tests can lower it.
var bcryptCostFactor = 12

// ErrUnknownSystemID is returned by credential stores for unknown system ids.
var ErrUnknownSystemID = errors.New("unknown system id")

// HashPassword generates a bcrypt hash for the given password.
// Use this when provisioning SMPP_CREDENTIALS or the credential table.
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCostFactor)
	if err != nil {
		slog.Error("Failed to generate bcrypt hash for password", slog.Any("error", err))
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plaintext password with a stored bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Warn("Error comparing password hash", slog.Any("error", err))
		}
		return false
	}
	return true
}

// Authenticator verifies bind credentials. An error means the check itself
// could not be performed; a plain mismatch is (false, nil).
type Authenticator interface {
	Authenticate(ctx context.Context, systemID, password string) (bool, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, systemID, password string) (bool, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, systemID, password string) (bool, error) {
	return f(ctx, systemID, password)
}

// CredentialStore resolves the bcrypt hash stored for a system id.
type CredentialStore interface {
	PasswordHash(ctx context.Context, systemID string) (string, error)
}

// StaticCredentials is an in-memory CredentialStore of system id to bcrypt hash.
type StaticCredentials map[string]string

func (s StaticCredentials) PasswordHash(_ context.Context, systemID string) (string, error) {
	hash, ok := s[systemID]
	if !ok {
		return "", ErrUnknownSystemID
	}
	return hash, nil
}

// BcryptAuthenticator checks passwords against hashes from a CredentialStore.
type BcryptAuthenticator struct {
	store CredentialStore
}

func NewBcryptAuthenticator(store CredentialStore) *BcryptAuthenticator {
	return &BcryptAuthenticator{store: store}
}

func (a *BcryptAuthenticator) Authenticate(ctx context.Context, systemID, password string) (bool, error) {
	if systemID == "" {
		return false, nil
	}
	hash, err := a.store.PasswordHash(ctx, systemID)
	if err != nil {
		if errors.Is(err, ErrUnknownSystemID) {
			slog.WarnContext(ctx, "Bind rejected: system id not found", slog.String("system_id", systemID))
			return false, nil
		}
		return false, fmt.Errorf("credential lookup for %q: %w", systemID, err)
	}
	if !CheckPasswordHash(password, hash) {
		slog.WarnContext(ctx, "Bind rejected: invalid password", slog.String("system_id", systemID))
		return false, nil
	}
	return true, nil
}
