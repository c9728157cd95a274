package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	bcryptCostFactor = bcrypt.MinCost
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return h
}

func TestCheckPasswordHash(t *testing.T) {
	hash := mustHash(t, "secret")
	if !CheckPasswordHash("secret", hash) {
		t.Error("matching password rejected")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Error("wrong password accepted")
	}
	if CheckPasswordHash("secret", "not-a-hash") {
		t.Error("malformed hash accepted")
	}
}

func TestBcryptAuthenticator(t *testing.T) {
	store := StaticCredentials{"esme1": mustHash(t, "pw1")}
	a := NewBcryptAuthenticator(store)

	tests := []struct {
		name     string
		systemID string
		password string
		want     bool
	}{
		{"valid", "esme1", "pw1", true},
		{"wrong password", "esme1", "pw2", false},
		{"unknown system id", "esme9", "pw1", false},
		{"empty system id", "", "pw1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(context.Background(), tt.systemID, tt.password)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

type failingStore struct{ err error }

func (f failingStore) PasswordHash(context.Context, string) (string, error) { return "", f.err }

func TestBcryptAuthenticatorStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	ok, err := NewBcryptAuthenticator(failingStore{boom}).Authenticate(context.Background(), "esme1", "pw")
	if ok || !errors.Is(err, boom) {
		t.Errorf("Authenticate() = (%v, %v), want (false, %v)", ok, err, boom)
	}
}

type fakeRow struct {
	hash *string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(**string) = r.hash
	return nil
}

type fakeQuerier struct {
	row     fakeRow
	gotArgs []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.gotArgs = args
	return q.row
}

func TestPGCredentialStore(t *testing.T) {
	hash := "$2a$04$abcdefghijklmnopqrstuv"
	tests := []struct {
		name    string
		row     fakeRow
		want    string
		wantErr error
	}{
		{"found", fakeRow{hash: &hash}, hash, nil},
		{"no rows", fakeRow{err: pgx.ErrNoRows}, "", ErrUnknownSystemID},
		{"null hash", fakeRow{}, "", ErrUnknownSystemID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{row: tt.row}
			got, err := NewPGCredentialStore(q).PasswordHash(context.Background(), "esme1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PasswordHash() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PasswordHash() = %q, want %q", got, tt.want)
			}
			if len(q.gotArgs) != 1 || q.gotArgs[0] != "esme1" {
				t.Errorf("query args = %v", q.gotArgs)
			}
		})
	}
}

func TestPGCredentialStoreWrapsErrors(t *testing.T) {
	boom := errors.New("timeout")
	_, err := NewPGCredentialStore(&fakeQuerier{row: fakeRow{err: boom}}).PasswordHash(context.Background(), "x")
	if !errors.Is(err, boom) || errors.Is(err, ErrUnknownSystemID) {
		t.Errorf("PasswordHash() error = %v", err)
	}
}

type fakeExecer struct {
	args []any
	err  error
}

func (e *fakeExecer) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	e.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestSaveCredential(t *testing.T) {
	db := &fakeExecer{}
	if err := SaveCredential(context.Background(), db, "esme1", "secret"); err != nil {
		t.Fatalf("SaveCredential() error = %v", err)
	}
	if len(db.args) != 2 || db.args[0] != "esme1" {
		t.Fatalf("Exec args = %v", db.args)
	}
	hash, _ := db.args[1].(string)
	if !CheckPasswordHash("secret", hash) {
		t.Error("stored hash does not match the password")
	}

	if err := SaveCredential(context.Background(), db, "", "secret"); err == nil {
		t.Error("SaveCredential() accepted an empty system id")
	}
	boom := errors.New("boom")
	if err := SaveCredential(context.Background(), &fakeExecer{err: boom}, "esme1", "secret"); !errors.Is(err, boom) {
		t.Errorf("SaveCredential() error = %v, want wrapped boom", err)
	}
}
