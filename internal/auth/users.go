package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when signing up with an email that already has an account
	ErrEmailTaken = errors.New("email address already registered")
)

// User is an account that can sign in
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// String renders the user the way messages refer to them.
func (u *User) String() string {
	return u.Email
}

// Users provides account lookups and creation
type Users struct {
	q db.DBTX
}

// NewUsers creates a user store over a pool or transaction
func NewUsers(q db.DBTX) *Users {
	return &Users{q: q}
}

const userColumns = `id, email, password_hash, is_active, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// GetByID loads a user by ID
func (s *Users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail loads a user by email, case-insensitively
func (s *Users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email)))
}

// FindByEmailExcluding loads the user with the given email unless it is excludeID.
// Returns ErrUserNotFound when nothing else matches.
func (s *Users) FindByEmailExcluding(ctx context.Context, email string, excludeID uuid.UUID) (*User, error) {
	return scanUser(s.q.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1) AND id <> $2
		ORDER BY created_at ASC
		LIMIT 1
	`, strings.TrimSpace(email), excludeID))
}

// Create inserts a new active user
func (s *Users) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	user, err := scanUser(s.q.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, uuid.New(), strings.TrimSpace(email), passwordHash))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// SetActive activates or deactivates an account
func (s *Users) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.q.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored password hash for the account with this email
func (s *Users) SetPasswordHash(ctx context.Context, email, passwordHash string) error {
	tag, err := s.q.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email), passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
