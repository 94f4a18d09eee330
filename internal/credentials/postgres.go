package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authgate/internal/database"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations
const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL
type PostgresStore struct {
	db  database.Service
	now func() time.Time
}

// NewPostgresStore returns a store using db. Run database.Migrate first.
func NewPostgresStore(db database.Service) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithClock sets the clock used for created_at timestamps
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	query := `
		INSERT INTO users (email, password_hash, is_active, created_at)
		VALUES ($1, $2, TRUE, $3)
		RETURNING email, password_hash, is_active, created_at
	`

	var u User
	err := s.db.QueryRow(ctx, query, email, passwordHash, s.now().UTC()).
		Scan(&u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &u, nil
}

func (s *PostgresStore) FindUser(ctx context.Context, email string) (*User, error) {
	query := `SELECT email, password_hash, is_active, created_at FROM users WHERE email = $1`

	var u User
	err := s.db.QueryRow(ctx, query, email).Scan(&u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &u, nil
}

func (s *PostgresStore) CreateOTP(ctx context.Context, email, code string) (*OTPChallenge, error) {
	query := `
		INSERT INTO otp_challenges (email, code, created_at, is_used)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, email, code, created_at, is_used
	`

	c, err := scanChallenge(s.db.QueryRow(ctx, query, email, code, s.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to create otp: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindValidOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error) {
	query := `
		SELECT id, email, code, created_at, is_used
		FROM otp_challenges
		WHERE email = $1 AND code = $2 AND created_at > $3 AND is_used = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	c, err := scanChallenge(s.db.QueryRow(ctx, query, email, code, now.Add(-window).UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) MarkUsed(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE otp_challenges SET is_used = TRUE WHERE id = $1 AND is_used = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to mark otp used: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var used bool
	err = s.db.QueryRow(ctx, `SELECT is_used FROM otp_challenges WHERE id = $1`, id).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOTPNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read otp: %w", err)
	}
	return ErrOTPAlreadyUsed
}

// ConsumeOTP relies on row locking: a concurrent consumer either skips the
// locked row or re-checks is_used after the first commit, so only one wins.
func (s *PostgresStore) ConsumeOTP(ctx context.Context, email, code string, now time.Time, window time.Duration) (*OTPChallenge, error) {
	query := `
		UPDATE otp_challenges SET is_used = TRUE
		WHERE id = (
			SELECT id FROM otp_challenges
			WHERE email = $1 AND code = $2 AND created_at > $3 AND is_used = FALSE
			ORDER BY created_at DESC, id DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND is_used = FALSE
		RETURNING id, email, code, created_at, is_used
	`

	c, err := scanChallenge(s.db.QueryRow(ctx, query, email, code, now.Add(-window).UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}

func scanChallenge(row pgx.Row) (*OTPChallenge, error) {
	var c OTPChallenge
	if err := row.Scan(&c.ID, &c.Email, &c.Code, &c.CreatedAt, &c.Used); err != nil {
		return nil, err
	}
	return &c, nil
}

// isUniqueViolation checks if the error is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
