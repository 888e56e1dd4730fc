package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dlbhoang/shop-dunk/internal/domain"
)

// Compile-time interface assertion.
var _ UserRepository = (*PostgresUserRepo)(nil)

// PostgresUserRepo implements UserRepository over pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const baseColumns = `id, full_name, gender, date_of_birth, email, phone_number, username, role, password_changed_at, created_at, updated_at`

func (r *PostgresUserRepo) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	query := `SELECT ` + baseColumns + ` FROM users WHERE id = $1 AND active`
	user, err := scanUser(r.db.QueryRow(ctx, query, userID), false, false)
	if err != nil {
		return domain.User{}, mapError("get user by id", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) FindByIDWithPassword(ctx context.Context, userID int64) (domain.User, error) {
	query := `SELECT ` + baseColumns + `, password_hash FROM users WHERE id = $1 AND active`
	user, err := scanUser(r.db.QueryRow(ctx, query, userID), true, false)
	if err != nil {
		return domain.User{}, mapError("get user by id", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) FindByEmailOrUsername(ctx context.Context, identifier string) (domain.User, error) {
	query := `SELECT ` + baseColumns + `, password_hash FROM users WHERE (email = lower($1) OR username = $1) AND active LIMIT 1`
	user, err := scanUser(r.db.QueryRow(ctx, query, identifier), true, false)
	if err != nil {
		return domain.User{}, mapError("get user by identifier", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + baseColumns + ` FROM users WHERE email = $1 AND active`
	user, err := scanUser(r.db.QueryRow(ctx, query, email), false, false)
	if err != nil {
		return domain.User{}, mapError("get user by email", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) FindByResetTokenHash(ctx context.Context, digest string) (domain.User, error) {
	query := `SELECT ` + baseColumns + `, password_reset_token_hash, password_reset_expires_at FROM users WHERE password_reset_token_hash = $1 AND active`
	user, err := scanUser(r.db.QueryRow(ctx, query, digest), false, true)
	if err != nil {
		return domain.User{}, mapError("get user by reset token", err)
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (id, full_name, gender, date_of_birth, email, phone_number, username, role, password_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	var gender sql.NullString
	if user.Gender != "" {
		gender = sql.NullString{String: string(user.Gender), Valid: true}
	}

	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.FullName,
		gender,
		user.DateOfBirth,
		user.Email,
		user.PhoneNumber,
		user.Username,
		string(user.Role),
		user.PasswordHash,
	)
	if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, mapError("create user", err)
	}
	user.Active = true
	return user, nil
}

const updatePasswordSQL = `UPDATE users
SET password_hash = $2,
    password_changed_at = $3,
    password_reset_token_hash = NULL,
    password_reset_expires_at = NULL,
    updated_at = now()
WHERE id = $1 AND active`

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error {
	tag, err := r.db.Exec(ctx, updatePasswordSQL, userID, passwordHash, changedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password: %w", domain.ErrNotFound)
	}
	return nil
}

const setResetTokenSQL = `UPDATE users
SET password_reset_token_hash = $2,
    password_reset_expires_at = $3,
    updated_at = now()
WHERE id = $1 AND active`

func (r *PostgresUserRepo) SetResetToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, setResetTokenSQL, userID, digest, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set reset token: %w", domain.ErrNotFound)
	}
	return nil
}

const clearResetTokenSQL = `UPDATE users
SET password_reset_token_hash = NULL,
    password_reset_expires_at = NULL,
    updated_at = now()
WHERE id = $1`

func (r *PostgresUserRepo) ClearResetToken(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, clearResetTokenSQL, userID); err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + baseColumns + ` FROM users WHERE active ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows, false, false)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row, withPassword, withReset bool) (domain.User, error) {
	var (
		user   domain.User
		gender sql.NullString
	)

	dest := []any{
		&user.ID,
		&user.FullName,
		&gender,
		&user.DateOfBirth,
		&user.Email,
		&user.PhoneNumber,
		&user.Username,
		&user.Role,
		&user.PasswordChangedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	}
	if withPassword {
		dest = append(dest, &user.PasswordHash)
	}
	if withReset {
		dest = append(dest, &user.PasswordResetTokenHash, &user.PasswordResetExpiresAt)
	}

	if err := row.Scan(dest...); err != nil {
		return domain.User{}, err
	}

	if gender.Valid {
		user.Gender = domain.Gender(gender.String)
	}
	user.Active = true
	return user, nil
}

func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
