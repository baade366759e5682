package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/otp-backend/internal/models"
)

// ErrUserNotFound возвращается, когда запись пользователя не найдена.
var ErrUserNotFound = errors.New("user not found")

// UserRepository отвечает за работу с таблицей users —
// хранилищем учётных данных, с которым сверяется OTP-поток.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository создаёт экземпляр репозитория.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, phone, country_code, password_hash,
	email_verified, phone_verified, is_active, last_login_at, created_at, updated_at`

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by id %w", err)
	}

	return &user, nil
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if err := r.db.GetContext(ctx, &user, query, models.NormalizeIdentifier(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by email %w", err)
	}

	return &user, nil
}

// GetByPhone возвращает пользователя по номеру телефона и коду страны.
func (r *UserRepository) GetByPhone(ctx context.Context, phone, countryCode string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1 AND country_code = $2`
	if err := r.db.GetContext(ctx, &user, query, phone, countryCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by phone %w", err)
	}

	return &user, nil
}

// GetByIdentifier возвращает пользователя по идентификатору канала.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string, channel models.Channel, countryCode string) (*models.User, error) {
	if channel == models.ChannelSMS {
		return r.GetByPhone(ctx, identifier, countryCode)
	}
	return r.GetByEmail(ctx, identifier)
}

// MarkIdentifierVerified выставляет флаг подтверждения канала.
func (r *UserRepository) MarkIdentifierVerified(ctx context.Context, identifier string, channel models.Channel, countryCode string) error {
	var res sql.Result
	var err error

	if channel == models.ChannelSMS {
		res, err = r.db.ExecContext(ctx,
			`UPDATE users SET phone_verified = TRUE, updated_at = NOW() WHERE phone = $1 AND country_code = $2`,
			identifier, countryCode)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE email = $1`,
			models.NormalizeIdentifier(identifier))
	}
	if err != nil {
		return fmt.Errorf("user repository: mark verified %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user repository: mark verified %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdateLastLoginAt обновляет время последнего входа.
func (r *UserRepository) UpdateLastLoginAt(ctx context.Context, identifier string, channel models.Channel, countryCode string) error {
	var err error
	if channel == models.ChannelSMS {
		_, err = r.db.ExecContext(ctx,
			`UPDATE users SET last_login_at = NOW() WHERE phone = $1 AND country_code = $2`,
			identifier, countryCode)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE users SET last_login_at = NOW() WHERE email = $1`,
			models.NormalizeIdentifier(identifier))
	}
	if err != nil {
		return fmt.Errorf("user repository: update last login %w", err)
	}
	return nil
}
