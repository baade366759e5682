package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает учётную запись, от имени которой проходит OTP-проверка.
// Хранилище учётных данных — внешний коллаборатор, здесь только то,
// что нужно для повторной аутентификации и флагов подтверждения.
type User struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	CountryCode   *string    `db:"country_code" json:"country_code,omitempty"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	EmailVerified bool       `db:"email_verified" json:"email_verified"`
	PhoneVerified bool       `db:"phone_verified" json:"phone_verified"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	LastLoginAt   *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// LoginCredentials — эфемерный набор учётных данных для LOGIN-цели.
// Не сохраняется: challenge для входа — побочный эффект успешной
// проверки пароля, а не самостоятельный ресурс.
type LoginCredentials struct {
	Identifier  string
	Password    string
	CountryCode string
}
