package models

import (
	"strings"
	"time"
)

// Channel определяет канал доставки кода.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Purpose определяет действие, которое защищает код.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

// ChallengeStatus определяет состояние challenge.
// verified и exhausted — терминальные: для повтора нужен новый challenge.
type ChallengeStatus string

const (
	StatusPending   ChallengeStatus = "pending"
	StatusVerified  ChallengeStatus = "verified"
	StatusExpired   ChallengeStatus = "expired"
	StatusExhausted ChallengeStatus = "exhausted"
)

// Challenge описывает один выданный одноразовый код.
// Секрет хранится только в виде хэша и никогда не возвращается наружу.
type Challenge struct {
	Identifier      string          `json:"identifier"`
	CountryCode     string          `json:"country_code,omitempty"`
	Channel         Channel         `json:"channel"`
	Purpose         Purpose         `json:"purpose"`
	CodeHash        string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ResendAllowedAt time.Time       `json:"resend_allowed_at"`
	AttemptCount    int             `json:"attempt_count"`
	MaxAttempts     int             `json:"max_attempts"`
	Status          ChallengeStatus `json:"status"`
}

// Key возвращает ключ challenge: на пару (identifier, purpose)
// может существовать не более одного незавершённого challenge.
func (c *Challenge) Key() string {
	return ChallengeKey(c.Identifier, c.Purpose)
}

// ChallengeKey строит ключ по нормализованному идентификатору и цели.
func ChallengeKey(identifier string, purpose Purpose) string {
	return string(purpose) + ":" + NormalizeIdentifier(identifier)
}

// NormalizeIdentifier приводит идентификатор к каноническому виду.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// IsTerminal сообщает, завершён ли challenge.
func (s ChallengeStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusExhausted
}

// Expired проверяет, истёк ли срок действия кода к моменту now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
