package models

import (
	"time"

	"github.com/google/uuid"
)

// Результат попытки доставки кода.
const (
	DeliveryOutcomeSent   = "sent"
	DeliveryOutcomeFailed = "failed"
)

// DeliveryRecord — запись журнала доставки (append-only).
// Используется для наблюдаемости и аудита повторных отправок.
type DeliveryRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ChallengeKey string    `db:"challenge_key" json:"challenge_key"`
	Identifier   string    `db:"identifier" json:"identifier"`
	Channel      Channel   `db:"channel" json:"channel"`
	Outcome      string    `db:"outcome" json:"outcome"`
	Detail       *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
