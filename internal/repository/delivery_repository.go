package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/otp-backend/internal/models"
)

// DeliveryRepository отвечает за append-only журнал доставки кодов.
// Записи никогда не обновляются, только добавляются и со временем
// удаляются janitor'ом по окну хранения.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository создаёт экземпляр репозитория.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Append добавляет запись о попытке доставки.
func (r *DeliveryRepository) Append(ctx context.Context, rec *models.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_log (challenge_key, identifier, channel, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	if err := r.db.QueryRowxContext(
		ctx, query,
		rec.ChallengeKey, rec.Identifier, rec.Channel, rec.Outcome, rec.Detail,
	).Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("delivery repository: append %w", err)
	}

	return nil
}

// ListByIdentifier возвращает последние записи доставки для идентификатора.
func (r *DeliveryRepository) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var records []models.DeliveryRecord
	query := `
		SELECT id, challenge_key, identifier, channel, outcome, detail, created_at
		FROM delivery_log
		WHERE identifier = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &records, query, models.NormalizeIdentifier(identifier), limit); err != nil {
		return nil, fmt.Errorf("delivery repository: list %w", err)
	}

	return records, nil
}

// DeleteOlderThan удаляет записи старше границы окна хранения.
func (r *DeliveryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delivery repository: delete older than %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delivery repository: delete older than %w", err)
	}

	return affected, nil
}
