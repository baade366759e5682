package service

import (
	"context"
	"time"

	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/repository"
)

// DeliveryJanitor периодически удаляет записи журнала доставки за
// пределами окна хранения. Сами challenge чистит Redis по TTL.
type DeliveryJanitor struct {
	deliveries *repository.DeliveryRepository
	retention  time.Duration
	interval   time.Duration
}

// NewDeliveryJanitor создаёт janitor журнала доставки.
func NewDeliveryJanitor(deliveries *repository.DeliveryRepository, retention time.Duration) *DeliveryJanitor {
	return &DeliveryJanitor{
		deliveries: deliveries,
		retention:  retention,
		interval:   time.Hour,
	}
}

// Run запускает цикл очистки до отмены контекста.
func (j *DeliveryJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-j.retention)
			deleted, err := j.deliveries.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				logger.WithComponent("janitor").WithError(err).Warn("очистка журнала доставки не удалась")
				continue
			}
			if deleted > 0 {
				logger.WithComponent("janitor").WithField("deleted", deleted).Info("журнал доставки очищен")
			}
		}
	}
}
