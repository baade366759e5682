package delivery

import (
	"context"
	"fmt"

	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/models"
)

// EmailGateway — внешний шлюз доставки кода по email.
type EmailGateway interface {
	SendCode(ctx context.Context, to, code string) error
}

// SMSGateway — внешний шлюз доставки кода по SMS.
type SMSGateway interface {
	SendCode(ctx context.Context, countryCode, phone, code string) error
}

// DeliveryLog записывает результат попытки доставки.
type DeliveryLog interface {
	Append(ctx context.Context, rec *models.DeliveryRecord) error
}

// Dispatcher отправляет код через шлюз нужного канала и фиксирует
// исход в журнале. Challenge к этому моменту уже durably записан,
// поэтому медленная или неудачная отправка не блокирует verify.
type Dispatcher struct {
	email      EmailGateway
	sms        SMSGateway
	deliveries DeliveryLog
}

// NewDispatcher создаёт диспетчер доставки.
func NewDispatcher(email EmailGateway, sms SMSGateway, deliveries DeliveryLog) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, deliveries: deliveries}
}

// Dispatch отправляет plaintext-код получателю challenge.
// Запись в журнал делается независимо от исхода отправки.
func (d *Dispatcher) Dispatch(ctx context.Context, ch *models.Challenge, code string) error {
	var sendErr error

	switch ch.Channel {
	case models.ChannelEmail:
		sendErr = d.email.SendCode(ctx, ch.Identifier, code)
	case models.ChannelSMS:
		sendErr = d.sms.SendCode(ctx, ch.CountryCode, ch.Identifier, code)
	default:
		sendErr = fmt.Errorf("dispatcher: неизвестный канал %q", ch.Channel)
	}

	rec := &models.DeliveryRecord{
		ChallengeKey: ch.Key(),
		Identifier:   models.NormalizeIdentifier(ch.Identifier),
		Channel:      ch.Channel,
		Outcome:      models.DeliveryOutcomeSent,
	}
	if sendErr != nil {
		rec.Outcome = models.DeliveryOutcomeFailed
		detail := sendErr.Error()
		rec.Detail = &detail
	}

	if err := d.deliveries.Append(ctx, rec); err != nil {
		// Журнал наблюдаемости не должен ронять выдачу кода
		logger.WithComponent("dispatcher").WithError(err).
			Warn("не удалось записать журнал доставки")
	}

	if sendErr != nil {
		return fmt.Errorf("dispatcher: отправка через %s не удалась: %w", ch.Channel, sendErr)
	}

	return nil
}
