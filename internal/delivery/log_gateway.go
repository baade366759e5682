package delivery

import (
	"context"

	"github.com/ignatzorin/otp-backend/internal/logger"
)

// LogEmailGateway пишет код в лог вместо реальной отправки.
// Используется в development, пока не подключён SMTP-провайдер.
type LogEmailGateway struct{}

func (LogEmailGateway) SendCode(ctx context.Context, to, code string) error {
	logger.WithComponent("email-gateway").WithField("to", to).
		Infof("код подтверждения: %s", code)
	return nil
}

// LogSMSGateway пишет код в лог вместо реальной отправки.
type LogSMSGateway struct{}

func (LogSMSGateway) SendCode(ctx context.Context, countryCode, phone, code string) error {
	logger.WithComponent("sms-gateway").WithField("to", "+"+countryCode+phone).
		Infof("код подтверждения: %s", code)
	return nil
}
