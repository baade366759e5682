package service

import (
	"context"
	"errors"
	"time"

	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/otp"
	"github.com/ignatzorin/otp-backend/internal/pkg/apperror"
	"github.com/ignatzorin/otp-backend/internal/repository"
	"github.com/ignatzorin/otp-backend/internal/store"
	"github.com/ignatzorin/otp-backend/internal/validation"
)

// VerifierService оркестрирует попытку погашения challenge: проверку
// срока и бюджета попыток, сравнение кода и атомарный переход статуса.
// Все мутации идут через CompareAndTransition — проигравший гонку
// запрос получает конфликт, а не второй успех.
type VerifierService struct {
	challenges ChallengeStore
	users      CredentialStore
	tokens     *TokenManager
	codeLength int

	now func() time.Time
}

// VerifyInput содержит параметры попытки проверки кода.
type VerifyInput struct {
	Identifier  string
	CountryCode string
	Channel     models.Channel
	Purpose     models.Purpose
	Code        string
}

// OutcomeAction — машиночитаемое действие в ответе проверки.
type OutcomeAction struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// VerifyResult — исход успешной проверки, зависящий от цели.
type VerifyResult struct {
	Purpose    models.Purpose  `json:"purpose"`
	Tokens     *TokenPair      `json:"tokens,omitempty"`
	ResetToken string          `json:"reset_token,omitempty"`
	Actions    []OutcomeAction `json:"actions,omitempty"`
}

// NewVerifierService создаёт сервис проверки.
func NewVerifierService(challenges ChallengeStore, users CredentialStore, tokens *TokenManager, codeLength int) *VerifierService {
	return &VerifierService{
		challenges: challenges,
		users:      users,
		tokens:     tokens,
		codeLength: codeLength,
		now:        time.Now,
	}
}

// Verify выполняет попытку погашения challenge.
func (s *VerifierService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	if err := validateTarget(in.Identifier, in.CountryCode, in.Channel, in.Purpose); err != nil {
		return nil, err
	}
	if err := validation.ValidateCode(in.Code, s.codeLength); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, err.Error())
	}

	in.Identifier = models.NormalizeIdentifier(in.Identifier)
	key := models.ChallengeKey(in.Identifier, in.Purpose)
	now := s.now()

	// Перечитываем текущее состояние: попытка против вытесненного
	// resend'ом кода корректно провалится как устаревшая.
	ch, err := s.challenges.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrChallengeNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось прочитать challenge")
	}

	if ch.Expired(now) {
		// Фиксируем истечение; проигрыш гонки здесь не важен —
		// ответ в любом случае Expired
		if _, err := s.challenges.CompareAndTransition(ctx, key, models.StatusPending, func(c *models.Challenge) {
			c.Status = models.StatusExpired
		}); err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			logger.WithComponent("verifier").WithError(err).Warn("не удалось зафиксировать истечение challenge")
		}
		return nil, apperror.ErrExpired
	}

	if ch.Status != models.StatusPending {
		return nil, statusError(ch.Status)
	}

	if ch.AttemptCount >= ch.MaxAttempts {
		if _, err := s.challenges.CompareAndTransition(ctx, key, models.StatusPending, func(c *models.Challenge) {
			c.Status = models.StatusExhausted
		}); err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			logger.WithComponent("verifier").WithError(err).Warn("не удалось зафиксировать исчерпание попыток")
		}
		return nil, apperror.ErrExhausted
	}

	if !otp.VerifyCode(in.Code, ch.CodeHash) {
		return nil, s.registerFailedAttempt(ctx, key)
	}

	// Критическая строка: PENDING -> VERIFIED строго один раз.
	// Из двух конкурентных верных кодов побеждает ровно один.
	verified, err := s.challenges.CompareAndTransition(ctx, key, models.StatusPending, func(c *models.Challenge) {
		c.Status = models.StatusVerified
	})
	if errors.Is(err, store.ErrConflict) {
		if verified != nil {
			return nil, statusError(verified.Status)
		}
		return nil, apperror.ErrConflict
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrChallengeNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать проверку")
	}

	return s.dispatchOutcome(ctx, verified)
}

// registerFailedAttempt атомарно увеличивает счётчик попыток; при
// достижении бюджета в том же шаге переводит challenge в EXHAUSTED.
func (s *VerifierService) registerFailedAttempt(ctx context.Context, key string) error {
	updated, err := s.challenges.CompareAndTransition(ctx, key, models.StatusPending, func(c *models.Challenge) {
		c.AttemptCount++
		if c.AttemptCount >= c.MaxAttempts {
			c.Status = models.StatusExhausted
		}
	})
	if errors.Is(err, store.ErrConflict) {
		if updated != nil {
			return statusError(updated.Status)
		}
		return apperror.ErrConflict
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperror.ErrChallengeNotFound
	}
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось зафиксировать попытку")
	}

	if updated.Status == models.StatusExhausted {
		return apperror.ErrExhausted
	}

	return apperror.NewInvalidCode(updated.MaxAttempts - updated.AttemptCount)
}

// dispatchOutcome превращает подтверждённый challenge в результат для
// caller'а. Вызывается ровно один раз на challenge — это гарантирует
// атомарный переход в Verify.
func (s *VerifierService) dispatchOutcome(ctx context.Context, ch *models.Challenge) (*VerifyResult, error) {
	switch ch.Purpose {
	case models.PurposeLogin:
		return s.loginOutcome(ctx, ch)
	case models.PurposeRegistration:
		return s.registrationOutcome(ctx, ch)
	case models.PurposePasswordReset:
		return s.passwordResetOutcome(ctx, ch)
	default:
		return nil, apperror.New(apperror.ErrCodeInternal, "неизвестная цель проверки")
	}
}

// loginOutcome обменивает подтверждённый challenge на пару токенов.
func (s *VerifierService) loginOutcome(ctx context.Context, ch *models.Challenge) (*VerifyResult, error) {
	user, err := s.users.GetByIdentifier(ctx, ch.Identifier, ch.Channel, ch.CountryCode)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось загрузить пользователя")
	}

	tokens, err := s.tokens.GeneratePair(user)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось выпустить токены")
	}

	if err := s.users.UpdateLastLoginAt(ctx, ch.Identifier, ch.Channel, ch.CountryCode); err != nil {
		// Не прерываем вход из-за вспомогательного поля
		logger.WithComponent("verifier").WithError(err).Warn("не удалось обновить last_login_at")
	}

	return &VerifyResult{
		Purpose: ch.Purpose,
		Tokens:  tokens,
	}, nil
}

// registrationOutcome помечает идентификатор подтверждённым.
// Каждый канал подтверждается независимо; если второй канал ещё не
// подтверждён, сообщаем об этом действием в ответе.
func (s *VerifierService) registrationOutcome(ctx context.Context, ch *models.Challenge) (*VerifyResult, error) {
	if err := s.users.MarkIdentifierVerified(ctx, ch.Identifier, ch.Channel, ch.CountryCode); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось отметить подтверждение")
	}

	actions := []OutcomeAction{
		{Tag: "identifier_verified", Message: "идентификатор подтверждён"},
	}

	if user, err := s.users.GetByIdentifier(ctx, ch.Identifier, ch.Channel, ch.CountryCode); err == nil {
		switch ch.Channel {
		case models.ChannelEmail:
			if user.Phone != nil && !user.PhoneVerified {
				actions = append(actions, OutcomeAction{
					Tag:     "pending_channel",
					Message: "номер телефона ещё не подтверждён",
				})
			}
		case models.ChannelSMS:
			if !user.EmailVerified {
				actions = append(actions, OutcomeAction{
					Tag:     "pending_channel",
					Message: "email ещё не подтверждён",
				})
			}
		}
	}

	return &VerifyResult{
		Purpose: ch.Purpose,
		Actions: actions,
	}, nil
}

// passwordResetOutcome выпускает короткоживущий одноразовый reset-токен.
// Caller предъявит его отдельной операции смены пароля.
func (s *VerifierService) passwordResetOutcome(_ context.Context, ch *models.Challenge) (*VerifyResult, error) {
	resetToken, err := s.tokens.GenerateResetToken(ch.Identifier)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось выпустить reset-токен")
	}

	return &VerifyResult{
		Purpose:    ch.Purpose,
		ResetToken: resetToken,
		Actions: []OutcomeAction{
			{Tag: "reset_authorized", Message: "сброс пароля авторизован"},
		},
	}, nil
}

// statusError переводит терминальный статус в ошибку для caller'а.
func statusError(status models.ChallengeStatus) error {
	switch status {
	case models.StatusVerified:
		return apperror.ErrAlreadyVerified
	case models.StatusExhausted:
		return apperror.ErrExhausted
	case models.StatusExpired:
		return apperror.ErrExpired
	default:
		return apperror.ErrConflict
	}
}
