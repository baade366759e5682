package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/otp"
	"github.com/ignatzorin/otp-backend/internal/pkg/apperror"
	"github.com/ignatzorin/otp-backend/internal/repository"
	"github.com/ignatzorin/otp-backend/internal/store"
	"github.com/ignatzorin/otp-backend/internal/validation"
)

// ChallengeStore описывает зависимость сервисов от хранилища challenge.
type ChallengeStore interface {
	Upsert(ctx context.Context, ch *models.Challenge) error
	Get(ctx context.Context, key string) (*models.Challenge, error)
	CompareAndTransition(ctx context.Context, key string, expected models.ChallengeStatus, mutate func(*models.Challenge)) (*models.Challenge, error)
}

// CredentialStore описывает зависимость от хранилища учётных данных.
type CredentialStore interface {
	GetByIdentifier(ctx context.Context, identifier string, channel models.Channel, countryCode string) (*models.User, error)
	MarkIdentifierVerified(ctx context.Context, identifier string, channel models.Channel, countryCode string) error
	UpdateLastLoginAt(ctx context.Context, identifier string, channel models.Channel, countryCode string) error
}

// CodeDispatcher описывает зависимость от слоя доставки.
type CodeDispatcher interface {
	Dispatch(ctx context.Context, ch *models.Challenge, code string) error
}

// IssuerService оркестрирует выдачу и повторную выдачу challenge:
// валидация идентификатора, повторная аутентификация для LOGIN,
// cooldown, генерация кода, запись и отправка.
type IssuerService struct {
	challenges  ChallengeStore
	users       CredentialStore
	generator   *otp.Generator
	dispatcher  CodeDispatcher
	cooldown    time.Duration
	maxAttempts int

	// Подменяется в тестах
	now func() time.Time
}

// IssueInput содержит параметры выдачи challenge.
type IssueInput struct {
	Identifier  string
	CountryCode string
	Channel     models.Channel
	Purpose     models.Purpose
	Credentials *models.LoginCredentials
}

// IssueResult возвращает caller'у только дедлайн повторной отправки.
// Plaintext-код наружу не выходит.
type IssueResult struct {
	ResendAllowedAt time.Time
}

// NewIssuerService создаёт сервис выдачи.
func NewIssuerService(
	challenges ChallengeStore,
	users CredentialStore,
	generator *otp.Generator,
	dispatcher CodeDispatcher,
	cooldown time.Duration,
	maxAttempts int,
) *IssuerService {
	return &IssuerService{
		challenges:  challenges,
		users:       users,
		generator:   generator,
		dispatcher:  dispatcher,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Issue выдаёт новый challenge, вытесняя прежний PENDING по тому же ключу.
// Повторная выдача проходит через тот же путь: сначала cooldown-гейт,
// затем (для LOGIN) повторная проверка пароля, и только потом генерация.
func (s *IssuerService) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	if err := validateTarget(in.Identifier, in.CountryCode, in.Channel, in.Purpose); err != nil {
		return nil, err
	}

	in.Identifier = models.NormalizeIdentifier(in.Identifier)
	key := models.ChallengeKey(in.Identifier, in.Purpose)
	now := s.now()

	// Cooldown-гейт: единственная защита каналов доставки от флуда.
	// При отказе не происходит ни генерации, ни отправки, ни записи.
	if err := s.checkCooldown(ctx, key, now); err != nil {
		return nil, err
	}

	// Для входа challenge — побочный эффект успешной проверки пароля:
	// без валидных учётных данных существующий PENDING остаётся нетронутым.
	if in.Purpose == models.PurposeLogin {
		if err := s.authenticate(ctx, in); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.users.GetByIdentifier(ctx, in.Identifier, in.Channel, in.CountryCode); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, apperror.ErrUserNotFound
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить пользователя")
		}
	}

	code, expiresAt, err := s.generator.Generate(now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сгенерировать код")
	}

	ch := &models.Challenge{
		Identifier:      in.Identifier,
		CountryCode:     in.CountryCode,
		Channel:         in.Channel,
		Purpose:         in.Purpose,
		CodeHash:        otp.HashCode(code),
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		ResendAllowedAt: now.Add(s.cooldown),
		AttemptCount:    0,
		MaxAttempts:     s.maxAttempts,
		Status:          models.StatusPending,
	}

	if err := s.challenges.Upsert(ctx, ch); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить challenge")
	}

	// Challenge уже durably записан: неудачная доставка не откатывает
	// выдачу, пользователь воспользуется resend после cooldown.
	if err := s.dispatcher.Dispatch(ctx, ch, code); err != nil {
		logger.WithComponent("issuer").WithError(err).WithFields(map[string]interface{}{
			"channel": ch.Channel,
			"purpose": ch.Purpose,
		}).Warn("доставка кода не удалась, challenge остаётся действительным")
	}

	return &IssueResult{ResendAllowedAt: ch.ResendAllowedAt}, nil
}

// checkCooldown отклоняет повторную выдачу, пока незавершённый challenge
// находится внутри своего cooldown-окна.
func (s *IssuerService) checkCooldown(ctx context.Context, key string, now time.Time) error {
	existing, err := s.challenges.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось прочитать challenge")
	}

	if existing.Status == models.StatusPending && !existing.Expired(now) && now.Before(existing.ResendAllowedAt) {
		remaining := int64(existing.ResendAllowedAt.Sub(now).Seconds())
		if remaining < 1 {
			remaining = 1
		}
		return apperror.NewCooldownActive(remaining)
	}

	return nil
}

// authenticate повторно проверяет учётные данные для LOGIN-цели.
func (s *IssuerService) authenticate(ctx context.Context, in IssueInput) error {
	if in.Credentials == nil || in.Credentials.Password == "" {
		return apperror.ErrAuthFailed
	}

	user, err := s.users.GetByIdentifier(ctx, in.Identifier, in.Channel, in.CountryCode)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Не раскрываем, существует ли учётная запись
			return apperror.ErrAuthFailed
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить пользователя")
	}

	if !user.IsActive {
		return apperror.ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Credentials.Password)); err != nil {
		return apperror.ErrAuthFailed
	}

	return nil
}

// validateTarget проверяет идентификатор, канал и цель до любой мутации.
func validateTarget(identifier, countryCode string, channel models.Channel, purpose models.Purpose) error {
	switch purpose {
	case models.PurposeLogin, models.PurposeRegistration, models.PurposePasswordReset:
	default:
		return apperror.New(apperror.ErrCodeBadRequest, "неизвестная цель проверки")
	}

	switch channel {
	case models.ChannelEmail:
		if err := validation.ValidateEmail(identifier); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInvalidIdentifier, err.Error())
		}
	case models.ChannelSMS:
		if err := validation.ValidatePhone(identifier, countryCode); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInvalidIdentifier, err.Error())
		}
	default:
		return apperror.New(apperror.ErrCodeBadRequest, "неизвестный канал доставки")
	}

	return nil
}
