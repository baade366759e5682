package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/otp-backend/internal/models"
)

const challengeKeyPrefix = "otp:ch:"

// Число повторов оптимистичной транзакции при проигрыше WATCH.
const casMaxRetries = 4

var (
	ErrNotFound    = errors.New("challenge не найден")
	ErrConflict    = errors.New("challenge уже в другом состоянии")
	ErrUnavailable = errors.New("хранилище challenge недоступно")
)

// ChallengeStore хранит challenge в Redis по ключу (identifier, purpose).
// Вся конкурентная мутация идёт через CompareAndTransition: параллельный
// запрос, проигравший гонку, получает ErrConflict, а не двойное применение.
type ChallengeStore struct {
	redis *redis.Client

	// Сколько держать запись после истечения кода: терминальный challenge
	// должен оставаться читаемым, чтобы повторная отправка того же кода
	// получила AlreadyVerified, а не NotFound.
	retention time.Duration
}

// NewChallengeStore создаёт хранилище challenge.
func NewChallengeStore(redisClient *redis.Client, retention time.Duration) *ChallengeStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &ChallengeStore{redis: redisClient, retention: retention}
}

func (s *ChallengeStore) key(challengeKey string) string {
	return challengeKeyPrefix + challengeKey
}

// storedChallenge — форма записи в Redis. Отдельный тип, потому что
// models.Challenge прячет хэш кода от любой внешней сериализации,
// а хранилищу без хэша проверка кода невозможна.
type storedChallenge struct {
	Identifier      string                 `json:"identifier"`
	CountryCode     string                 `json:"country_code,omitempty"`
	Channel         models.Channel         `json:"channel"`
	Purpose         models.Purpose         `json:"purpose"`
	CodeHash        string                 `json:"code_hash"`
	CreatedAt       time.Time              `json:"created_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
	ResendAllowedAt time.Time              `json:"resend_allowed_at"`
	AttemptCount    int                    `json:"attempt_count"`
	MaxAttempts     int                    `json:"max_attempts"`
	Status          models.ChallengeStatus `json:"status"`
}

func encodeChallenge(ch *models.Challenge) ([]byte, error) {
	return json.Marshal(storedChallenge{
		Identifier:      ch.Identifier,
		CountryCode:     ch.CountryCode,
		Channel:         ch.Channel,
		Purpose:         ch.Purpose,
		CodeHash:        ch.CodeHash,
		CreatedAt:       ch.CreatedAt,
		ExpiresAt:       ch.ExpiresAt,
		ResendAllowedAt: ch.ResendAllowedAt,
		AttemptCount:    ch.AttemptCount,
		MaxAttempts:     ch.MaxAttempts,
		Status:          ch.Status,
	})
}

func decodeChallenge(data []byte) (*models.Challenge, error) {
	var st storedChallenge
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &models.Challenge{
		Identifier:      st.Identifier,
		CountryCode:     st.CountryCode,
		Channel:         st.Channel,
		Purpose:         st.Purpose,
		CodeHash:        st.CodeHash,
		CreatedAt:       st.CreatedAt,
		ExpiresAt:       st.ExpiresAt,
		ResendAllowedAt: st.ResendAllowedAt,
		AttemptCount:    st.AttemptCount,
		MaxAttempts:     st.MaxAttempts,
		Status:          st.Status,
	}, nil
}

// Upsert записывает challenge, атомарно вытесняя прежний по тому же ключу.
// Последняя успешная выдача всегда выигрывает.
func (s *ChallengeStore) Upsert(ctx context.Context, ch *models.Challenge) error {
	encoded, err := encodeChallenge(ch)
	if err != nil {
		return fmt.Errorf("store: не удалось сериализовать challenge: %w", err)
	}

	ttl := time.Until(ch.ExpiresAt) + s.retention
	if ttl <= 0 {
		return fmt.Errorf("store: challenge уже истёк при записи")
	}

	if err := s.redis.Set(ctx, s.key(ch.Key()), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Get возвращает challenge по ключу или ErrNotFound.
func (s *ChallengeStore) Get(ctx context.Context, challengeKey string) (*models.Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ch, err := decodeChallenge(data)
	if err != nil {
		return nil, fmt.Errorf("store: не удалось десериализовать challenge: %w", err)
	}

	return ch, nil
}

// CompareAndTransition атомарно применяет mutate к challenge, если его
// статус равен expected. Возвращает итоговое состояние записи.
// Если статус уже другой, возвращает текущее состояние и ErrConflict —
// из двух конкурентных запросов побеждает ровно один.
func (s *ChallengeStore) CompareAndTransition(
	ctx context.Context,
	challengeKey string,
	expected models.ChallengeStatus,
	mutate func(*models.Challenge),
) (*models.Challenge, error) {
	key := s.key(challengeKey)

	for i := 0; i < casMaxRetries; i++ {
		var result *models.Challenge
		var conflict *models.Challenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			ch, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			if ch.Status != expected {
				conflict = ch
				return ErrConflict
			}

			mutate(ch)

			updated, err := encodeChallenge(ch)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				// KeepTTL: переходы статуса не продлевают жизнь записи
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}

			result = ch
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if errors.Is(err, ErrConflict) {
			return conflict, ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		return result, nil
	}

	// Все повторы проиграли WATCH: записью владеет конкурент
	current, err := s.Get(ctx, challengeKey)
	if err != nil {
		return nil, err
	}
	return current, ErrConflict
}
