package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/otp"
)

func newTestStore(t *testing.T) (*ChallengeStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewChallengeStore(client, time.Hour), mr
}

func pendingChallenge(identifier string, purpose models.Purpose) *models.Challenge {
	now := time.Now()
	return &models.Challenge{
		Identifier:      identifier,
		Channel:         models.ChannelEmail,
		Purpose:         purpose,
		CodeHash:        "hash",
		CreatedAt:       now,
		ExpiresAt:       now.Add(10 * time.Minute),
		ResendAllowedAt: now.Add(time.Minute),
		MaxAttempts:     5,
		Status:          models.StatusPending,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch := pendingChallenge("user@example.com", models.PurposeLogin)
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	got, err := s.Get(ctx, ch.Key())
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if got.Status != models.StatusPending || got.CodeHash != "hash" {
		t.Fatalf("получили неожиданный challenge: %+v", got)
	}

	if _, err := s.Get(ctx, models.ChallengeKey("other@example.com", models.PurposeLogin)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили: %v", err)
	}
}

func TestCodeHashUsableAfterPersistence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	code := "482901"
	ch := pendingChallenge("user@example.com", models.PurposeRegistration)
	ch.CodeHash = otp.HashCode(code)
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	got, err := s.Get(ctx, ch.Key())
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if !otp.VerifyCode(code, got.CodeHash) {
		t.Fatalf("хэш кода не пережил запись: %q", got.CodeHash)
	}

	// Хэш переживает и переход статуса
	updated, err := s.CompareAndTransition(ctx, ch.Key(), models.StatusPending, func(c *models.Challenge) {
		c.AttemptCount++
	})
	if err != nil {
		t.Fatalf("compare-and-transition returned error: %v", err)
	}
	if !otp.VerifyCode(code, updated.CodeHash) {
		t.Fatalf("хэш кода потерян при переходе: %q", updated.CodeHash)
	}
}

func TestUpsertSupersedesPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := pendingChallenge("user@example.com", models.PurposeRegistration)
	first.CodeHash = "old"
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	second := pendingChallenge("user@example.com", models.PurposeRegistration)
	second.CodeHash = "new"
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	got, err := s.Get(ctx, second.Key())
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if got.CodeHash != "new" {
		t.Fatalf("новая выдача должна вытеснять старую, получили hash %q", got.CodeHash)
	}
}

func TestCompareAndTransitionSuccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch := pendingChallenge("user@example.com", models.PurposeLogin)
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	updated, err := s.CompareAndTransition(ctx, ch.Key(), models.StatusPending, func(c *models.Challenge) {
		c.Status = models.StatusVerified
	})
	if err != nil {
		t.Fatalf("transition returned error: %v", err)
	}
	if updated.Status != models.StatusVerified {
		t.Fatalf("ожидали verified, получили %s", updated.Status)
	}

	got, _ := s.Get(ctx, ch.Key())
	if got.Status != models.StatusVerified {
		t.Fatalf("статус не сохранился: %s", got.Status)
	}
}

func TestCompareAndTransitionConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch := pendingChallenge("user@example.com", models.PurposeLogin)
	ch.Status = models.StatusVerified
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	current, err := s.CompareAndTransition(ctx, ch.Key(), models.StatusPending, func(c *models.Challenge) {
		c.Status = models.StatusExhausted
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ожидали ErrConflict, получили: %v", err)
	}
	if current == nil || current.Status != models.StatusVerified {
		t.Fatalf("при конфликте должно вернуться текущее состояние, получили %+v", current)
	}
}

func TestCompareAndTransitionMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CompareAndTransition(context.Background(),
		models.ChallengeKey("nobody@example.com", models.PurposeLogin),
		models.StatusPending,
		func(c *models.Challenge) { c.Status = models.StatusVerified },
	)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили: %v", err)
	}
}

func TestConcurrentTransitionExactlyOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch := pendingChallenge("race@example.com", models.PurposeLogin)
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndTransition(ctx, ch.Key(), models.StatusPending, func(c *models.Challenge) {
				c.Status = models.StatusVerified
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}

	if wins != 1 {
		t.Fatalf("победитель должен быть ровно один, получили %d (конфликтов %d)", wins, conflicts)
	}
	if conflicts != workers-1 {
		t.Fatalf("остальные должны получить конфликт, получили %d", conflicts)
	}
}

func TestRecordSurvivesUntilRetention(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ch := pendingChallenge("user@example.com", models.PurposeLogin)
	if err := s.Upsert(ctx, ch); err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}

	// TTL записи покрывает срок кода плюс окно хранения терминального статуса
	mr.FastForward(10*time.Minute + 30*time.Minute)
	if _, err := s.Get(ctx, ch.Key()); err != nil {
		t.Fatalf("запись должна жить в окне retention: %v", err)
	}

	mr.FastForward(31 * time.Minute)
	if _, err := s.Get(ctx, ch.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("после retention запись должна исчезнуть, получили: %v", err)
	}
}
