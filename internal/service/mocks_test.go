package service

import (
	"context"
	"sync"

	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/repository"
	"github.com/ignatzorin/otp-backend/internal/store"
)

// mockChallengeStore повторяет семантику ChallengeStore в памяти:
// мутация строго через compare-and-transition под мьютексом.
type mockChallengeStore struct {
	mu    sync.Mutex
	items map[string]*models.Challenge
}

func newMockChallengeStore() *mockChallengeStore {
	return &mockChallengeStore{items: make(map[string]*models.Challenge)}
}

func (m *mockChallengeStore) Upsert(ctx context.Context, ch *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.items[ch.Key()] = &cp
	return nil
}

func (m *mockChallengeStore) Get(ctx context.Context, key string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.items[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (m *mockChallengeStore) CompareAndTransition(ctx context.Context, key string, expected models.ChallengeStatus, mutate func(*models.Challenge)) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.items[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ch.Status != expected {
		cp := *ch
		return &cp, store.ErrConflict
	}

	mutate(ch)
	cp := *ch
	return &cp, nil
}

// mockCredentialStore реализует CredentialStore для тестов.
type mockCredentialStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{users: make(map[string]*models.User)}
}

func (m *mockCredentialStore) add(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[models.NormalizeIdentifier(user.Email)] = user
	if user.Phone != nil {
		m.users[*user.Phone] = user
	}
}

func (m *mockCredentialStore) GetByIdentifier(ctx context.Context, identifier string, channel models.Channel, countryCode string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[models.NormalizeIdentifier(identifier)]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *mockCredentialStore) MarkIdentifierVerified(ctx context.Context, identifier string, channel models.Channel, countryCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[models.NormalizeIdentifier(identifier)]
	if !ok {
		return repository.ErrUserNotFound
	}
	if channel == models.ChannelSMS {
		user.PhoneVerified = true
	} else {
		user.EmailVerified = true
	}
	return nil
}

func (m *mockCredentialStore) UpdateLastLoginAt(ctx context.Context, identifier string, channel models.Channel, countryCode string) error {
	return nil
}

// mockDispatcher запоминает отправленные коды.
type mockDispatcher struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	count int
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ch *models.Challenge, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	m.sent = append(m.sent, code)
	if m.fail {
		return store.ErrUnavailable
	}
	return nil
}

func (m *mockDispatcher) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}
