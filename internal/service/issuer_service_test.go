package service

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/otp"
	"github.com/ignatzorin/otp-backend/internal/pkg/apperror"
)

const (
	testCooldown    = 60 * time.Second
	testTTL         = 10 * time.Minute
	testMaxAttempts = 5
)

type issuerFixture struct {
	issuer     *IssuerService
	challenges *mockChallengeStore
	users      *mockCredentialStore
	dispatcher *mockDispatcher
	clock      *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newIssuerFixture() *issuerFixture {
	challenges := newMockChallengeStore()
	users := newMockCredentialStore()
	dispatcher := &mockDispatcher{}
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	issuer := NewIssuerService(challenges, users, otp.NewGenerator(6, testTTL), dispatcher, testCooldown, testMaxAttempts)
	issuer.now = clock.now

	return &issuerFixture{
		issuer:     issuer,
		challenges: challenges,
		users:      users,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

func (f *issuerFixture) addUser(email, password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	f.users.add(user)
	return user
}

func TestIssueCreatesPendingChallenge(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	ctx := context.Background()

	res, err := f.issuer.Issue(ctx, IssueInput{
		Identifier: "user@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeRegistration,
	})
	if err != nil {
		t.Fatalf("issue returned error: %v", err)
	}

	if !res.ResendAllowedAt.Equal(f.clock.current.Add(testCooldown)) {
		t.Fatalf("resend_allowed_at должен быть now+cooldown, получили %v", res.ResendAllowedAt)
	}

	ch, err := f.challenges.Get(ctx, models.ChallengeKey("user@example.com", models.PurposeRegistration))
	if err != nil {
		t.Fatalf("challenge не сохранён: %v", err)
	}
	if ch.Status != models.StatusPending || ch.AttemptCount != 0 || ch.MaxAttempts != testMaxAttempts {
		t.Fatalf("неожиданное состояние challenge: %+v", ch)
	}

	code := f.dispatcher.lastCode()
	if len(code) != 6 {
		t.Fatalf("диспетчеру должен быть передан 6-значный код, получили %q", code)
	}
	if ch.CodeHash != otp.HashCode(code) {
		t.Fatal("хэш в challenge должен соответствовать отправленному коду")
	}
}

func TestIssueRejectsMalformedIdentifier(t *testing.T) {
	f := newIssuerFixture()
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, IssueInput{
		Identifier: "not-an-email",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeRegistration,
	})
	if !apperror.Is(err, apperror.ErrCodeInvalidIdentifier) {
		t.Fatalf("ожидали InvalidIdentifier, получили: %v", err)
	}

	_, err = f.issuer.Issue(ctx, IssueInput{
		Identifier: "9161234567",
		Channel:    models.ChannelSMS,
		Purpose:    models.PurposeRegistration,
	})
	if !apperror.Is(err, apperror.ErrCodeInvalidIdentifier) {
		t.Fatalf("SMS без кода страны должен отклоняться, получили: %v", err)
	}

	if f.dispatcher.count != 0 {
		t.Fatal("при отклонённом идентификаторе не должно быть отправок")
	}
}

func TestResendCooldown(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	ctx := context.Background()

	in := IssueInput{
		Identifier: "user@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeRegistration,
	}

	first, err := f.issuer.Issue(ctx, in)
	if err != nil {
		t.Fatalf("issue returned error: %v", err)
	}

	// Повтор внутри cooldown: отказ с остатком секунд, без отправки
	f.clock.advance(20 * time.Second)
	_, err = f.issuer.Issue(ctx, in)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.ErrCodeCooldownActive {
		t.Fatalf("ожидали CooldownActive, получили: %v", err)
	}
	if remaining := appErr.Meta["remaining_seconds"].(int64); remaining != 40 {
		t.Fatalf("ожидали остаток 40с, получили %d", remaining)
	}
	if f.dispatcher.count != 1 {
		t.Fatalf("внутри cooldown не должно быть отправок, всего %d", f.dispatcher.count)
	}

	// После cooldown: новая выдача с более поздним дедлайном
	f.clock.advance(41 * time.Second)
	second, err := f.issuer.Issue(ctx, in)
	if err != nil {
		t.Fatalf("resend после cooldown вернул ошибку: %v", err)
	}
	if !second.ResendAllowedAt.After(first.ResendAllowedAt) {
		t.Fatal("новый дедлайн должен быть позже прежнего")
	}
	if f.dispatcher.count != 2 {
		t.Fatalf("ожидали вторую отправку, всего %d", f.dispatcher.count)
	}
}

func TestResendSupersedesPendingAndResetsAttempts(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	ctx := context.Background()

	in := IssueInput{
		Identifier: "user@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeRegistration,
	}

	if _, err := f.issuer.Issue(ctx, in); err != nil {
		t.Fatalf("issue returned error: %v", err)
	}
	oldCode := f.dispatcher.lastCode()

	key := models.ChallengeKey("user@example.com", models.PurposeRegistration)
	if _, err := f.challenges.CompareAndTransition(ctx, key, models.StatusPending, func(c *models.Challenge) {
		c.AttemptCount = 3
	}); err != nil {
		t.Fatalf("подготовка попыток не удалась: %v", err)
	}

	f.clock.advance(testCooldown + time.Second)
	if _, err := f.issuer.Issue(ctx, in); err != nil {
		t.Fatalf("resend returned error: %v", err)
	}

	ch, _ := f.challenges.Get(ctx, key)
	if ch.AttemptCount != 0 {
		t.Fatalf("новая выдача должна сбросить счётчик, получили %d", ch.AttemptCount)
	}
	if ch.CodeHash == otp.HashCode(oldCode) && oldCode != f.dispatcher.lastCode() {
		t.Fatal("новая выдача должна заменить код")
	}
}

func TestLoginIssueRequiresReauthentication(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	ctx := context.Background()

	// Без учётных данных
	_, err := f.issuer.Issue(ctx, IssueInput{
		Identifier: "user@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeLogin,
	})
	if !apperror.Is(err, apperror.ErrCodeAuthFailed) {
		t.Fatalf("ожидали AuthenticationFailed, получили: %v", err)
	}

	// С верным паролем
	_, err = f.issuer.Issue(ctx, IssueInput{
		Identifier:  "user@example.com",
		Channel:     models.ChannelEmail,
		Purpose:     models.PurposeLogin,
		Credentials: &models.LoginCredentials{Identifier: "user@example.com", Password: "Password1"},
	})
	if err != nil {
		t.Fatalf("issue с верным паролем вернул ошибку: %v", err)
	}
}

func TestLoginResendWithStalePasswordLeavesChallengeUntouched(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	ctx := context.Background()

	good := IssueInput{
		Identifier:  "user@example.com",
		Channel:     models.ChannelEmail,
		Purpose:     models.PurposeLogin,
		Credentials: &models.LoginCredentials{Identifier: "user@example.com", Password: "Password1"},
	}
	if _, err := f.issuer.Issue(ctx, good); err != nil {
		t.Fatalf("issue returned error: %v", err)
	}

	key := models.ChallengeKey("user@example.com", models.PurposeLogin)
	before, _ := f.challenges.Get(ctx, key)

	f.clock.advance(testCooldown + time.Second)
	stale := good
	stale.Credentials = &models.LoginCredentials{Identifier: "user@example.com", Password: "wrong"}
	_, err := f.issuer.Issue(ctx, stale)
	if !apperror.Is(err, apperror.ErrCodeAuthFailed) {
		t.Fatalf("ожидали AuthenticationFailed, получили: %v", err)
	}

	after, _ := f.challenges.Get(ctx, key)
	if after.CodeHash != before.CodeHash || after.Status != models.StatusPending {
		t.Fatal("прежний PENDING challenge должен остаться нетронутым")
	}
	if f.dispatcher.count != 1 {
		t.Fatalf("не должно быть повторной отправки, всего %d", f.dispatcher.count)
	}
}

func TestIssueSurvivesDispatchFailure(t *testing.T) {
	f := newIssuerFixture()
	f.addUser("user@example.com", "Password1")
	f.dispatcher.fail = true
	ctx := context.Background()

	res, err := f.issuer.Issue(ctx, IssueInput{
		Identifier: "user@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposeRegistration,
	})
	if err != nil {
		t.Fatalf("неудачная доставка не должна ронять выдачу: %v", err)
	}
	if res.ResendAllowedAt.IsZero() {
		t.Fatal("дедлайн resend должен вернуться даже при неудачной доставке")
	}

	// Challenge остаётся действительным: код можно погасить
	if _, err := f.challenges.Get(ctx, models.ChallengeKey("user@example.com", models.PurposeRegistration)); err != nil {
		t.Fatalf("challenge должен быть сохранён: %v", err)
	}
}

func TestIssueForUnknownUser(t *testing.T) {
	f := newIssuerFixture()
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, IssueInput{
		Identifier: "nobody@example.com",
		Channel:    models.ChannelEmail,
		Purpose:    models.PurposePasswordReset,
	})
	if !apperror.Is(err, apperror.ErrCodeNotFound) {
		t.Fatalf("ожидали NotFound, получили: %v", err)
	}

	// Для LOGIN существование учётной записи не раскрывается
	_, err = f.issuer.Issue(ctx, IssueInput{
		Identifier:  "nobody@example.com",
		Channel:     models.ChannelEmail,
		Purpose:     models.PurposeLogin,
		Credentials: &models.LoginCredentials{Identifier: "nobody@example.com", Password: "whatever"},
	})
	if !apperror.Is(err, apperror.ErrCodeAuthFailed) {
		t.Fatalf("ожидали AuthenticationFailed, получили: %v", err)
	}
}
