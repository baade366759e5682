package otpclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRequestInFlight возвращается, когда verify и resend пытаются
// выполниться одновременно: до ответа сервера исход первого запроса
// неизвестен, и второй мог бы работать с уже погашенным challenge.
var ErrRequestInFlight = errors.New("otpclient: запрос уже выполняется")

// ErrCooldownActive возвращается при попытке повторной отправки до дедлайна.
var ErrCooldownActive = errors.New("otpclient: cooldown ещё не истёк")

// Countdown отсчитывает остаток до resend_allowed_at.
// Остаток каждый раз выводится заново из абсолютного серверного дедлайна,
// поэтому sleep/suspend процесса или пропущенные тики не накапливают дрейф.
type Countdown struct {
	mu       sync.Mutex
	deadline time.Time

	now  func() time.Time
	tick time.Duration
}

// NewCountdown создаёт счётчик до указанного дедлайна.
func NewCountdown(deadline time.Time) *Countdown {
	return &Countdown{
		deadline: deadline,
		now:      time.Now,
		tick:     time.Second,
	}
}

// Sync заменяет дедлайн после успешной повторной отправки.
func (c *Countdown) Sync(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = deadline
}

// Remaining возвращает остаток до дедлайна, не меньше нуля.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.deadline.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// ResendAllowed сообщает, истёк ли cooldown.
func (c *Countdown) ResendAllowed() bool {
	return c.Remaining() == 0
}

// Run тикает раз в секунду и передаёт остаток в onTick,
// начиная с немедленного первого вызова. Завершается после тика
// с нулевым остатком либо по отмене контекста.
func (c *Countdown) Run(ctx context.Context, onTick func(remaining time.Duration)) {
	emit := func() bool {
		remaining := c.Remaining()
		onTick(remaining)
		return remaining == 0
	}

	if emit() {
		return
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if emit() {
				return
			}
		}
	}
}

// Flow связывает клиента и счётчик: повторная отправка блокируется
// до истечения cooldown, а verify и resend взаимно исключают друг друга
// на время выполнения запроса.
type Flow struct {
	client    *Client
	countdown *Countdown

	mu       sync.Mutex
	inFlight bool
}

// NewFlow создаёт flow поверх уже выданного challenge.
func NewFlow(client *Client, resendAllowedAt time.Time) *Flow {
	return &Flow{
		client:    client,
		countdown: NewCountdown(resendAllowedAt),
	}
}

// Countdown возвращает счётчик для подписки на тики.
func (f *Flow) Countdown() *Countdown {
	return f.countdown
}

func (f *Flow) acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return ErrRequestInFlight
	}
	f.inFlight = true
	return nil
}

func (f *Flow) release() {
	f.mu.Lock()
	f.inFlight = false
	f.mu.Unlock()
}

// Resend запрашивает повторную выдачу кода и синхронизирует
// счётчик с новым серверным дедлайном.
func (f *Flow) Resend(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	if !f.countdown.ResendAllowed() {
		return nil, ErrCooldownActive
	}
	if err := f.acquire(); err != nil {
		return nil, err
	}
	defer f.release()

	resp, err := f.client.Issue(ctx, req)
	if err != nil {
		// 429 значит, что серверный дедлайн свежее нашего: верим серверу.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RemainingSeconds > 0 {
			f.countdown.Sync(f.countdown.now().Add(time.Duration(apiErr.RemainingSeconds) * time.Second))
		}
		return nil, err
	}

	f.countdown.Sync(resp.ResendAllowedAt)
	return resp, nil
}

// Verify предъявляет код в рамках flow.
func (f *Flow) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	if err := f.acquire(); err != nil {
		return nil, err
	}
	defer f.release()

	return f.client.Verify(ctx, req)
}
