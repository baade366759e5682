// Package otpclient — типизированный клиент OTP API для Go-приложений
// и встраиваемых инструментов.
package otpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client обращается к OTP API поверх HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// IssueRequest — параметры выдачи кода.
type IssueRequest struct {
	Identifier  string       `json:"identifier"`
	CountryCode string       `json:"country_code,omitempty"`
	Channel     string       `json:"channel"`
	Purpose     string       `json:"purpose"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Credentials — пароль для повторной аутентификации при purpose=login.
type Credentials struct {
	Password string `json:"password"`
}

// IssueResponse содержит абсолютный дедлайн повторной отправки.
// Клиент отсчитывает остаток от него, а не от локального таймера.
type IssueResponse struct {
	ResendAllowedAt time.Time `json:"resend_allowed_at"`
}

// VerifyRequest — параметры проверки кода.
type VerifyRequest struct {
	Identifier  string `json:"identifier"`
	CountryCode string `json:"country_code,omitempty"`
	Channel     string `json:"channel"`
	Purpose     string `json:"purpose"`
	Code        string `json:"code"`
}

// VerifyResponse — объединённая форма успешного ответа verify:
// для login заполнены токены, для остальных целей — Status и Actions.
type VerifyResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	Status     int      `json:"status,omitempty"`
	Actions    []Action `json:"actions,omitempty"`
	ResetToken string   `json:"reset_token,omitempty"`
}

// Action — шаг, который сервер предписывает выполнить после проверки.
type Action struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// APIError — ошибка уровня API с HTTP статусом и деталями тела.
type APIError struct {
	StatusCode        int
	Message           string
	RemainingSeconds  int64
	AttemptsRemaining int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("otpclient: код ответа %d: %s", e.StatusCode, e.Message)
}

// Issue запрашивает выдачу (или повторную выдачу) кода.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*IssueResponse, error) {
	var out IssueResponse
	if err := c.post(ctx, "/api/otp/issue", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify предъявляет код для погашения challenge.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/api/otp/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("otpclient: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Message           string `json:"message"`
		RemainingSeconds  int64  `json:"remaining_seconds"`
		AttemptsRemaining int    `json:"attempts_remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Message
		apiErr.RemainingSeconds = body.RemainingSeconds
		apiErr.AttemptsRemaining = body.AttemptsRemaining
	}

	return apiErr
}
