package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/otp-backend/internal/models"
	"github.com/ignatzorin/otp-backend/internal/pkg/apperror"
	"github.com/ignatzorin/otp-backend/internal/service"
)

// OTPHandler предоставляет HTTP слой выдачи и проверки кодов.
type OTPHandler struct {
	issuer   *service.IssuerService
	verifier *service.VerifierService
}

// NewOTPHandler создаёт хэндлер.
func NewOTPHandler(issuer *service.IssuerService, verifier *service.VerifierService) *OTPHandler {
	return &OTPHandler{issuer: issuer, verifier: verifier}
}

type credentialsBody struct {
	Password string `json:"password" binding:"required"`
}

type issueRequest struct {
	Identifier  string           `json:"identifier" binding:"required"`
	CountryCode string           `json:"country_code"`
	Channel     string           `json:"channel" binding:"required,oneof=email sms"`
	Purpose     string           `json:"purpose" binding:"required,oneof=login registration password_reset"`
	Credentials *credentialsBody `json:"credentials"`
}

type verifyRequest struct {
	Identifier  string `json:"identifier" binding:"required"`
	CountryCode string `json:"country_code"`
	Channel     string `json:"channel" binding:"required,oneof=email sms"`
	Purpose     string `json:"purpose" binding:"required,oneof=login registration password_reset"`
	Code        string `json:"code" binding:"required"`
}

// Issue обрабатывает POST /otp/issue — выдачу и повторную выдачу кода.
func (h *OTPHandler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	in := service.IssueInput{
		Identifier:  req.Identifier,
		CountryCode: req.CountryCode,
		Channel:     models.Channel(req.Channel),
		Purpose:     models.Purpose(req.Purpose),
	}
	if req.Credentials != nil {
		in.Credentials = &models.LoginCredentials{
			Identifier:  req.Identifier,
			Password:    req.Credentials.Password,
			CountryCode: req.CountryCode,
		}
	}

	res, err := h.issuer.Issue(c.Request.Context(), in)
	if err != nil {
		respondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resend_allowed_at": res.ResendAllowedAt})
}

// Verify обрабатывает POST /otp/verify — попытку погашения кода.
// Форма успешного ответа зависит от цели challenge.
func (h *OTPHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	res, err := h.verifier.Verify(c.Request.Context(), service.VerifyInput{
		Identifier:  req.Identifier,
		CountryCode: req.CountryCode,
		Channel:     models.Channel(req.Channel),
		Purpose:     models.Purpose(req.Purpose),
		Code:        req.Code,
	})
	if err != nil {
		respondAppError(c, err)
		return
	}

	switch res.Purpose {
	case models.PurposeLogin:
		c.JSON(http.StatusOK, gin.H{
			"access_token":  res.Tokens.AccessToken,
			"refresh_token": res.Tokens.RefreshToken,
			"expires_in":    int64(res.Tokens.ExpiresIn.Seconds()),
		})
	case models.PurposePasswordReset:
		c.JSON(http.StatusOK, gin.H{
			"status":      1,
			"actions":     res.Actions,
			"reset_token": res.ResetToken,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":  1,
			"actions": res.Actions,
		})
	}
}

// respondAppError отдаёт типизированную ошибку с её статусом и деталями.
// Caller различает классы ошибок по статус-коду, а не по тексту.
func respondAppError(c *gin.Context, err error) {
	if appErr, ok := apperror.As(err); ok {
		body := gin.H{"message": appErr.Message}
		for k, v := range appErr.Meta {
			body[k] = v
		}
		c.JSON(appErr.HTTPStatus, body)
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"message": "внутренняя ошибка сервера"})
}
