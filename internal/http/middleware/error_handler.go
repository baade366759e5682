package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Типизированные AppError отдаются со своим статусом и деталями,
// остальное маскируется как внутренняя ошибка.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() {
			return
		}

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()

		if logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		if appErr, ok := apperror.As(err.Err); ok {
			body := gin.H{"message": appErr.Message}
			for k, v := range appErr.Meta {
				body[k] = v
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		message := "внутренняя ошибка сервера"
		statusCode := http.StatusInternalServerError
		if msg := err.Error(); msg != "" && !containsInternalKeywords(msg) {
			message = msg
			statusCode = http.StatusBadRequest
		}

		c.JSON(statusCode, gin.H{"message": message})
	}
}

// containsInternalKeywords проверяет, содержит ли строка ключевые слова внутренних ошибок.
func containsInternalKeywords(s string) bool {
	keywords := []string{
		"sql:",
		"database",
		"connection",
		"timeout",
		"internal",
		"panic",
		"runtime",
		"redis",
	}

	for _, keyword := range keywords {
		if contains(s, keyword) {
			return true
		}
	}
	return false
}

// contains проверяет, содержит ли строка подстроку (case-insensitive).
func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
