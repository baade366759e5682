package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/otp-backend/internal/http/handlers/common"
	"github.com/ignatzorin/otp-backend/internal/models"
)

// DeliveryLister читает журнал попыток доставки.
type DeliveryLister interface {
	ListByIdentifier(ctx context.Context, identifier string, limit int) ([]models.DeliveryRecord, error)
}

// UserGetter загружает пользователя по его ID.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// DeliveryHandler отдаёт журнал попыток доставки кодов.
type DeliveryHandler struct {
	deliveries DeliveryLister
	users      UserGetter
}

// NewDeliveryHandler создаёт хэндлер журнала доставок.
func NewDeliveryHandler(deliveries DeliveryLister, users UserGetter) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries, users: users}
}

// List обрабатывает GET /otp/deliveries.
// Журнал доступен только по идентификаторам самого аутентифицированного
// пользователя: чужие адреса и исходы отправки через токен не видны.
func (h *DeliveryHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		common.RespondError(c, http.StatusNotFound, "пользователь не найден")
		return
	}

	limit := common.ParseIntQuery(c, "limit", 20)

	records := make([]models.DeliveryRecord, 0)
	for _, identifier := range ownIdentifiers(user) {
		batch, err := h.deliveries.ListByIdentifier(c.Request.Context(), identifier, limit)
		if err != nil {
			common.RespondError(c, http.StatusInternalServerError, "не удалось получить журнал доставок")
			return
		}
		records = append(records, batch...)
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": records})
}

// ownIdentifiers собирает идентификаторы каналов пользователя.
func ownIdentifiers(user *models.User) []string {
	var identifiers []string
	if user.Email != "" {
		identifiers = append(identifiers, models.NormalizeIdentifier(user.Email))
	}
	if user.Phone != nil && *user.Phone != "" {
		identifiers = append(identifiers, models.NormalizeIdentifier(*user.Phone))
	}
	return identifiers
}
