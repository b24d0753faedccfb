package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/req"

	"github.com/gin-gonic/gin"
)

type EntitlementService interface {
	Get(ctx context.Context, userID string) (*models.Entitlement, error)
	Revalidate(ctx context.Context, secret, userID string) (*models.Entitlement, error)
}

// RevalidateRequest запрос на сброс кеша доступа пользователя.
type RevalidateRequest struct {
	Secret string `json:"secret"`
	UserID string `json:"user_id" validate:"required"`
}

type EntitlementHandler struct {
	service EntitlementService
	log     *logger.Logger
}

func NewEntitlementHandler(service EntitlementService, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service: service,
		log:     log,
	}
}

// Get GET /entitlement
func (h *EntitlementHandler) Get(c *gin.Context) {
	entitlement, err := h.service.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, entitlement)
}

// Revalidate POST /revalidate. Вызывается уведомителем после изменения подписки.
func (h *EntitlementHandler) Revalidate(c *gin.Context) {
	body, err := req.HandleBody[RevalidateRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	entitlement, err := h.service.Revalidate(c.Request.Context(), body.Secret, body.UserID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"revalidated": true,
		"status":      entitlement.Status,
		"plan_id":     entitlement.PlanID,
	})
}
