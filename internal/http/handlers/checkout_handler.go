package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/internal/services"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/req"

	"github.com/gin-gonic/gin"
)

type CheckoutService interface {
	Create(ctx context.Context, userID, planID string) (*services.CheckoutResult, error)
}

type CheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type CheckoutHandler struct {
	service CheckoutService
	log     *logger.Logger
}

func NewCheckoutHandler(service CheckoutService, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		log:     log,
	}
}

// CreateSession POST /checkout
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	body, err := req.HandleBody[CheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	result, err := h.service.Create(c.Request.Context(), middleware.UserID(c), body.PlanID)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
