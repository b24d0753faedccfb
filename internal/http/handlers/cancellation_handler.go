package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/services"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/req"

	"github.com/gin-gonic/gin"
)

// CancellationService операции над запросами на отмену.
type CancellationService interface {
	Create(ctx context.Context, in services.CreateCancellationInput) (*models.CancellationRequest, error)
	ListPending(ctx context.Context, coachID string) ([]models.CancellationRequest, error)
	Act(ctx context.Context, in services.CancellationActionInput) (*models.CancellationRequest, error)
}

// CreateCancellationRequest тело запроса клиента.
type CreateCancellationRequest struct {
	SubscriptionID string  `json:"subscription_id" validate:"required"`
	Reason         *string `json:"reason" validate:"omitempty,max=2000"`
}

// CancellationActionRequest решение коуча.
type CancellationActionRequest struct {
	Action             models.CancellationStatus `json:"action" validate:"required,oneof=approved denied countered"`
	Response           *string                   `json:"response" validate:"omitempty,max=2000"`
	RefundAmountCents  *int64                    `json:"refund_amount_cents"`
	CounterOfferPlanID *string                   `json:"counter_offer_plan_id"`
}

type CancellationHandler struct {
	service CancellationService
	log     *logger.Logger
}

func NewCancellationHandler(service CancellationService, log *logger.Logger) *CancellationHandler {
	return &CancellationHandler{
		service: service,
		log:     log,
	}
}

// Create POST /cancellation-requests
func (h *CancellationHandler) Create(c *gin.Context) {
	body, err := req.HandleBody[CreateCancellationRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	request, err := h.service.Create(c.Request.Context(), services.CreateCancellationInput{
		SubscriptionID: body.SubscriptionID,
		ClientID:       middleware.UserID(c),
		Reason:         body.Reason,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, request)
}

// ListPending GET /coach/cancellation-requests
func (h *CancellationHandler) ListPending(c *gin.Context) {
	requests, err := h.service.ListPending(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	if requests == nil {
		requests = []models.CancellationRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// Act POST /coach/cancellation-requests/:id/action
func (h *CancellationHandler) Act(c *gin.Context) {
	body, err := req.HandleBody[CancellationActionRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	request, err := h.service.Act(c.Request.Context(), services.CancellationActionInput{
		RequestID:          c.Param("id"),
		CoachID:            middleware.UserID(c),
		Action:             body.Action,
		Response:           body.Response,
		RefundAmountCents:  body.RefundAmountCents,
		CounterOfferPlanID: body.CounterOfferPlanID,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, request)
}
