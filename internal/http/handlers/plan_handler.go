package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/services"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/req"

	"github.com/gin-gonic/gin"
)

type PlanService interface {
	Create(ctx context.Context, in services.CreatePlanInput) (*models.Plan, error)
	Update(ctx context.Context, coachID, planID string, in services.UpdatePlanInput) (*models.Plan, error)
	List(ctx context.Context, coachID string) ([]models.Plan, error)
}

type CreatePlanRequest struct {
	Name             string                 `json:"name" validate:"required,max=200"`
	PriceCents       int64                  `json:"price_cents" validate:"gt=0"`
	Currency         string                 `json:"currency" validate:"required,len=3"`
	Interval         models.BillingInterval `json:"interval" validate:"required,oneof=day week month year"`
	IntervalCount    int64                  `json:"interval_count" validate:"omitempty,gt=0"`
	Features         json.RawMessage        `json:"features"`
	IsPublic         bool                   `json:"is_public"`
	RequiresApproval bool                   `json:"requires_approval"`
}

type UpdatePlanRequest struct {
	Name             *string                 `json:"name" validate:"omitempty,max=200"`
	PriceCents       *int64                  `json:"price_cents" validate:"omitempty,gt=0"`
	Currency         *string                 `json:"currency" validate:"omitempty,len=3"`
	Interval         *models.BillingInterval `json:"interval" validate:"omitempty,oneof=day week month year"`
	IntervalCount    *int64                  `json:"interval_count" validate:"omitempty,gt=0"`
	Features         json.RawMessage         `json:"features"`
	IsActive         *bool                   `json:"is_active"`
	IsPublic         *bool                   `json:"is_public"`
	RequiresApproval *bool                   `json:"requires_approval"`
}

type PlanHandler struct {
	service PlanService
	log     *logger.Logger
}

func NewPlanHandler(service PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		service: service,
		log:     log,
	}
}

// Create POST /coach/plans
func (h *PlanHandler) Create(c *gin.Context) {
	body, err := req.HandleBody[CreatePlanRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	plan, err := h.service.Create(c.Request.Context(), services.CreatePlanInput{
		CoachID:          middleware.UserID(c),
		Name:             body.Name,
		PriceCents:       body.PriceCents,
		Currency:         body.Currency,
		Interval:         body.Interval,
		IntervalCount:    body.IntervalCount,
		Features:         body.Features,
		IsPublic:         body.IsPublic,
		RequiresApproval: body.RequiresApproval,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// Update PATCH /coach/plans/:id
func (h *PlanHandler) Update(c *gin.Context) {
	body, err := req.HandleBody[UpdatePlanRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	plan, err := h.service.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), services.UpdatePlanInput{
		Name:             body.Name,
		PriceCents:       body.PriceCents,
		Currency:         body.Currency,
		Interval:         body.Interval,
		IntervalCount:    body.IntervalCount,
		Features:         body.Features,
		IsActive:         body.IsActive,
		IsPublic:         body.IsPublic,
		RequiresApproval: body.RequiresApproval,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

// List GET /coach/plans
func (h *PlanHandler) List(c *gin.Context) {
	plans, err := h.service.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
