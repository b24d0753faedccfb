package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// CreatePlanInput новый тарифный план коуча.
type CreatePlanInput struct {
	CoachID          string
	Name             string
	PriceCents       int64
	Currency         string
	Interval         models.BillingInterval
	IntervalCount    int64
	Features         json.RawMessage
	IsPublic         bool
	RequiresApproval bool
}

// UpdatePlanInput изменение плана: nil означает "не менять".
type UpdatePlanInput struct {
	Name             *string
	PriceCents       *int64
	Currency         *string
	Interval         *models.BillingInterval
	IntervalCount    *int64
	Features         json.RawMessage
	IsActive         *bool
	IsPublic         *bool
	RequiresApproval *bool
}

// PlanService управление планами коуча и их ценами в Stripe.
type PlanService struct {
	repo    repository.PlanRepository
	stripe  stripe.Client
	metrics metrics.BillingMetrics
	log     *logger.Logger
}

// NewPlanService конструктор сервиса
func NewPlanService(repo repository.PlanRepository, stripeClient stripe.Client, m metrics.BillingMetrics, log *logger.Logger) *PlanService {
	if m == nil {
		m = metrics.Nop{}
	}
	return &PlanService{repo: repo, stripe: stripeClient, metrics: m, log: log}
}

// Create создает продукт и цену в Stripe, затем запись плана.
func (s *PlanService) Create(ctx context.Context, in CreatePlanInput) (*models.Plan, error) {
	if !in.Interval.Valid() {
		return nil, fmt.Errorf("%w: interval %q", ErrInvalidPlan, in.Interval)
	}
	if in.IntervalCount <= 0 {
		in.IntervalCount = 1
	}
	features, err := normalizeFeatures(in.Features)
	if err != nil {
		return nil, err
	}

	plan := &models.Plan{
		ID:               uuid.NewString(),
		CoachID:          in.CoachID,
		Name:             in.Name,
		PriceCents:       in.PriceCents,
		Currency:         strings.ToLower(in.Currency),
		Interval:         in.Interval,
		IntervalCount:    in.IntervalCount,
		Features:         features,
		IsActive:         true,
		IsPublic:         in.IsPublic,
		RequiresApproval: in.RequiresApproval,
	}

	productID, err := s.stripe.CreateProduct(ctx, plan.Name, plan.CoachID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
	}
	plan.StripeProductID = productID

	priceID, err := s.stripe.CreatePrice(ctx, priceSpec(plan))
	if err != nil {
		s.log.Errorw("Plan creation failed, Stripe product left without price", "error", err,
			"planID", plan.ID, "coachID", plan.CoachID, "productID", productID)
		return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
	}
	plan.StripePriceID = priceID

	if err := s.repo.Create(ctx, plan); err != nil {
		s.log.Errorw("Plan creation failed, Stripe product and price left without plan row", "error", err,
			"planID", plan.ID, "coachID", plan.CoachID, "productID", productID, "priceID", priceID)
		return nil, err
	}

	s.log.Infow("Plan created", "planID", plan.ID, "coachID", plan.CoachID, "priceID", priceID)
	return plan, nil
}

// List планы коуча.
func (s *PlanService) List(ctx context.Context, coachID string) ([]models.Plan, error) {
	return s.repo.ListByCoach(ctx, coachID)
}

// Update меняет только отличающиеся поля. Цены в Stripe неизменяемы: смена суммы,
// валюты или интервала создает ровно одну новую цену и архивирует старую.
func (s *PlanService) Update(ctx context.Context, coachID, planID string, in UpdatePlanInput) (*models.Plan, error) {
	plan, err := s.repo.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if plan.CoachID != coachID {
		s.log.Warnw("Coach attempted to update another coach's plan", "planID", planID, "coachID", coachID)
		return nil, ErrPlanNotFound
	}

	var upd models.PlanUpdate
	next := *plan

	if in.PriceCents != nil && *in.PriceCents != plan.PriceCents {
		if *in.PriceCents < 0 {
			return nil, fmt.Errorf("%w: negative price", ErrInvalidPlan)
		}
		upd.PriceCents = in.PriceCents
		next.PriceCents = *in.PriceCents
	}
	if in.Currency != nil {
		if currency := strings.ToLower(*in.Currency); currency != plan.Currency {
			upd.Currency = &currency
			next.Currency = currency
		}
	}
	if in.Interval != nil && *in.Interval != plan.Interval {
		if !in.Interval.Valid() {
			return nil, fmt.Errorf("%w: interval %q", ErrInvalidPlan, *in.Interval)
		}
		upd.Interval = in.Interval
		next.Interval = *in.Interval
	}
	if in.IntervalCount != nil && *in.IntervalCount != plan.IntervalCount {
		if *in.IntervalCount <= 0 {
			return nil, fmt.Errorf("%w: interval_count must be positive", ErrInvalidPlan)
		}
		upd.IntervalCount = in.IntervalCount
		next.IntervalCount = *in.IntervalCount
	}
	priceChanged := upd.PriceCents != nil || upd.Currency != nil || upd.Interval != nil || upd.IntervalCount != nil

	if in.Name != nil && *in.Name != plan.Name {
		upd.Name = in.Name
	}
	if in.Features != nil {
		features, err := normalizeFeatures(in.Features)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(features, plan.Features) {
			upd.Features = &features
		}
	}
	if in.IsActive != nil && *in.IsActive != plan.IsActive {
		upd.IsActive = in.IsActive
	}
	if in.IsPublic != nil && *in.IsPublic != plan.IsPublic {
		upd.IsPublic = in.IsPublic
	}
	if in.RequiresApproval != nil && *in.RequiresApproval != plan.RequiresApproval {
		upd.RequiresApproval = in.RequiresApproval
	}

	if upd.IsEmpty() {
		s.log.Debugw("Plan update has no changes", "planID", planID)
		return plan, nil
	}

	if upd.Name != nil {
		if err := s.stripe.UpdateProductName(ctx, plan.StripeProductID, *upd.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
		}
	}

	oldPriceID := plan.StripePriceID
	if priceChanged {
		newPriceID, err := s.stripe.CreatePrice(ctx, priceSpec(&next))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
		}
		upd.StripePriceID = &newPriceID
	}

	updated, err := s.repo.Update(ctx, planID, upd)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	if priceChanged {
		s.metrics.IncPriceChange()
		// старая цена архивируется после записи новой, чтобы план не остался без активной цены
		if err := s.stripe.ArchivePrice(ctx, oldPriceID); err != nil {
			s.log.Errorw("Failed to archive previous price", "error", err, "planID", planID, "priceID", oldPriceID)
		}
		s.log.Infow("Plan price replaced", "planID", planID, "oldPriceID", oldPriceID, "newPriceID", updated.StripePriceID)
	}

	return updated, nil
}

func priceSpec(plan *models.Plan) stripe.PriceSpec {
	return stripe.PriceSpec{
		ProductID:     plan.StripeProductID,
		UnitAmount:    plan.PriceCents,
		Currency:      plan.Currency,
		Interval:      plan.Interval,
		IntervalCount: plan.IntervalCount,
		PlanID:        plan.ID,
		CoachID:       plan.CoachID,
	}
}

// normalizeFeatures features хранится как JSON массив.
func normalizeFeatures(raw json.RawMessage) (types.JSONText, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return types.JSONText("[]"), nil
	}

	var features []any
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, fmt.Errorf("%w: features must be a JSON array", ErrInvalidPlan)
	}

	compact, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return types.JSONText(compact), nil
}
