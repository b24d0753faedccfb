package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
)

// CheckoutResult ссылка на оплату.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutService создает Checkout Session, из которой потом появится подписка.
type CheckoutService struct {
	planRepo   repository.PlanRepository
	stripe     stripe.Client
	successURL string
	cancelURL  string
	log        *logger.Logger
}

// NewCheckoutService конструктор сервиса
func NewCheckoutService(planRepo repository.PlanRepository, stripeClient stripe.Client, successURL, cancelURL string, log *logger.Logger) *CheckoutService {
	return &CheckoutService{
		planRepo:   planRepo,
		stripe:     stripeClient,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

// Create: без plan_id/user_id в метаданных подписки сверка после оплаты невозможна,
// поэтому они всегда передаются в subscription_data.
func (s *CheckoutService) Create(ctx context.Context, userID, planID string) (*CheckoutResult, error) {
	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.IsActive {
		s.log.Infow("Checkout requested for inactive plan", "planID", planID, "userID", userID)
		return nil, ErrPlanNotFound
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, stripe.CheckoutSpec{
		PriceID:    plan.StripePriceID,
		PlanID:     plan.ID,
		UserID:     userID,
		CoachID:    plan.CoachID,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
	}

	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}
