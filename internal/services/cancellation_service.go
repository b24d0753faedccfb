package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/google/uuid"
	stripego "github.com/stripe/stripe-go/v78"
)

// CreateCancellationInput запрос клиента на отмену подписки.
type CreateCancellationInput struct {
	SubscriptionID string
	ClientID       string
	Reason         *string
}

// CancellationActionInput решение коуча по запросу.
type CancellationActionInput struct {
	RequestID          string
	CoachID            string
	Action             models.CancellationStatus
	Response           *string
	RefundAmountCents  *int64
	CounterOfferPlanID *string
}

// CancellationService рассмотрение запросов на отмену: pending -> approved | denied | countered.
type CancellationService struct {
	repo     repository.CancellationRepository
	planRepo repository.PlanRepository
	stripe   stripe.Client
	metrics  metrics.BillingMetrics
	log      *logger.Logger
	now      func() time.Time
}

// NewCancellationService конструктор сервиса
func NewCancellationService(
	repo repository.CancellationRepository,
	planRepo repository.PlanRepository,
	stripeClient stripe.Client,
	m metrics.BillingMetrics,
	log *logger.Logger,
) *CancellationService {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CancellationService{
		repo:     repo,
		planRepo: planRepo,
		stripe:   stripeClient,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create связывает запрос с коучем через метаданные подписки в Stripe.
// Если план не требует одобрения, подписка сразу помечается к отмене в конце периода.
func (s *CancellationService) Create(ctx context.Context, in CreateCancellationInput) (*models.CancellationRequest, error) {
	sub, err := s.stripe.GetSubscription(ctx, in.SubscriptionID)
	if err != nil {
		if isStripeResourceMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
	}

	if sub.Metadata[stripe.MetadataUserIDKey] != in.ClientID {
		s.log.Warnw("User attempted to cancel subscription belonging to another user",
			"requesterID", in.ClientID, "subscriptionID", in.SubscriptionID)
		return nil, ErrSubscriptionNotFound
	}

	planID := planIDFromSubscription(sub)
	if planID == "" {
		s.log.Errorw("Stripe subscription is missing plan_id metadata", "subscriptionID", sub.ID)
		return nil, fmt.Errorf("%w: subscription %s", ErrMissingMetadata, sub.ID)
	}

	plan, err := s.planRepo.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	now := s.now()
	req := &models.CancellationRequest{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		ClientID:       in.ClientID,
		CoachID:        plan.CoachID,
		PlanID:         plan.ID,
		Status:         models.CancellationPending,
		Reason:         in.Reason,
		RequestedAt:    now,
	}

	if !plan.RequiresApproval {
		if _, err := s.stripe.SetCancelAtPeriodEnd(ctx, sub.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStripeClient, err)
		}
		req.Status = models.CancellationApproved
		req.ProcessedAt = &now
	}

	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrRequestAlreadyPending
		}
		return nil, err
	}

	s.log.Infow("Cancellation request created",
		"requestID", req.ID, "subscriptionID", req.SubscriptionID, "coachID", req.CoachID, "status", string(req.Status))
	return req, nil
}

// ListPending запросы, ожидающие решения коуча.
func (s *CancellationService) ListPending(ctx context.Context, coachID string) ([]models.CancellationRequest, error) {
	return s.repo.ListPendingByCoach(ctx, coachID)
}

// Act применяет решение коуча. Обработанный запрос повторно не меняется (ErrRequestAlreadyProcessed).
func (s *CancellationService) Act(ctx context.Context, in CancellationActionInput) (*models.CancellationRequest, error) {
	if !in.Action.IsAction() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}

	req, err := s.repo.GetByID(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if req.CoachID != in.CoachID {
		s.log.Warnw("Coach attempted to act on another coach's request", "requestID", req.ID, "coachID", in.CoachID)
		return nil, ErrRequestNotFound
	}
	if req.Status.IsTerminal() {
		s.log.Infow("Cancellation request already processed", "requestID", req.ID, "status", string(req.Status))
		return nil, ErrRequestAlreadyProcessed
	}

	decision := models.CancellationDecision{
		Status:        in.Action,
		CoachResponse: in.Response,
		ProcessedAt:   s.now(),
	}

	switch in.Action {
	case models.CancellationApproved:
		if err := s.approve(ctx, req, in.RefundAmountCents); err != nil {
			return nil, err
		}
		// 0 означает "без возврата" и хранится как NULL
		if in.RefundAmountCents != nil && *in.RefundAmountCents > 0 {
			decision.RefundAmountCents = in.RefundAmountCents
		}

	case models.CancellationCountered:
		if err := s.checkCounterOffer(ctx, in.CoachID, in.CounterOfferPlanID); err != nil {
			return nil, err
		}
		decision.CounterOfferPlanID = in.CounterOfferPlanID

	case models.CancellationDenied:
	}

	if err := s.repo.Resolve(ctx, req.ID, decision); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrRequestAlreadyProcessed
		}
		return nil, err
	}

	s.metrics.IncCancellationAction(string(in.Action))
	s.log.Infow("Cancellation request processed", "requestID", req.ID, "action", string(in.Action), "coachID", in.CoachID)

	req.Status = decision.Status
	req.CoachResponse = decision.CoachResponse
	req.RefundAmountCents = decision.RefundAmountCents
	req.CounterOfferPlanID = decision.CounterOfferPlanID
	req.ProcessedAt = &decision.ProcessedAt
	return req, nil
}

func (s *CancellationService) approve(ctx context.Context, req *models.CancellationRequest, refund *int64) error {
	if refund != nil && *refund < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidRefund)
	}

	// возврат до отмены: повтор после сбоя пройдет с тем же ключом идемпотентности
	if refund != nil && *refund > 0 {
		_, err := s.stripe.RefundLatestCharge(ctx, req.SubscriptionID, *refund, "cancellation-refund-"+req.ID)
		switch {
		case err == nil:
		case errors.Is(err, stripe.ErrRefundTooLarge), errors.Is(err, stripe.ErrNoCharge):
			return fmt.Errorf("%w: %v", ErrInvalidRefund, err)
		default:
			return fmt.Errorf("%w: %v", ErrStripeClient, err)
		}
	}

	if _, err := s.stripe.SetCancelAtPeriodEnd(ctx, req.SubscriptionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStripeClient, err)
	}
	return nil
}

func (s *CancellationService) checkCounterOffer(ctx context.Context, coachID string, planID *string) error {
	if planID == nil || *planID == "" {
		return fmt.Errorf("%w: counter_offer_plan_id is required", ErrInvalidCounterOffer)
	}

	plan, err := s.planRepo.GetByID(ctx, *planID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: plan %s not found", ErrInvalidCounterOffer, *planID)
		}
		return err
	}
	if plan.CoachID != coachID || !plan.IsActive {
		return fmt.Errorf("%w: plan %s is not an active plan of this coach", ErrInvalidCounterOffer, *planID)
	}
	return nil
}

func isStripeResourceMissing(err error) bool {
	var stripeErr *stripego.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripego.ErrorCodeResourceMissing
}
