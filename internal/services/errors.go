package services

import "errors"

// --- Определения ошибок сервисного слоя ---
var (
	// ErrMissingMetadata у подписки Stripe нет plan_id или user_id в метаданных.
	// Событие с такой подпиской повторно обработать нельзя.
	ErrMissingMetadata = errors.New("subscription metadata is missing plan_id or user_id")
	ErrInvalidPayload  = errors.New("invalid event payload")
	ErrStripeClient    = errors.New("stripe client error")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidPlan          = errors.New("invalid plan data")

	ErrRequestNotFound         = errors.New("cancellation request not found")
	ErrRequestAlreadyProcessed = errors.New("cancellation request already processed")
	ErrRequestAlreadyPending   = errors.New("a pending cancellation request already exists")
	ErrInvalidAction           = errors.New("invalid cancellation action")
	ErrInvalidRefund           = errors.New("invalid refund amount")
	ErrInvalidCounterOffer     = errors.New("invalid counter offer plan")

	ErrInvalidSecret = errors.New("invalid revalidation secret")
)
