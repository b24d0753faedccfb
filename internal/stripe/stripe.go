package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Ключи метаданных, которыми подписка связывается с пользователем и планом.
const (
	MetadataPlanIDKey  = "plan_id"
	MetadataUserIDKey  = "user_id"
	MetadataCoachIDKey = "coach_id"

	// MetadataRefundKey ключ идемпотентности, сохраненный в метаданных возврата.
	MetadataRefundKey = "refund_key"
)

var (
	// ErrNoCharge у последнего счета подписки нет платежа, который можно вернуть.
	ErrNoCharge = errors.New("stripe: latest invoice has no charge")

	// ErrRefundTooLarge сумма возврата превышает сумму платежа.
	ErrRefundTooLarge = errors.New("stripe: refund exceeds charge amount")
)

// PriceSpec параметры новой recurring цены.
type PriceSpec struct {
	ProductID     string
	UnitAmount    int64
	Currency      string
	Interval      models.BillingInterval
	IntervalCount int64
	PlanID        string
	CoachID       string
}

// CheckoutSpec параметры Checkout Session в режиме подписки.
type CheckoutSpec struct {
	PriceID    string
	PlanID     string
	UserID     string
	CoachID    string
	SuccessURL string
	CancelURL  string
}

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// VerifyEvent проверяет подпись webhook и возвращает типизированное событие.
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)

	// GetSubscription загружает подписку с развернутыми продуктами цен.
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// SetCancelAtPeriodEnd помечает подписку к отмене в конце периода.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// RefundLatestCharge возвращает amountCents по платежу последнего счета подписки.
	// Повтор с тем же idempotencyKey не создает второй возврат.
	RefundLatestCharge(ctx context.Context, subscriptionID string, amountCents int64, idempotencyKey string) (string, error)

	CreateProduct(ctx context.Context, name, coachID string) (string, error)
	UpdateProductName(ctx context.Context, productID, name string) error
	CreatePrice(ctx context.Context, spec PriceSpec) (string, error)
	ArchivePrice(ctx context.Context, priceID string) error

	CreateCheckoutSession(ctx context.Context, spec CheckoutSpec) (*stripe.CheckoutSession, error)
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey, webhookSecret string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return newStripeClient(sc, webhookSecret, log)
}

func newStripeClient(api *client.API, webhookSecret string, log *logger.Logger) *stripeClient {
	return &stripeClient{
		client:        api,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// VerifyEvent не парсит тело до проверки подписи: HMAC считается по исходным байтам.
func (sc *stripeClient) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, sc.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}
	return event, nil
}

func (sc *stripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")

	sub, err := sc.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		logStripeError(sc.log, "GetSubscription", err)
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}

	sc.log.Debugw("Stripe subscription retrieved", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))
	return sub, nil
}

func (sc *stripeClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := sc.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		logStripeError(sc.log, "SetCancelAtPeriodEnd", err)
		return nil, fmt.Errorf("stripe: failed to schedule cancellation: %w", err)
	}

	sc.log.Infow("Stripe subscription scheduled to cancel at period end", "stripeSubscriptionID", sub.ID)
	return sub, nil
}

func (sc *stripeClient) RefundLatestCharge(ctx context.Context, subscriptionID string, amountCents int64, idempotencyKey string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.charge")

	sub, err := sc.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		logStripeError(sc.log, "RefundLatestCharge.GetSubscription", err)
		return "", fmt.Errorf("stripe: failed to get subscription for refund: %w", err)
	}

	if sub.LatestInvoice == nil || sub.LatestInvoice.Charge == nil || sub.LatestInvoice.Charge.ID == "" {
		sc.log.Warnw("No charge on latest invoice, refund skipped", "stripeSubscriptionID", subscriptionID)
		return "", ErrNoCharge
	}

	charge := sub.LatestInvoice.Charge

	// уже вернутая сумма входит в AmountRefunded, поэтому повтор проверяется до лимита
	if idempotencyKey != "" {
		existingID, err := sc.findRefund(ctx, charge.ID, idempotencyKey)
		if err != nil {
			return "", err
		}
		if existingID != "" {
			sc.log.Infow("Refund already issued, reusing it", "refundID", existingID, "chargeID", charge.ID)
			return existingID, nil
		}
	}

	if refundable := charge.Amount - charge.AmountRefunded; amountCents > refundable {
		return "", fmt.Errorf("%w: requested %d, refundable %d", ErrRefundTooLarge, amountCents, refundable)
	}

	refundParams := &stripe.RefundParams{
		Charge: stripe.String(charge.ID),
		Amount: stripe.Int64(amountCents),
	}
	refundParams.Context = ctx
	if idempotencyKey != "" {
		refundParams.SetIdempotencyKey(idempotencyKey)
		refundParams.AddMetadata(MetadataRefundKey, idempotencyKey)
	}
	refundParams.AddMetadata("subscription_id", subscriptionID)

	refund, err := sc.client.Refunds.New(refundParams)
	if err != nil {
		logStripeError(sc.log, "RefundLatestCharge", err)
		return "", fmt.Errorf("stripe: failed to create refund: %w", err)
	}

	sc.log.Infow("Stripe refund created", "refundID", refund.ID, "chargeID", charge.ID, "amount", amountCents)
	return refund.ID, nil
}

// findRefund ищет успешный или ожидающий возврат по платежу с данным ключом.
func (sc *stripeClient) findRefund(ctx context.Context, chargeID, key string) (string, error) {
	params := &stripe.RefundListParams{Charge: stripe.String(chargeID)}
	params.Context = ctx

	it := sc.client.Refunds.List(params)
	for it.Next() {
		r := it.Refund()
		if r.Metadata[MetadataRefundKey] != key {
			continue
		}
		if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
			continue
		}
		return r.ID, nil
	}
	if err := it.Err(); err != nil {
		logStripeError(sc.log, "RefundLatestCharge.ListRefunds", err)
		return "", fmt.Errorf("stripe: failed to list refunds: %w", err)
	}
	return "", nil
}

func (sc *stripeClient) CreateProduct(ctx context.Context, name, coachID string) (string, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata(MetadataCoachIDKey, coachID)

	product, err := sc.client.Products.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateProduct", err)
		return "", fmt.Errorf("stripe: failed to create product: %w", err)
	}

	sc.log.Infow("Stripe product created", "productID", product.ID, "coachID", coachID)
	return product.ID, nil
}

func (sc *stripeClient) UpdateProductName(ctx context.Context, productID, name string) error {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	params.Context = ctx

	if _, err := sc.client.Products.Update(productID, params); err != nil {
		logStripeError(sc.log, "UpdateProductName", err)
		return fmt.Errorf("stripe: failed to update product: %w", err)
	}
	return nil
}

// CreatePrice создает новую цену. Цены в Stripe неизменяемы, поэтому смена суммы
// или интервала всегда означает новую цену.
func (sc *stripeClient) CreatePrice(ctx context.Context, spec PriceSpec) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(spec.ProductID),
		UnitAmount: stripe.Int64(spec.UnitAmount),
		Currency:   stripe.String(spec.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(spec.Interval)),
			IntervalCount: stripe.Int64(spec.IntervalCount),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataPlanIDKey, spec.PlanID)
	params.AddMetadata(MetadataCoachIDKey, spec.CoachID)

	price, err := sc.client.Prices.New(params)
	if err != nil {
		logStripeError(sc.log, "CreatePrice", err)
		return "", fmt.Errorf("stripe: failed to create price: %w", err)
	}

	sc.log.Infow("Stripe price created", "priceID", price.ID, "planID", spec.PlanID, "amount", spec.UnitAmount)
	return price.ID, nil
}

func (sc *stripeClient) ArchivePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{
		Active: stripe.Bool(false),
	}
	params.Context = ctx

	if _, err := sc.client.Prices.Update(priceID, params); err != nil {
		logStripeError(sc.log, "ArchivePrice", err)
		return fmt.Errorf("stripe: failed to archive price: %w", err)
	}

	sc.log.Infow("Stripe price archived", "priceID", priceID)
	return nil
}

// CreateCheckoutSession кладет plan_id/user_id/coach_id в метаданные будущей подписки,
// откуда их потом читает обработчик checkout.session.completed.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, spec CheckoutSpec) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(spec.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(spec.SuccessURL),
		CancelURL:         stripe.String(spec.CancelURL),
		ClientReferenceID: stripe.String(spec.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataPlanIDKey:  spec.PlanID,
				MetadataUserIDKey:  spec.UserID,
				MetadataCoachIDKey: spec.CoachID,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataUserIDKey, spec.UserID)

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", spec.UserID, "planID", spec.PlanID)
	return session, nil
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
