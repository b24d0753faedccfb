package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/notify"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	stripego "github.com/stripe/stripe-go/v78"
)

// Типы событий Stripe, которые сверяются с локальной БД.
const (
	EventCheckoutSessionCompleted stripego.EventType = "checkout.session.completed"
	EventSubscriptionUpdated      stripego.EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      stripego.EventType = "customer.subscription.deleted"
	EventSubscriptionPaused       stripego.EventType = "customer.subscription.paused"
	EventSubscriptionResumed      stripego.EventType = "customer.subscription.resumed"
	EventSubscriptionTrialWillEnd stripego.EventType = "customer.subscription.trial_will_end"
)

// Reconciler приводит таблицу subscriptions в соответствие с состоянием в Stripe.
type Reconciler struct {
	subRepo  repository.SubscriptionRepository
	stripe   stripe.Client
	notifier notify.Notifier
	log      *logger.Logger
}

// NewReconciler конструктор сервиса сверки.
func NewReconciler(
	subRepo repository.SubscriptionRepository,
	stripeClient stripe.Client,
	notifier notify.Notifier,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		subRepo:  subRepo,
		stripe:   stripeClient,
		notifier: notifier,
		log:      log,
	}
}

// Dispatch передает событие ровно одному обработчику. Неизвестный тип не ошибка:
// возвращается handled=false, чтобы Stripe не повторял доставку.
func (r *Reconciler) Dispatch(ctx context.Context, event stripego.Event) (handled bool, err error) {
	switch event.Type {
	case EventCheckoutSessionCompleted:
		return true, r.HandleCheckoutCompleted(ctx, event.Data.Raw)

	case EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventSubscriptionPaused,
		EventSubscriptionResumed,
		EventSubscriptionTrialWillEnd:
		return true, r.HandleSubscriptionChange(ctx, event.Type, event.Data.Raw)

	default:
		r.log.Infow("Unhandled Stripe event type", "eventType", string(event.Type), "eventID", event.ID)
		return false, nil
	}
}

// HandleCheckoutCompleted создает или перезаписывает подписку после оплаты checkout.
// Источник истины для plan_id/user_id это метаданные подписки, а не сессии.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var session stripego.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		r.log.Errorw("Failed to unmarshal checkout session", "error", err)
		return fmt.Errorf("%w: checkout session: %v", ErrInvalidPayload, err)
	}

	if session.Mode != stripego.CheckoutSessionModeSubscription {
		r.log.Debugw("Checkout session is not a subscription, skipping", "sessionID", session.ID, "mode", string(session.Mode))
		return nil
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		r.log.Infow("Checkout session has no subscription reference, skipping", "sessionID", session.ID)
		return nil
	}

	checkoutUserID := session.ClientReferenceID
	if checkoutUserID == "" {
		checkoutUserID = session.Metadata[stripe.MetadataUserIDKey]
	}
	if checkoutUserID == "" {
		r.log.Infow("Checkout session has no user reference, skipping", "sessionID", session.ID)
		return nil
	}

	sub, err := r.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStripeClient, err)
	}

	planID := sub.Metadata[stripe.MetadataPlanIDKey]
	userID := sub.Metadata[stripe.MetadataUserIDKey]
	if planID == "" || userID == "" {
		r.log.Errorw("Stripe subscription is missing required metadata",
			"subscriptionID", sub.ID, "sessionID", session.ID, "planID", planID, "userID", userID)
		return fmt.Errorf("%w: subscription %s", ErrMissingMetadata, sub.ID)
	}

	if checkoutUserID != userID {
		r.log.Warnw("Checkout user differs from subscription metadata, using metadata",
			"subscriptionID", sub.ID, "checkoutUserID", checkoutUserID, "metadataUserID", userID)
	}

	record := &models.Subscription{
		ID:                sub.ID,
		UserID:            userID,
		PlanID:            planID,
		Status:            models.SubscriptionStatus(sub.Status),
		CurrentPeriodEnd:  unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if err := r.subRepo.Upsert(ctx, record); err != nil {
		r.log.Errorw("Failed to upsert subscription from checkout", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("reconciler: upsert subscription %s: %w", sub.ID, err)
	}

	r.log.Infow("Subscription reconciled from checkout", "subscriptionID", sub.ID, "userID", userID, "planID", planID, "status", string(sub.Status))

	r.notifier.Notify(notify.Change{
		UserID:         userID,
		SubscriptionID: sub.ID,
		PlanID:         planID,
		Status:         record.Status,
	})
	return nil
}

// HandleSubscriptionChange обновляет уже существующую подписку из payload события.
// Записи нет (событие пришло раньше checkout) - ошибка, а не вставка.
func (r *Reconciler) HandleSubscriptionChange(ctx context.Context, eventType stripego.EventType, raw json.RawMessage) error {
	var sub stripego.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal subscription", "error", err, "eventType", string(eventType))
		return fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
	}
	if sub.ID == "" {
		r.log.Errorw("Subscription ID missing in event payload", "eventType", string(eventType))
		return fmt.Errorf("%w: subscription id is empty", ErrInvalidPayload)
	}

	upd := subscriptionUpdate(&sub)
	if eventType == EventSubscriptionDeleted {
		canceled := models.StatusCanceled
		upd.Status = &canceled
	}

	if err := r.subRepo.Update(ctx, sub.ID, upd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Errorw("Received update for unknown subscription", "subscriptionID", sub.ID, "eventType", string(eventType))
		} else {
			r.log.Errorw("Failed to update subscription", "error", err, "subscriptionID", sub.ID, "eventType", string(eventType))
		}
		return fmt.Errorf("reconciler: update subscription %s: %w", sub.ID, err)
	}

	r.log.Infow("Subscription reconciled", "subscriptionID", sub.ID, "eventType", string(eventType))

	userID := sub.Metadata[stripe.MetadataUserIDKey]
	if userID == "" {
		r.log.Warnw("Subscription has no user_id metadata, cache invalidation skipped", "subscriptionID", sub.ID)
		return nil
	}

	change := notify.Change{UserID: userID, SubscriptionID: sub.ID}
	if upd.Status != nil {
		change.Status = *upd.Status
	}
	if upd.PlanID != nil {
		change.PlanID = *upd.PlanID
	}
	r.notifier.Notify(change)
	return nil
}

// subscriptionUpdate собирает только те поля, которые есть в payload.
func subscriptionUpdate(sub *stripego.Subscription) models.SubscriptionUpdate {
	var upd models.SubscriptionUpdate

	if sub.Status != "" {
		status := models.SubscriptionStatus(sub.Status)
		upd.Status = &status
	}
	upd.CurrentPeriodEnd = unixTime(sub.CurrentPeriodEnd)

	if planID := planIDFromSubscription(sub); planID != "" {
		upd.PlanID = &planID
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	upd.CancelAtPeriodEnd = &cancelAtPeriodEnd
	return upd
}

// planIDFromSubscription: сначала метаданные подписки, затем метаданные цены первой позиции.
func planIDFromSubscription(sub *stripego.Subscription) string {
	if planID := sub.Metadata[stripe.MetadataPlanIDKey]; planID != "" {
		return planID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if item := sub.Items.Data[0]; item != nil && item.Price != nil {
			return item.Price.Metadata[stripe.MetadataPlanIDKey]
		}
	}
	return ""
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
