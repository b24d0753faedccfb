package models

import "time"

// SubscriptionStatus статус подписки в терминах Stripe.
type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusPaused            SubscriptionStatus = "paused"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// Entitled сообщает, даёт ли статус доступ к платным функциям.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription представляет подписку клиента на план коуча.
// ID совпадает с ID подписки в Stripe и является ключом upsert.
type Subscription struct {
	ID                string             `db:"id" json:"id"`
	UserID            string             `db:"user_id" json:"user_id"`
	PlanID            string             `db:"plan_id" json:"plan_id"`
	Status            SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodEnd  *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// SubscriptionUpdate частичное обновление подписки: nil означает "не менять".
type SubscriptionUpdate struct {
	Status            *SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	PlanID            *string
	CancelAtPeriodEnd *bool
}

// Entitlement результат проверки доступа пользователя (кешируется в Redis).
type Entitlement struct {
	UserID           string             `json:"user_id"`
	Entitled         bool               `json:"entitled"`
	SubscriptionID   string             `json:"subscription_id,omitempty"`
	PlanID           string             `json:"plan_id,omitempty"`
	Status           SubscriptionStatus `json:"status,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
}
