package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// BillingInterval период списания для recurring price.
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Valid проверяет, что интервал поддерживается Stripe.
func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// Plan тарифный план коуча. StripePriceID меняется при каждом изменении цены или интервала:
// price в Stripe неизменяем, старый архивируется.
type Plan struct {
	ID               string          `db:"id" json:"id"`
	CoachID          string          `db:"coach_id" json:"coach_id"`
	StripeProductID  string          `db:"stripe_product_id" json:"stripe_product_id"`
	StripePriceID    string          `db:"stripe_price_id" json:"stripe_price_id"`
	Name             string          `db:"name" json:"name"`
	PriceCents       int64           `db:"price_cents" json:"price_cents"`
	Currency         string          `db:"currency" json:"currency"`
	Interval         BillingInterval `db:"billing_interval" json:"interval"`
	IntervalCount    int64           `db:"interval_count" json:"interval_count"`
	Features         types.JSONText  `db:"features" json:"features"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	IsPublic         bool            `db:"is_public" json:"is_public"`
	RequiresApproval bool            `db:"requires_approval" json:"requires_approval"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// PlanUpdate частичное обновление плана: nil означает "не менять".
type PlanUpdate struct {
	Name             *string
	PriceCents       *int64
	Currency         *string
	Interval         *BillingInterval
	IntervalCount    *int64
	StripePriceID    *string
	Features         *types.JSONText
	IsActive         *bool
	IsPublic         *bool
	RequiresApproval *bool
}

// IsEmpty true, если ни одно поле не задано.
func (u PlanUpdate) IsEmpty() bool {
	return u.Name == nil && u.PriceCents == nil && u.Currency == nil && u.Interval == nil &&
		u.IntervalCount == nil && u.StripePriceID == nil && u.Features == nil &&
		u.IsActive == nil && u.IsPublic == nil && u.RequiresApproval == nil
}
