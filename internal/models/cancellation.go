package models

import "time"

// CancellationStatus статус запроса на отмену подписки.
type CancellationStatus string

const (
	CancellationPending   CancellationStatus = "pending"
	CancellationApproved  CancellationStatus = "approved"
	CancellationDenied    CancellationStatus = "denied"
	CancellationCountered CancellationStatus = "countered"
)

// IsTerminal все статусы кроме pending финальны для записи.
func (s CancellationStatus) IsTerminal() bool {
	return s != CancellationPending
}

// IsAction проверяет, что статус является допустимым действием коуча.
func (s CancellationStatus) IsAction() bool {
	return s == CancellationApproved || s == CancellationDenied || s == CancellationCountered
}

// CancellationRequest запрос клиента на отмену подписки, который рассматривает коуч.
type CancellationRequest struct {
	ID                 string             `db:"id" json:"id"`
	SubscriptionID     string             `db:"subscription_id" json:"subscription_id"`
	ClientID           string             `db:"client_id" json:"client_id"`
	CoachID            string             `db:"coach_id" json:"coach_id"`
	PlanID             string             `db:"plan_id" json:"plan_id"`
	Status             CancellationStatus `db:"status" json:"status"`
	Reason             *string            `db:"reason" json:"reason,omitempty"`
	RefundAmountCents  *int64             `db:"refund_amount_cents" json:"refund_amount_cents,omitempty"`
	CounterOfferPlanID *string            `db:"counter_offer_plan_id" json:"counter_offer_plan_id,omitempty"`
	CoachResponse      *string            `db:"coach_response" json:"coach_response,omitempty"`
	RequestedAt        time.Time          `db:"requested_at" json:"requested_at"`
	ProcessedAt        *time.Time         `db:"processed_at" json:"processed_at,omitempty"`
}

// CancellationDecision результат рассмотрения запроса коучем.
type CancellationDecision struct {
	Status             CancellationStatus
	CoachResponse      *string
	RefundAmountCents  *int64
	CounterOfferPlanID *string
	ProcessedAt        time.Time
}
