package repository

import (
	"context"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// CancellationRepository хранилище запросов на отмену подписки.
type CancellationRepository interface {
	// Create возвращает ErrDuplicate, если для подписки уже есть pending запрос.
	Create(ctx context.Context, req *models.CancellationRequest) error
	GetByID(ctx context.Context, id string) (*models.CancellationRequest, error)
	ListPendingByCoach(ctx context.Context, coachID string) ([]models.CancellationRequest, error)
	// Resolve переводит pending запрос в финальный статус.
	// Если запрос уже обработан, возвращает ErrConflict.
	Resolve(ctx context.Context, id string, decision models.CancellationDecision) error
}

const cancellationColumns = `id, subscription_id, client_id, coach_id, plan_id, status, reason,
        refund_amount_cents, counter_offer_plan_id, coach_response, requested_at, processed_at`

type postgresCancellationRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresCancellationRepository создает репозиторий запросов на отмену.
func NewPostgresCancellationRepository(db *sqlx.DB, log *logger.Logger) CancellationRepository {
	return &postgresCancellationRepo{db: db, log: log}
}

func (r *postgresCancellationRepo) Create(ctx context.Context, req *models.CancellationRequest) error {
	query := `
        INSERT INTO cancellation_requests (
            id, subscription_id, client_id, coach_id, plan_id, status, reason,
            refund_amount_cents, counter_offer_plan_id, coach_response, requested_at, processed_at
        ) VALUES (
            :id, :subscription_id, :client_id, :coach_id, :plan_id, :status, :reason,
            :refund_amount_cents, :counter_offer_plan_id, :coach_response, :requested_at, :processed_at
        )`

	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Pending cancellation request already exists", "subscriptionID", req.SubscriptionID)
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create cancellation request in DB", "error", err, "subscriptionID", req.SubscriptionID)
		return fmt.Errorf("repository: failed to create cancellation request: %w", err)
	}
	return nil
}

func (r *postgresCancellationRepo) GetByID(ctx context.Context, id string) (*models.CancellationRequest, error) {
	var req models.CancellationRequest
	query := `SELECT ` + cancellationColumns + ` FROM cancellation_requests WHERE id = $1`

	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if isNoRecord(err) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get cancellation request from DB", "error", err, "requestID", id)
		return nil, fmt.Errorf("repository: failed to get cancellation request: %w", err)
	}
	return &req, nil
}

func (r *postgresCancellationRepo) ListPendingByCoach(ctx context.Context, coachID string) ([]models.CancellationRequest, error) {
	reqs := []models.CancellationRequest{}
	query := `SELECT ` + cancellationColumns + `
        FROM cancellation_requests
        WHERE coach_id = $1 AND status = 'pending'
        ORDER BY requested_at ASC`

	if err := r.db.SelectContext(ctx, &reqs, query, coachID); err != nil {
		r.log.Errorw("Failed to list cancellation requests from DB", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("repository: failed to list cancellation requests: %w", err)
	}
	return reqs, nil
}

// Resolve условный UPDATE (status = 'pending') закрывает гонку двух одновременных действий коуча.
func (r *postgresCancellationRepo) Resolve(ctx context.Context, id string, d models.CancellationDecision) error {
	query := `
        UPDATE cancellation_requests SET
            status = $2,
            coach_response = $3,
            refund_amount_cents = $4,
            counter_offer_plan_id = $5,
            processed_at = $6
        WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, id, string(d.Status), d.CoachResponse, d.RefundAmountCents, d.CounterOfferPlanID, d.ProcessedAt)
	if err != nil {
		r.log.Errorw("Failed to resolve cancellation request in DB", "error", err, "requestID", id)
		return fmt.Errorf("repository: failed to resolve cancellation request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Cancellation request is no longer pending", "requestID", id)
		return ErrConflict
	}
	return nil
}
