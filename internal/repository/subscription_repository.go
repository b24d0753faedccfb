package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
type SubscriptionRepository interface {
	// Upsert создаёт или перезаписывает подписку по ID (ID подписки Stripe).
	Upsert(ctx context.Context, sub *models.Subscription) error

	// Update обновляет только заданные поля существующей подписки.
	// Если подписки нет, возвращает ErrNotFound.
	Update(ctx context.Context, subscriptionID string, upd models.SubscriptionUpdate) error

	// GetActiveByUserID возвращает самую свежую active/trialing подписку пользователя.
	GetActiveByUserID(ctx context.Context, userID string) (*models.Subscription, error)
}

const subscriptionColumns = `id, user_id, plan_id, status, current_period_end, cancel_at_period_end, created_at, updated_at`

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

// Upsert идемпотентен: повторная доставка того же события обновляет запись на месте.
func (r *postgresSubscriptionRepo) Upsert(ctx context.Context, sub *models.Subscription) error {
	query := `
        INSERT INTO subscriptions (
            id, user_id, plan_id, status, current_period_end, cancel_at_period_end, created_at, updated_at
        ) VALUES (
            :id, :user_id, :plan_id, :status, :current_period_end, :cancel_at_period_end, NOW(), NOW()
        )
        ON CONFLICT (id) DO UPDATE SET
            user_id = EXCLUDED.user_id,
            plan_id = EXCLUDED.plan_id,
            status = EXCLUDED.status,
            current_period_end = EXCLUDED.current_period_end,
            cancel_at_period_end = EXCLUDED.cancel_at_period_end,
            updated_at = NOW()`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		r.log.Errorw("Failed to upsert subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}

	r.log.Debugw("Successfully upserted subscription in DB", "subscriptionID", sub.ID, "status", sub.Status)
	return nil
}

// Update не делает upsert: запись должна существовать после checkout.
func (r *postgresSubscriptionRepo) Update(ctx context.Context, subscriptionID string, upd models.SubscriptionUpdate) error {
	query := `
        UPDATE subscriptions SET
            status = COALESCE($2, status),
            current_period_end = COALESCE($3, current_period_end),
            plan_id = COALESCE($4, plan_id),
            cancel_at_period_end = COALESCE($5, cancel_at_period_end),
            updated_at = NOW()
        WHERE id = $1`

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}

	result, err := r.db.ExecContext(ctx, query, subscriptionID, status, upd.CurrentPeriodEnd, upd.PlanID, upd.CancelAtPeriodEnd)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", subscriptionID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after update", "error", err, "subscriptionID", subscriptionID)
		return fmt.Errorf("repository: failed to read rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Subscription update affected 0 rows", "subscriptionID", subscriptionID)
		return ErrNotFound
	}

	r.log.Debugw("Successfully updated subscription in DB", "subscriptionID", subscriptionID)
	return nil
}

// GetActiveByUserID возвращает действующую подписку пользователя.
func (r *postgresSubscriptionRepo) GetActiveByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	query := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status IN ('active', 'trialing')
        ORDER BY updated_at DESC
        LIMIT 1`

	err := r.db.GetContext(ctx, &sub, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debugw("No active subscription for user", "userID", userID)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get active subscription from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get active subscription: %w", err)
	}
	return &sub, nil
}
