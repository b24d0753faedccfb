package repository

import (
	"context"
	"fmt"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// PlanRepository хранилище тарифных планов коучей.
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, planID string) (*models.Plan, error)
	ListByCoach(ctx context.Context, coachID string) ([]models.Plan, error)
	// Update меняет только заданные поля и возвращает актуальную запись.
	Update(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error)
}

const planColumns = `id, coach_id, stripe_product_id, stripe_price_id, name, price_cents, currency,
        billing_interval, interval_count, features, is_active, is_public, requires_approval, created_at, updated_at`

type postgresPlanRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPlanRepository создает репозиторий планов для PostgreSQL.
func NewPostgresPlanRepository(db *sqlx.DB, log *logger.Logger) PlanRepository {
	return &postgresPlanRepo{db: db, log: log}
}

func (r *postgresPlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	query := `
        INSERT INTO coach_plans (
            id, coach_id, stripe_product_id, stripe_price_id, name, price_cents, currency,
            billing_interval, interval_count, features, is_active, is_public, requires_approval
        ) VALUES (
            :id, :coach_id, :stripe_product_id, :stripe_price_id, :name, :price_cents, :currency,
            :billing_interval, :interval_count, :features, :is_active, :is_public, :requires_approval
        )`

	if len(plan.Features) == 0 {
		plan.Features = []byte("[]")
	}

	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.log.Errorw("Failed to create plan in DB", "error", err, "planID", plan.ID, "coachID", plan.CoachID)
		return fmt.Errorf("repository: failed to create plan: %w", err)
	}

	r.log.Debugw("Successfully created plan in DB", "planID", plan.ID, "coachID", plan.CoachID)
	return nil
}

func (r *postgresPlanRepo) GetByID(ctx context.Context, planID string) (*models.Plan, error) {
	var plan models.Plan
	query := `SELECT ` + planColumns + ` FROM coach_plans WHERE id = $1`

	if err := r.db.GetContext(ctx, &plan, query, planID); err != nil {
		if isNoRecord(err) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get plan by ID from DB", "error", err, "planID", planID)
		return nil, fmt.Errorf("repository: failed to get plan: %w", err)
	}
	return &plan, nil
}

func (r *postgresPlanRepo) ListByCoach(ctx context.Context, coachID string) ([]models.Plan, error) {
	plans := []models.Plan{}
	query := `SELECT ` + planColumns + ` FROM coach_plans WHERE coach_id = $1 ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &plans, query, coachID); err != nil {
		r.log.Errorw("Failed to list plans from DB", "error", err, "coachID", coachID)
		return nil, fmt.Errorf("repository: failed to list plans: %w", err)
	}
	return plans, nil
}

func (r *postgresPlanRepo) Update(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error) {
	query := `
        UPDATE coach_plans SET
            name = COALESCE($2, name),
            price_cents = COALESCE($3, price_cents),
            currency = COALESCE($4, currency),
            billing_interval = COALESCE($5, billing_interval),
            interval_count = COALESCE($6, interval_count),
            stripe_price_id = COALESCE($7, stripe_price_id),
            features = COALESCE($8, features),
            is_active = COALESCE($9, is_active),
            is_public = COALESCE($10, is_public),
            requires_approval = COALESCE($11, requires_approval),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + planColumns

	var interval *string
	if upd.Interval != nil {
		s := string(*upd.Interval)
		interval = &s
	}
	var features *string
	if upd.Features != nil {
		s := string(*upd.Features)
		features = &s
	}

	var plan models.Plan
	err := r.db.GetContext(ctx, &plan, query, planID,
		upd.Name, upd.PriceCents, upd.Currency, interval, upd.IntervalCount,
		upd.StripePriceID, features, upd.IsActive, upd.IsPublic, upd.RequiresApproval,
	)
	if err != nil {
		if isNoRecord(err) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to update plan in DB", "error", err, "planID", planID)
		return nil, fmt.Errorf("repository: failed to update plan: %w", err)
	}

	r.log.Debugw("Successfully updated plan in DB", "planID", planID)
	return &plan, nil
}
