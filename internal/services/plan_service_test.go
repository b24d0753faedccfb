package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func monthlyPlan() *models.Plan {
	return &models.Plan{
		ID:              "plan_1",
		CoachID:         "coach_1",
		StripeProductID: "prod_1",
		StripePriceID:   "price_old",
		Name:            "Monthly coaching",
		PriceCents:      2900,
		Currency:        "usd",
		Interval:        models.IntervalMonth,
		IntervalCount:   1,
		Features:        types.JSONText(`["chat"]`),
		IsActive:        true,
		IsPublic:        true,
	}
}

func newPlanFixture(t *testing.T) (*PlanService, *mockPlanRepo, *mockStripe) {
	t.Helper()
	repo := &mockPlanRepo{}
	sc := &mockStripe{}
	t.Cleanup(func() {
		repo.AssertExpectations(t)
		sc.AssertExpectations(t)
	})
	return NewPlanService(repo, sc, nil, logger.NewNop()), repo, sc
}

func TestUpdatePlan_PriceChange(t *testing.T) {
	svc, repo, sc := newPlanFixture(t)
	plan := monthlyPlan()
	repo.On("GetByID", mock.Anything, "plan_1").Return(plan, nil).Once()

	sc.On("CreatePrice", mock.Anything, stripe.PriceSpec{
		ProductID:     "prod_1",
		UnitAmount:    4900,
		Currency:      "usd",
		Interval:      models.IntervalMonth,
		IntervalCount: 1,
		PlanID:        "plan_1",
		CoachID:       "coach_1",
	}).Return("price_new", nil).Once()

	repo.On("Update", mock.Anything, "plan_1", models.PlanUpdate{
		PriceCents:    int64Ptr(4900),
		StripePriceID: strPtr("price_new"),
	}).Return(func() *models.Plan {
		updated := monthlyPlan()
		updated.PriceCents = 4900
		updated.StripePriceID = "price_new"
		return updated
	}(), nil).Once()

	sc.On("ArchivePrice", mock.Anything, "price_old").Return(nil).Once()

	got, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{
		PriceCents: int64Ptr(4900),
		Interval:   func() *models.BillingInterval { i := models.IntervalMonth; return &i }(),
		Currency:   strPtr("USD"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4900), got.PriceCents)
	assert.Equal(t, models.IntervalMonth, got.Interval)
	assert.Equal(t, "usd", got.Currency)

	sc.AssertNumberOfCalls(t, "CreatePrice", 1)
	sc.AssertNumberOfCalls(t, "ArchivePrice", 1)
	sc.AssertNotCalled(t, "UpdateProductName", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdatePlan_IntervalChangeCarriesPrice(t *testing.T) {
	svc, repo, sc := newPlanFixture(t)
	repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()

	year := models.IntervalYear
	sc.On("CreatePrice", mock.Anything, mock.MatchedBy(func(spec stripe.PriceSpec) bool {
		return spec.Interval == models.IntervalYear && spec.UnitAmount == 2900 && spec.Currency == "usd"
	})).Return("price_year", nil).Once()
	repo.On("Update", mock.Anything, "plan_1", models.PlanUpdate{
		Interval:      &year,
		StripePriceID: strPtr("price_year"),
	}).Return(monthlyPlan(), nil).Once()
	sc.On("ArchivePrice", mock.Anything, "price_old").Return(nil).Once()

	_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{Interval: &year})
	require.NoError(t, err)
}

func TestUpdatePlan_NameOnly(t *testing.T) {
	svc, repo, sc := newPlanFixture(t)
	repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
	sc.On("UpdateProductName", mock.Anything, "prod_1", "Premium coaching").Return(nil).Once()
	repo.On("Update", mock.Anything, "plan_1", models.PlanUpdate{Name: strPtr("Premium coaching")}).Return(monthlyPlan(), nil).Once()

	_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{
		Name:       strPtr("Premium coaching"),
		PriceCents: int64Ptr(2900),
	})
	require.NoError(t, err)
	sc.AssertNotCalled(t, "CreatePrice", mock.Anything, mock.Anything)
	sc.AssertNotCalled(t, "ArchivePrice", mock.Anything, mock.Anything)
}

func TestUpdatePlan_FlagsOnly(t *testing.T) {
	svc, repo, _ := newPlanFixture(t)
	repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
	repo.On("Update", mock.Anything, "plan_1", models.PlanUpdate{RequiresApproval: boolPtr(true)}).Return(monthlyPlan(), nil).Once()

	_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{
		RequiresApproval: boolPtr(true),
		IsActive:         boolPtr(true),
		Features:         json.RawMessage(`["chat"]`),
	})
	require.NoError(t, err)
}

func TestUpdatePlan_NoChanges(t *testing.T) {
	svc, repo, _ := newPlanFixture(t)
	repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()

	got, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{PriceCents: int64Ptr(2900)})
	require.NoError(t, err)
	assert.Equal(t, "price_old", got.StripePriceID)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdatePlan_ArchiveFailureIsNotFatal(t *testing.T) {
	svc, repo, sc := newPlanFixture(t)
	repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
	sc.On("CreatePrice", mock.Anything, mock.Anything).Return("price_new", nil).Once()
	repo.On("Update", mock.Anything, "plan_1", mock.Anything).Return(monthlyPlan(), nil).Once()
	sc.On("ArchivePrice", mock.Anything, "price_old").Return(errors.New("stripe down")).Once()

	_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{PriceCents: int64Ptr(1000)})
	assert.NoError(t, err)
}

func TestUpdatePlan_Rejections(t *testing.T) {
	t.Run("other coach", func(t *testing.T) {
		svc, repo, _ := newPlanFixture(t)
		repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
		_, err := svc.Update(context.Background(), "coach_2", "plan_1", UpdatePlanInput{PriceCents: int64Ptr(1)})
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("unknown plan", func(t *testing.T) {
		svc, repo, _ := newPlanFixture(t)
		repo.On("GetByID", mock.Anything, "nope").Return(nil, repository.ErrNotFound).Once()
		_, err := svc.Update(context.Background(), "coach_1", "nope", UpdatePlanInput{})
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("bad interval", func(t *testing.T) {
		svc, repo, _ := newPlanFixture(t)
		repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
		bad := models.BillingInterval("fortnight")
		_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{Interval: &bad})
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("features not an array", func(t *testing.T) {
		svc, repo, _ := newPlanFixture(t)
		repo.On("GetByID", mock.Anything, "plan_1").Return(monthlyPlan(), nil).Once()
		_, err := svc.Update(context.Background(), "coach_1", "plan_1", UpdatePlanInput{Features: json.RawMessage(`{"a":1}`)})
		assert.ErrorIs(t, err, ErrInvalidPlan)
	})
}

func TestCreatePlan(t *testing.T) {
	svc, repo, sc := newPlanFixture(t)
	sc.On("CreateProduct", mock.Anything, "Monthly coaching", "coach_1").Return("prod_1", nil).Once()
	sc.On("CreatePrice", mock.Anything, mock.MatchedBy(func(spec stripe.PriceSpec) bool {
		return spec.ProductID == "prod_1" && spec.UnitAmount == 2900 && spec.Currency == "eur" &&
			spec.Interval == models.IntervalMonth && spec.IntervalCount == 1 && spec.PlanID != ""
	})).Return("price_1", nil).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Plan) bool {
		return p.StripeProductID == "prod_1" && p.StripePriceID == "price_1" && p.IsActive && string(p.Features) == "[]"
	})).Return(nil).Once()

	plan, err := svc.Create(context.Background(), CreatePlanInput{
		CoachID:    "coach_1",
		Name:       "Monthly coaching",
		PriceCents: 2900,
		Currency:   "EUR",
		Interval:   models.IntervalMonth,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "eur", plan.Currency)
}

func TestCreatePlan_InvalidInterval(t *testing.T) {
	svc, _, _ := newPlanFixture(t)
	_, err := svc.Create(context.Background(), CreatePlanInput{CoachID: "coach_1", Name: "x", Interval: "hourly"})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCreatePlan_FailureLogsStripeObjects(t *testing.T) {
	input := CreatePlanInput{
		CoachID:    "coach_1",
		Name:       "Monthly coaching",
		PriceCents: 2900,
		Currency:   "usd",
		Interval:   models.IntervalMonth,
	}

	t.Run("price creation fails", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		repo, sc := &mockPlanRepo{}, &mockStripe{}
		svc := NewPlanService(repo, sc, nil, logger.NewWithCore(core))
		sc.On("CreateProduct", mock.Anything, "Monthly coaching", "coach_1").Return("prod_1", nil).Once()
		sc.On("CreatePrice", mock.Anything, mock.Anything).Return("", errors.New("rate limited")).Once()

		_, err := svc.Create(context.Background(), input)
		require.ErrorIs(t, err, ErrStripeClient)

		entries := logs.FilterLevelExact(zap.ErrorLevel).All()
		require.Len(t, entries, 1)
		assert.Equal(t, "prod_1", entries[0].ContextMap()["productID"])
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		sc.AssertExpectations(t)
	})

	t.Run("row insert fails", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		repo, sc := &mockPlanRepo{}, &mockStripe{}
		svc := NewPlanService(repo, sc, nil, logger.NewWithCore(core))
		sc.On("CreateProduct", mock.Anything, "Monthly coaching", "coach_1").Return("prod_1", nil).Once()
		sc.On("CreatePrice", mock.Anything, mock.Anything).Return("price_1", nil).Once()
		repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

		_, err := svc.Create(context.Background(), input)
		require.Error(t, err)

		entries := logs.FilterLevelExact(zap.ErrorLevel).All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "prod_1", fields["productID"])
		assert.Equal(t, "price_1", fields["priceID"])
		repo.AssertExpectations(t)
		sc.AssertExpectations(t)
	})
}
