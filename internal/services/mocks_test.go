package services

import (
	"context"
	"sync"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/notify"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/internal/stripe"
	"github.com/stretchr/testify/mock"
	stripego "github.com/stripe/stripe-go/v78"
)

// --- stripe.Client ---

type mockStripe struct {
	mock.Mock
}

func (m *mockStripe) VerifyEvent(payload []byte, signature string) (stripego.Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(stripego.Event), args.Error(1)
}

func (m *mockStripe) GetSubscription(ctx context.Context, subscriptionID string) (*stripego.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*stripego.Subscription)
	return sub, args.Error(1)
}

func (m *mockStripe) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*stripego.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*stripego.Subscription)
	return sub, args.Error(1)
}

func (m *mockStripe) RefundLatestCharge(ctx context.Context, subscriptionID string, amountCents int64, idempotencyKey string) (string, error) {
	args := m.Called(ctx, subscriptionID, amountCents, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *mockStripe) CreateProduct(ctx context.Context, name, coachID string) (string, error) {
	args := m.Called(ctx, name, coachID)
	return args.String(0), args.Error(1)
}

func (m *mockStripe) UpdateProductName(ctx context.Context, productID, name string) error {
	return m.Called(ctx, productID, name).Error(0)
}

func (m *mockStripe) CreatePrice(ctx context.Context, spec stripe.PriceSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *mockStripe) ArchivePrice(ctx context.Context, priceID string) error {
	return m.Called(ctx, priceID).Error(0)
}

func (m *mockStripe) CreateCheckoutSession(ctx context.Context, spec stripe.CheckoutSpec) (*stripego.CheckoutSession, error) {
	args := m.Called(ctx, spec)
	session, _ := args.Get(0).(*stripego.CheckoutSession)
	return session, args.Error(1)
}

// --- repository.PlanRepository ---

type mockPlanRepo struct {
	mock.Mock
}

func (m *mockPlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	return m.Called(ctx, plan).Error(0)
}

func (m *mockPlanRepo) GetByID(ctx context.Context, planID string) (*models.Plan, error) {
	args := m.Called(ctx, planID)
	plan, _ := args.Get(0).(*models.Plan)
	return plan, args.Error(1)
}

func (m *mockPlanRepo) ListByCoach(ctx context.Context, coachID string) ([]models.Plan, error) {
	args := m.Called(ctx, coachID)
	plans, _ := args.Get(0).([]models.Plan)
	return plans, args.Error(1)
}

func (m *mockPlanRepo) Update(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error) {
	args := m.Called(ctx, planID, upd)
	plan, _ := args.Get(0).(*models.Plan)
	return plan, args.Error(1)
}

// --- repository.CancellationRepository ---

type mockCancellationRepo struct {
	mock.Mock
}

func (m *mockCancellationRepo) Create(ctx context.Context, req *models.CancellationRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockCancellationRepo) GetByID(ctx context.Context, id string) (*models.CancellationRequest, error) {
	args := m.Called(ctx, id)
	req, _ := args.Get(0).(*models.CancellationRequest)
	return req, args.Error(1)
}

func (m *mockCancellationRepo) ListPendingByCoach(ctx context.Context, coachID string) ([]models.CancellationRequest, error) {
	args := m.Called(ctx, coachID)
	reqs, _ := args.Get(0).([]models.CancellationRequest)
	return reqs, args.Error(1)
}

func (m *mockCancellationRepo) Resolve(ctx context.Context, id string, decision models.CancellationDecision) error {
	return m.Called(ctx, id, decision).Error(0)
}

// --- in-memory repository.SubscriptionRepository ---

// fakeSubRepo повторяет семантику SQL: Upsert по id, Update только существующей строки.
type fakeSubRepo struct {
	mu        sync.Mutex
	rows      map[string]models.Subscription
	upsertErr error
	reads     int
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{rows: map[string]models.Subscription{}}
}

func (f *fakeSubRepo) Upsert(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[sub.ID] = *sub
	return nil
}

func (f *fakeSubRepo) Update(_ context.Context, id string, upd models.SubscriptionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if upd.Status != nil {
		row.Status = *upd.Status
	}
	if upd.CurrentPeriodEnd != nil {
		row.CurrentPeriodEnd = upd.CurrentPeriodEnd
	}
	if upd.PlanID != nil {
		row.PlanID = *upd.PlanID
	}
	if upd.CancelAtPeriodEnd != nil {
		row.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	f.rows[id] = row
	return nil
}

func (f *fakeSubRepo) find(_ context.Context, id string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (f *fakeSubRepo) GetActiveByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	for _, row := range f.rows {
		if row.UserID == userID && row.Status.Entitled() {
			r := row
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

// --- notify.Notifier ---

type recordingNotifier struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (n *recordingNotifier) Notify(change notify.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
}

func (n *recordingNotifier) all() []notify.Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Change(nil), n.changes...)
}
