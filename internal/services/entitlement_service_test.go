package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/notify"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEntitlementFixture(t *testing.T) (*EntitlementService, *fakeSubRepo, *repository.RedisCacheRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	subs := newFakeSubRepo()
	cache := repository.NewRedisCacheRepository(client, time.Minute, logger.NewNop())
	return NewEntitlementService(subs, cache, "s3cret", logger.NewNop()), subs, cache, mr
}

func TestEntitlementGet_CachesDBResult(t *testing.T) {
	svc, subs, _, mr := newEntitlementFixture(t)
	subs.rows["sub_1"] = models.Subscription{ID: "sub_1", UserID: "user_1", PlanID: "plan_1", Status: models.StatusActive}

	ent, err := svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, ent.Entitled)
	assert.Equal(t, "plan_1", ent.PlanID)
	assert.True(t, mr.Exists("entitlement:user_1"))

	_, err = svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, 1, subs.reads, "second read is served from cache")
}

func TestEntitlementGet_NoSubscription(t *testing.T) {
	svc, _, _, _ := newEntitlementFixture(t)

	ent, err := svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.False(t, ent.Entitled)
}

func TestEntitlementGet_RedisDown(t *testing.T) {
	svc, subs, _, mr := newEntitlementFixture(t)
	subs.rows["sub_1"] = models.Subscription{ID: "sub_1", UserID: "user_1", Status: models.StatusTrialing}
	mr.Close()

	ent, err := svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, ent.Entitled)
}

func TestRevalidate(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		svc, _, cache, _ := newEntitlementFixture(t)
		stale := &models.Entitlement{UserID: "user_1", Entitled: true}
		require.NoError(t, cache.Set(context.Background(), stale))

		_, err := svc.Revalidate(context.Background(), "guess", "user_1")
		assert.ErrorIs(t, err, ErrInvalidSecret)

		got, err := cache.Get(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, stale, got, "cache untouched")
	})

	t.Run("replaces stale cache", func(t *testing.T) {
		svc, subs, cache, _ := newEntitlementFixture(t)
		require.NoError(t, cache.Set(context.Background(), &models.Entitlement{UserID: "user_1", Entitled: false}))
		subs.rows["sub_1"] = models.Subscription{ID: "sub_1", UserID: "user_1", PlanID: "plan_1", Status: models.StatusActive}

		ent, err := svc.Revalidate(context.Background(), "s3cret", "user_1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, ent.Status)
		assert.Equal(t, "plan_1", ent.PlanID)

		got, err := cache.Get(context.Background(), "user_1")
		require.NoError(t, err)
		assert.True(t, got.Entitled)
	})

	t.Run("no active subscription", func(t *testing.T) {
		svc, subs, _, _ := newEntitlementFixture(t)
		subs.rows["sub_1"] = models.Subscription{ID: "sub_1", UserID: "user_1", Status: models.StatusCanceled}

		_, err := svc.Revalidate(context.Background(), "s3cret", "user_1")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func TestReconciliationDropsCachedEntitlement(t *testing.T) {
	svc, subs, cache, _ := newEntitlementFixture(t)
	sc := &mockStripe{}
	sc.On("GetSubscription", mock.Anything, "sub_1").
		Return(stripeSubscription(map[string]string{"plan_id": "plan_1", "user_id": "user_1"}), nil).Once()

	before, err := svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	require.False(t, before.Entitled)

	revalidator := notify.NewRevalidator(notify.Options{Cache: cache}, nil, nil, logger.NewNop())
	r := NewReconciler(subs, sc, revalidator, logger.NewNop())

	_, err = r.Dispatch(context.Background(), checkoutEvent(t, defaultCheckout()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, revalidator.Wait(ctx))

	after, err := svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, after.Entitled)
	assert.Equal(t, "plan_1", after.PlanID)
	sc.AssertExpectations(t)
}
