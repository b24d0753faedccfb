package services

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/internal/repository"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
)

// EntitlementService отвечает на вопрос "есть ли у пользователя доступ" с кешем в Redis.
type EntitlementService struct {
	subRepo repository.SubscriptionRepository
	cache   repository.EntitlementCache
	secret  string
	log     *logger.Logger
}

// NewEntitlementService конструктор сервиса. secret общий секрет revalidate endpoint.
func NewEntitlementService(subRepo repository.SubscriptionRepository, cache repository.EntitlementCache, secret string, log *logger.Logger) *EntitlementService {
	return &EntitlementService{
		subRepo: subRepo,
		cache:   cache,
		secret:  secret,
		log:     log,
	}
}

// Get читает кеш, при промахе идет в БД. Ошибки Redis не ломают ответ.
func (s *EntitlementService) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	cached, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.log.Warnw("Entitlement cache read failed, falling back to DB", "error", err, "userID", userID)
	}
	if cached != nil {
		return cached, nil
	}

	ent, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, ent); err != nil {
		s.log.Warnw("Failed to cache entitlement", "error", err, "userID", userID)
	}
	return ent, nil
}

// Revalidate сбрасывает кеш пользователя и перечитывает подписку.
// ErrSubscriptionNotFound, если активной подписки нет.
func (s *EntitlementService) Revalidate(ctx context.Context, secret, userID string) (*models.Entitlement, error) {
	if s.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		s.log.Warnw("Revalidation rejected: secret mismatch", "userID", userID)
		return nil, ErrInvalidSecret
	}

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.log.Warnw("Failed to invalidate entitlement cache", "error", err, "userID", userID)
	}

	ent, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, ent); err != nil {
		s.log.Warnw("Failed to cache entitlement", "error", err, "userID", userID)
	}

	if !ent.Entitled {
		return nil, ErrSubscriptionNotFound
	}

	s.log.Infow("Entitlement revalidated", "userID", userID, "status", string(ent.Status))
	return ent, nil
}

func (s *EntitlementService) load(ctx context.Context, userID string) (*models.Entitlement, error) {
	sub, err := s.subRepo.GetActiveByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.Entitlement{UserID: userID}, nil
		}
		return nil, err
	}

	return &models.Entitlement{
		UserID:           userID,
		Entitled:         sub.Status.Entitled(),
		SubscriptionID:   sub.ID,
		PlanID:           sub.PlanID,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}
