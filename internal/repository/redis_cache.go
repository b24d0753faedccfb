package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей для кеша доступа пользователя
	entitlementKeyPrefix = "entitlement:"

	defaultCacheTTL = 5 * time.Minute
)

// EntitlementCache кеш ответа "есть ли у пользователя доступ".
type EntitlementCache interface {
	Get(ctx context.Context, userID string) (*models.Entitlement, error)
	Set(ctx context.Context, ent *models.Entitlement) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisCacheRepository реализует кеширование с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Errorw("Failed to connect to Redis", "error", err, "addr", addr)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

// NewRedisCacheRepository создает новый экземпляр Redis кеша. ttl <= 0 означает значение по умолчанию.
func NewRedisCacheRepository(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func entitlementKey(userID string) string {
	return entitlementKeyPrefix + userID
}

// Get возвращает (nil, nil), если ключа нет в кеше.
func (r *RedisCacheRepository) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	data, err := r.client.Get(ctx, entitlementKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.Debugw("Entitlement not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting entitlement from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get entitlement from cache: %w", err)
	}

	var ent models.Entitlement
	if err := json.Unmarshal(data, &ent); err != nil {
		r.log.Errorw("Failed to unmarshal cached entitlement", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached entitlement: %w", err)
	}
	return &ent, nil
}

// Set кеширует результат проверки доступа
func (r *RedisCacheRepository) Set(ctx context.Context, ent *models.Entitlement) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("failed to marshal entitlement: %w", err)
	}

	if err := r.client.Set(ctx, entitlementKey(ent.UserID), data, r.ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache entitlement in Redis", "error", err, "userID", ent.UserID)
		return fmt.Errorf("failed to cache entitlement: %w", err)
	}
	return nil
}

// Invalidate удаляет кеш доступа пользователя
func (r *RedisCacheRepository) Invalidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, entitlementKey(userID)).Err(); err != nil {
		r.log.Errorw("Failed to invalidate entitlement cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}

	r.log.Debugw("Entitlement cache invalidated", "userID", userID)
	return nil
}

// NopEntitlementCache используется, когда Redis недоступен: каждый запрос идет в БД.
type NopEntitlementCache struct{}

func (NopEntitlementCache) Get(context.Context, string) (*models.Entitlement, error) { return nil, nil }
func (NopEntitlementCache) Set(context.Context, *models.Entitlement) error           { return nil }
func (NopEntitlementCache) Invalidate(context.Context, string) error                 { return nil }
