// Package notify рассылает best-effort уведомления о смене состояния подписки:
// POST на revalidate endpoint веб-приложения и событие в Kafka.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/kafka"
	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/internal/models"
	"github.com/Dhoini/Coaching-billing-service/pkg/goroutine"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
)

// Change что изменилось у пользователя.
type Change struct {
	UserID         string
	SubscriptionID string
	PlanID         string
	Status         models.SubscriptionStatus
}

// Notifier отправляет уведомление и сразу возвращает управление.
type Notifier interface {
	Notify(change Change)
}

// CacheInvalidator сбрасывает закешированный доступ пользователя.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Options настройки Revalidator.
type Options struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries uint64
	// Cache локальный кеш доступа, сбрасывается до HTTP и Kafka.
	Cache      CacheInvalidator
}

// Revalidator реализует Notifier. Ошибки доставки только логируются.
type Revalidator struct {
	url        string
	secret     string
	maxRetries uint64
	// стартовый интервал backoff, в тестах уменьшается
	initialInterval time.Duration

	httpClient *http.Client
	cache      CacheInvalidator
	producer   kafka.Producer
	metrics    metrics.BillingMetrics
	log        *logger.Logger

	inflight sync.WaitGroup
}

// NewRevalidator создает уведомитель. Пустой URL отключает HTTP часть, nil producer отключает Kafka, nil Cache отключает локальный сброс кеша.
func NewRevalidator(opts Options, producer kafka.Producer, m metrics.BillingMetrics, log *logger.Logger) *Revalidator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if opts.URL == "" {
		log.Warnw("Revalidation URL is empty, HTTP cache invalidation disabled")
	}

	return &Revalidator{
		url:             opts.URL,
		secret:          opts.Secret,
		maxRetries:      opts.MaxRetries,
		initialInterval: 200 * time.Millisecond,
		httpClient:      &http.Client{Timeout: opts.Timeout},
		cache:           opts.Cache,
		producer:        producer,
		metrics:         m,
		log:             log,
	}
}

// Notify не ждет доставки: результат вызывающему не важен.
func (r *Revalidator) Notify(change Change) {
	if change.UserID == "" {
		r.log.Warnw("Notification skipped: empty user id", "subscriptionID", change.SubscriptionID)
		return
	}

	r.inflight.Add(1)
	goroutine.SafeGo(r.log, "revalidate", func() {
		defer r.inflight.Done()
		r.deliver(change)
	})
}

// Wait ждет завершения запущенных уведомлений (graceful shutdown).
func (r *Revalidator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Revalidator) deliver(change Change) {
	ctx, cancel := context.WithTimeout(context.Background(), r.httpClient.Timeout*time.Duration(r.maxRetries+1))
	defer cancel()

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, change.UserID); err != nil {
			r.metrics.IncNotification("cache", "failed")
			r.log.Errorw("Entitlement cache invalidation failed", "error", err, "userID", change.UserID)
		} else {
			r.metrics.IncNotification("cache", "ok")
		}
	}

	if r.url != "" {
		if err := r.revalidate(ctx, change.UserID); err != nil {
			r.metrics.IncNotification("http", "failed")
			r.log.Errorw("Cache revalidation failed", "error", err, "userID", change.UserID)
		} else {
			r.metrics.IncNotification("http", "ok")
		}
	}

	if r.producer != nil {
		err := r.producer.PublishSubscriptionChanged(ctx, kafka.SubscriptionChanged{
			UserID:         change.UserID,
			SubscriptionID: change.SubscriptionID,
			PlanID:         change.PlanID,
			Status:         string(change.Status),
		})
		if err != nil {
			r.metrics.IncNotification("kafka", "failed")
			r.log.Errorw("Failed to publish subscription change", "error", err, "userID", change.UserID)
		} else {
			r.metrics.IncNotification("kafka", "ok")
		}
	}
}

type revalidateRequest struct {
	Secret string `json:"secret"`
	UserID string `json:"user_id"`
}

func (r *Revalidator) revalidate(ctx context.Context, userID string) error {
	body, err := json.Marshal(revalidateRequest{Secret: r.secret, UserID: userID})
	if err != nil {
		return fmt.Errorf("notify: failed to marshal request: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("notify: failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			r.log.Warnw("Revalidation request failed, retrying", "error", err, "userID", userID, "attempt", attempt)
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			r.log.Debugw("Cache revalidated", "userID", userID, "attempt", attempt)
			return nil
		case resp.StatusCode == http.StatusNotFound:
			// подписка уже не активна, кеш при этом сброшен
			r.log.Infow("Revalidation: no active subscription", "userID", userID)
			return nil
		case resp.StatusCode >= 500:
			r.log.Warnw("Revalidation endpoint error, retrying", "status", resp.StatusCode, "userID", userID, "attempt", attempt)
			return fmt.Errorf("notify: revalidation endpoint returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("notify: revalidation rejected with status %d", resp.StatusCode))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
}
