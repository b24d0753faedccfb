package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v78"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)

	// Сколько времени дается на сверку одного события
	dispatchTimeout = 30 * time.Second
)

// EventVerifier проверяет подпись Stripe.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

// EventDispatcher передает событие обработчику; handled=false для неизвестных типов.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event) (handled bool, err error)
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	metrics    metrics.BillingMetrics
	log        *logger.Logger
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, m metrics.BillingMetrics, log *logger.Logger) *WebhookHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		metrics:    m,
		log:        log,
	}
}

// HandleStripeWebhook отвечает 400 только на проблемы с подписью или телом.
// Ошибки обработки логируются, но Stripe всегда получает 200, иначе он будет повторять доставку.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Warnw("Failed to read webhook request body", "error", err)
		h.reject(c, "Cannot read request body")
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		h.reject(c, "Missing Stripe-Signature header")
		return
	}

	event, err := h.verifier.VerifyEvent(payload, sigHeader)
	if err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err)
		h.reject(c, "Webhook signature verification failed")
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", string(event.Type))

	// отключение Stripe от соединения не должно прерывать запись в БД
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), dispatchTimeout)
	defer cancel()

	start := time.Now()
	handled, err := h.dispatch(ctx, event)
	h.metrics.ObserveWebhookDuration(string(event.Type), time.Since(start))

	switch {
	case err != nil:
		h.metrics.IncWebhookEvent(string(event.Type), metrics.OutcomeFailed)
		h.log.Errorw("Error processing webhook event", "error", err, "eventID", event.ID, "eventType", string(event.Type))
	case !handled:
		h.metrics.IncWebhookEvent(string(event.Type), metrics.OutcomeIgnored)
	default:
		h.metrics.IncWebhookEvent(string(event.Type), metrics.OutcomeProcessed)
		h.log.Infow("Successfully processed webhook event", "eventID", event.ID, "eventType", string(event.Type))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// dispatch превращает панику обработчика в ошибку.
func (h *WebhookHandler) dispatch(ctx context.Context, event stripe.Event) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = true
			err = fmt.Errorf("panic while handling %s: %v", event.Type, r)
		}
	}()
	return h.dispatcher.Dispatch(ctx, event)
}

func (h *WebhookHandler) reject(c *gin.Context, message string) {
	h.metrics.IncWebhookEvent("unknown", metrics.OutcomeRejected)
	res.JsonResponse(c.Writer, res.ErrorResponse{Error: message}, http.StatusBadRequest)
	c.Abort()
}
