package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Dhoini/Coaching-billing-service/internal/metrics"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	event stripe.Event
	err   error
	calls int
}

func (f *fakeVerifier) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	f.calls++
	return f.event, f.err
}

type fakeDispatcher struct {
	handled bool
	err     error
	panics  bool
	calls   int
	ctxErr  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event stripe.Event) (bool, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	if f.panics {
		panic("boom")
	}
	return f.handled, f.err
}

type recordingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, eventType+":"+outcome)
}

func newObservedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return logger.NewWithCore(core), logs
}

func TestWebhookHandler(t *testing.T) {
	verified := stripe.Event{ID: "evt_1", Type: "customer.subscription.updated"}

	tests := []struct {
		name           string
		signature      string
		body           []byte
		verifier       *fakeVerifier
		dispatcher     *fakeDispatcher
		wantStatus     int
		wantDispatched bool
		wantOutcome    string
		wantErrorLogs  int
	}{
		{
			name:        "missing signature",
			body:        []byte(`{}`),
			verifier:    &fakeVerifier{event: verified},
			dispatcher:  &fakeDispatcher{handled: true},
			wantStatus:  http.StatusBadRequest,
			wantOutcome: "unknown:" + metrics.OutcomeRejected,
		},
		{
			name:        "tampered payload",
			signature:   "t=1,v1=deadbeef",
			body:        []byte(`{"id":"evt_1"}`),
			verifier:    &fakeVerifier{err: errors.New("webhook has invalid signature")},
			dispatcher:  &fakeDispatcher{handled: true},
			wantStatus:  http.StatusBadRequest,
			wantOutcome: "unknown:" + metrics.OutcomeRejected,
		},
		{
			name:           "processed",
			signature:      "t=1,v1=ok",
			body:           []byte(`{"id":"evt_1"}`),
			verifier:       &fakeVerifier{event: verified},
			dispatcher:     &fakeDispatcher{handled: true},
			wantStatus:     http.StatusOK,
			wantDispatched: true,
			wantOutcome:    "customer.subscription.updated:" + metrics.OutcomeProcessed,
		},
		{
			name:           "unknown event type acknowledged",
			signature:      "t=1,v1=ok",
			body:           []byte(`{"id":"evt_1"}`),
			verifier:       &fakeVerifier{event: stripe.Event{ID: "evt_2", Type: "invoice.created"}},
			dispatcher:     &fakeDispatcher{handled: false},
			wantStatus:     http.StatusOK,
			wantDispatched: true,
			wantOutcome:    "invoice.created:" + metrics.OutcomeIgnored,
		},
		{
			name:           "dispatch error still acknowledged",
			signature:      "t=1,v1=ok",
			body:           []byte(`{"id":"evt_1"}`),
			verifier:       &fakeVerifier{event: verified},
			dispatcher:     &fakeDispatcher{handled: true, err: errors.New("db down")},
			wantStatus:     http.StatusOK,
			wantDispatched: true,
			wantOutcome:    "customer.subscription.updated:" + metrics.OutcomeFailed,
			wantErrorLogs:  1,
		},
		{
			name:           "dispatch panic still acknowledged",
			signature:      "t=1,v1=ok",
			body:           []byte(`{"id":"evt_1"}`),
			verifier:       &fakeVerifier{event: verified},
			dispatcher:     &fakeDispatcher{panics: true},
			wantStatus:     http.StatusOK,
			wantDispatched: true,
			wantOutcome:    "customer.subscription.updated:" + metrics.OutcomeFailed,
			wantErrorLogs:  1,
		},
		{
			name:        "body too large",
			signature:   "t=1,v1=ok",
			body:        bytes.Repeat([]byte("a"), int(maxRequestBodySize)+1),
			verifier:    &fakeVerifier{event: verified},
			dispatcher:  &fakeDispatcher{handled: true},
			wantStatus:  http.StatusBadRequest,
			wantOutcome: "unknown:" + metrics.OutcomeRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, logs := newObservedLogger()
			m := &recordingMetrics{}
			h := NewWebhookHandler(tt.verifier, tt.dispatcher, m, log)

			router := gin.New()
			router.POST("/webhooks/stripe", h.HandleStripeWebhook)

			r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(tt.body))
			if tt.signature != "" {
				r.Header.Set("Stripe-Signature", tt.signature)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantDispatched, tt.dispatcher.calls == 1)
			assert.Equal(t, []string{tt.wantOutcome}, m.outcomes)
			assert.Equal(t, tt.wantErrorLogs, logs.FilterLevelExact(zap.ErrorLevel).Len())
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, w.Body.String())
			}
		})
	}
}

func TestWebhookHandler_DispatchSurvivesClientDisconnect(t *testing.T) {
	verifier := &fakeVerifier{event: stripe.Event{ID: "evt_1", Type: "checkout.session.completed"}}
	dispatcher := &fakeDispatcher{handled: true}
	h := NewWebhookHandler(verifier, dispatcher, nil, logger.NewNop())

	router := gin.New()
	router.POST("/webhooks/stripe", h.HandleStripeWebhook)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)).WithContext(ctx)
	r.Header.Set("Stripe-Signature", "t=1,v1=ok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, 1, dispatcher.calls)
	assert.NoError(t, dispatcher.ctxErr)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookHandler_PassesRawBody(t *testing.T) {
	body := []byte(`{"id":"evt_1",  "type":"checkout.session.completed"}`)
	var got []byte
	verifier := verifierFunc(func(payload []byte, signature string) (stripe.Event, error) {
		got = payload
		assert.Equal(t, "t=1,v1=sig", signature)
		return stripe.Event{}, errors.New("stop")
	})
	h := NewWebhookHandler(verifier, &fakeDispatcher{}, nil, logger.NewNop())

	router := gin.New()
	router.POST("/webhooks/stripe", h.HandleStripeWebhook)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	r.Header.Set("Stripe-Signature", "t=1,v1=sig")
	router.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, body, got)
}

type verifierFunc func(payload []byte, signature string) (stripe.Event, error)

func (f verifierFunc) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	return f(payload, signature)
}

