package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	PlanID string `json:"plan_id" validate:"required"`
	Count  int    `json:"count" validate:"gte=0"`
}

func TestHandleBody(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"plan_id":"p1","count":2}`))
		rec := httptest.NewRecorder()

		body, err := HandleBody[sample](rec, r, logger.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "p1", body.PlanID)
		assert.Equal(t, 2, body.Count)
	})

	t.Run("malformed json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"plan_id":`))
		rec := httptest.NewRecorder()

		body, err := HandleBody[sample](rec, r, logger.NewNop())
		assert.Error(t, err)
		assert.Nil(t, body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("missing required field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"count":1}`))
		rec := httptest.NewRecorder()

		body, err := HandleBody[sample](rec, r, logger.NewNop())
		assert.Error(t, err)
		assert.Nil(t, body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid request data")
	})
}
