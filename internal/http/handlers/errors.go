package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Coaching-billing-service/internal/services"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/Dhoini/Coaching-billing-service/pkg/res"

	"github.com/gin-gonic/gin"
)

// serviceErrors сопоставление ошибок сервисного слоя с HTTP статусами.
var serviceErrors = []struct {
	err    error
	status int
}{
	{services.ErrSubscriptionNotFound, http.StatusNotFound},
	{services.ErrPlanNotFound, http.StatusNotFound},
	{services.ErrRequestNotFound, http.StatusNotFound},
	{services.ErrRequestAlreadyProcessed, http.StatusConflict},
	{services.ErrRequestAlreadyPending, http.StatusConflict},
	{services.ErrInvalidAction, http.StatusBadRequest},
	{services.ErrInvalidRefund, http.StatusBadRequest},
	{services.ErrInvalidCounterOffer, http.StatusBadRequest},
	{services.ErrInvalidPlan, http.StatusBadRequest},
	{services.ErrInvalidSecret, http.StatusUnauthorized},
	{services.ErrMissingMetadata, http.StatusUnprocessableEntity},
	{services.ErrStripeClient, http.StatusBadGateway},
}

// writeServiceError отвечает статусом, соответствующим ошибке. Неизвестные ошибки - 500 без деталей.
func writeServiceError(c *gin.Context, log *logger.Logger, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: err.Error(), ErrorCode: m.status}, m.status, log)
			c.Abort()
			return
		}
	}

	log.Errorw("Unexpected error in handler", "error", err, "path", c.Request.URL.Path)
	res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error", ErrorCode: http.StatusInternalServerError}, http.StatusInternalServerError)
	c.Abort()
}
