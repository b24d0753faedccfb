package routes

import (
	"github.com/Dhoini/Coaching-billing-service/internal/app"
	"github.com/Dhoini/Coaching-billing-service/internal/middleware"
	"github.com/Dhoini/Coaching-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	router.GET("/health", app.HealthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		// Публичные маршруты: Stripe подписывает тело, revalidate защищен общим секретом
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)
		api.POST("/revalidate", app.EntitlementHandler.Revalidate)

		// Клиент
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())
		{
			auth.GET("/entitlement", app.EntitlementHandler.Get)
			auth.POST("/checkout", app.CheckoutHandler.CreateSession)
			auth.POST("/cancellation-requests", app.CancellationHandler.Create)
		}

		// Коуч
		coach := api.Group("/coach")
		coach.Use(app.AuthMiddleware.RequireAuth(middleware.ScopeCoach))
		{
			coach.GET("/plans", app.PlanHandler.List)
			coach.POST("/plans", app.PlanHandler.Create)
			coach.PATCH("/plans/:id", app.PlanHandler.Update)

			coach.GET("/cancellation-requests", app.CancellationHandler.ListPending)
			coach.POST("/cancellation-requests/:id/action", app.CancellationHandler.Act)
		}
	}

	log.Infow("API routes successfully configured")
}
