package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taxi/internal/handler"
	"taxi/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler *handler.BookingHandler
	PaynowHandler  *handler.PaynowHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
	Logger         logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Gateway callbacks and browser return/poll.
	paynow := router.Group("/paynow")
	{
		paynow.POST("/result", deps.PaynowHandler.Result)
		paynow.GET("/return", deps.PaynowHandler.Return)
		paynow.GET("/poll/:id", deps.PaynowHandler.Poll)
	}

	// API routes.
	api := router.Group("/api")
	api.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))
	{
		api.POST("/price", deps.BookingHandler.Quote)
		api.POST("/bookings", deps.BookingHandler.CreateBooking)
		api.GET("/bookings/:id", deps.BookingHandler.GetBooking)
	}

	return router
}
