// Package api wires the HTTP surface: route registration, middleware
// attachment, and CORS.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/email"
	"github.com/parleychat/parley/internal/http/api/handlers"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/storage"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Store               storage.Store
	Middleware          *auth.Middleware
	Emailer             email.Sender
	LLM                 *llm.Client
	Limiter             *ratelimit.Manager
	RequireVerification bool
}

// NewEngine builds the gin engine with all routes registered.
func NewEngine(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	RegisterRoutes(engine, deps)
	return engine
}

// RegisterRoutes registers all API routes and their middleware.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	healthHandler := handlers.NewHealthHandler(deps.Store)
	r.GET("/healthz", healthHandler.Healthz)

	apiGroup := r.Group("/api")

	authHandler := handlers.NewAuthHandler(deps.Store, deps.Middleware, deps.Emailer, deps.RequireVerification)
	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/verify-otp", authHandler.VerifyOTP)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", deps.Middleware.RequireSession(), authHandler.Me)
	authGroup.DELETE("/account", deps.Middleware.RequireSession(), authHandler.DeleteAccount)

	sessionHandler := handlers.NewSessionHandler(deps.Store)
	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.Use(deps.Middleware.OptionalIdentity())
	sessionGroup.GET("", sessionHandler.List)
	sessionGroup.POST("", sessionHandler.Create)
	sessionGroup.GET("/:id", sessionHandler.Get)
	sessionGroup.GET("/:id/messages", sessionHandler.Messages)

	messageGroup := apiGroup.Group("/messages")
	messageGroup.Use(deps.Middleware.OptionalIdentity())
	messageGroup.POST("", sessionHandler.CreateMessage)

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.Store)
	keyGroup := apiGroup.Group("/keys")
	keyGroup.Use(deps.Middleware.RequireSession())
	keyGroup.GET("", apiKeyHandler.List)
	keyGroup.POST("", apiKeyHandler.Create)
	keyGroup.DELETE("/:id", apiKeyHandler.Delete)

	completionHandler := handlers.NewCompletionHandler(deps.Store, deps.LLM, deps.Limiter)
	apiGroup.POST("/chat/completions", deps.Middleware.OptionalIdentity(), completionHandler.Complete)
}

// corsMiddleware enables permissive CORS for browser clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+handlers.AnonymousSessionHeader)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
