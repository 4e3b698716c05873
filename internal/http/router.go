package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/handler"
	httpmiddleware "github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/middleware"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/middleware"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, counter ratelimit.Counter, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	loginThrottle := httpmiddleware.LoginThrottle(counter, ratelimit.LoginKey, cfg.LoginRateLimit, cfg.LoginRateWindow)
	resetThrottle := httpmiddleware.LoginThrottle(counter, ratelimit.ResetRequestKey, cfg.LoginRateLimit, cfg.LoginRateWindow)
	requireToken := authMiddleware.RequireAccessToken(cfg.Cookies.AccessName)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", loginThrottle, authHandler.Login)
		authGroup.POST("/logout", authHandler.Logout)

		reset := authGroup.Group("/password-reset")
		{
			reset.POST("/request", resetThrottle, authHandler.PasswordResetRequest)
			reset.POST("/confirm", authHandler.PasswordResetConfirm)
		}

		authGroup.GET("/me", requireToken, authHandler.Me)
		authGroup.GET("/sessions", requireToken, authHandler.Sessions)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "error": "Method not allowed."})
	})

	return r
}
