package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ebailine/sivio/api/internal/auth"
	"github.com/ebailine/sivio/api/internal/config"
	"github.com/ebailine/sivio/api/internal/handler"
	middlewarepkg "github.com/ebailine/sivio/api/internal/middleware"
)

// Handlers aggregates HTTP handlers used by the router.
type Handlers struct {
	Contacts *handler.ContactsHandler
	Cache    *handler.CacheHandler
}

// Register wires all HTTP routes for the API.
func Register(e *echo.Echo, cfg *config.Config, jwtManager *auth.JWTManager, handlers Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return handler.Success(c, http.StatusOK, "service healthy", map[string]any{"status": "ok"})
	})

	secured := e.Group("")
	secured.Use(middlewarepkg.JWT(jwtManager))

	secured.POST("/contacts/search", handlers.Contacts.Search, middlewarepkg.RateLimiter(cfg.RateLimitDiscover))
	secured.GET("/cache/stats", handlers.Cache.Stats)

	admin := secured.Group("/admin", middlewarepkg.RequireRole(auth.RoleAdmin))
	admin.DELETE("/cache/:domain", handlers.Cache.Invalidate)
	admin.POST("/cache/cleanup", handlers.Cache.Cleanup)
}
