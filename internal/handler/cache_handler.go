package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ebailine/sivio/api/internal/dto"
	"github.com/ebailine/sivio/api/internal/entity"
	"github.com/ebailine/sivio/api/internal/repository"
	"github.com/ebailine/sivio/api/internal/service"
)

const maxStatsWindowDays = 365

// CacheAdmin reports on and maintains the discovery caches.
type CacheAdmin interface {
	CacheStats(ctx context.Context, windowDays int) (*entity.CacheStats, error)
	Invalidate(ctx context.Context, domain string) (entity.CleanupResult, error)
	CleanupExpired(ctx context.Context) (entity.CleanupResult, error)
}

// CacheHandler exposes cache statistics and admin maintenance endpoints.
type CacheHandler struct {
	admin CacheAdmin
}

// NewCacheHandler creates a new handler instance.
func NewCacheHandler(admin CacheAdmin) *CacheHandler {
	return &CacheHandler{admin: admin}
}

// Stats handles GET /cache/stats requests.
func (h *CacheHandler) Stats(c echo.Context) error {
	query := dto.CacheStatsQuery{WindowDays: repository.DefaultStatsWindowDays}
	if err := c.Bind(&query); err != nil {
		return Error(c, http.StatusBadRequest, "invalid window_days")
	}
	if query.WindowDays <= 0 || query.WindowDays > maxStatsWindowDays {
		return Error(c, http.StatusBadRequest, "window_days must be between 1 and 365")
	}

	stats, err := h.admin.CacheStats(c.Request().Context(), query.WindowDays)
	if err != nil {
		return writeError(c, "cache.stats", err)
	}
	return Success(c, http.StatusOK, "", stats)
}

// Invalidate handles DELETE /admin/cache/:domain requests.
func (h *CacheHandler) Invalidate(c echo.Context) error {
	domain, err := service.NormalizeDomain(c.Param("domain"))
	if err != nil {
		return writeError(c, "cache.invalidate", err)
	}

	result, err := h.admin.Invalidate(c.Request().Context(), domain)
	if err != nil {
		return writeError(c, "cache.invalidate", err)
	}
	return Success(c, http.StatusOK, "cache invalidated", dto.InvalidateResponse{
		Domain:         domain,
		CompanyDeleted: result.CompanyDeleted,
		ContactDeleted: result.ContactDeleted,
	})
}

// Cleanup handles POST /admin/cache/cleanup requests.
func (h *CacheHandler) Cleanup(c echo.Context) error {
	result, err := h.admin.CleanupExpired(c.Request().Context())
	if err != nil {
		return writeError(c, "cache.cleanup", err)
	}
	return Success(c, http.StatusOK, "expired entries removed", result)
}
