package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ebailine/sivio/api/internal/billing"
	"github.com/ebailine/sivio/api/internal/domainsearch"
	middleware "github.com/ebailine/sivio/api/internal/middleware"
	"github.com/ebailine/sivio/api/internal/service"
)

// statusForError maps discovery errors onto HTTP statuses and client messages.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidDomain), errors.Is(err, service.ErrInvalidJobTitle):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, billing.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient credits"
	case errors.Is(err, domainsearch.ErrSearchTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "contact search timed out, please retry"
	case errors.Is(err, domainsearch.ErrAuth):
		return http.StatusBadGateway, "contact provider rejected our credentials"
	case errors.Is(err, domainsearch.ErrSearchFailed):
		return http.StatusBadGateway, "contact provider could not complete the search"
	case errors.Is(err, domainsearch.ErrProtocol):
		return http.StatusBadGateway, "contact provider returned an unexpected response"
	default:
		return http.StatusInternalServerError, "contact discovery failed"
	}
}

func writeError(c echo.Context, op string, err error) error {
	status, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request_id=%s op=%s status=%d err=%v", middleware.RequestIDFromContext(c), op, status, err)
	}
	return Error(c, status, message)
}
