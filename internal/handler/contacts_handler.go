package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ebailine/sivio/api/internal/billing"
	"github.com/ebailine/sivio/api/internal/dto"
	middleware "github.com/ebailine/sivio/api/internal/middleware"
	"github.com/ebailine/sivio/api/internal/service"
)

// ContactFinder runs contact discovery.
type ContactFinder interface {
	FindContacts(ctx context.Context, in service.FindContactsInput) (*service.FindContactsResult, error)
}

// ContactsHandler exposes contact discovery to authenticated students.
type ContactsHandler struct {
	finder ContactFinder
	ledger billing.Ledger
}

// NewContactsHandler creates a handler that debits ledger for fresh searches.
func NewContactsHandler(finder ContactFinder, ledger billing.Ledger) *ContactsHandler {
	if ledger == nil {
		ledger = billing.UnlimitedLedger{}
	}
	return &ContactsHandler{finder: finder, ledger: ledger}
}

// Search handles POST /contacts/search requests.
func (h *ContactsHandler) Search(c echo.Context) error {
	var req dto.ContactSearchRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}

	userID := middleware.UserIDFromContext(c)
	ctx := c.Request().Context()

	result, err := h.finder.FindContacts(ctx, service.FindContactsInput{
		UserID:         userID,
		Domain:         req.Domain,
		JobTitle:       req.JobTitle,
		JobDescription: req.JobDescription,
	})
	if err != nil {
		return writeError(c, "contacts.search", err)
	}

	if !result.Cached && result.CreditsDeducted > 0 {
		if err := h.ledger.Debit(ctx, userID, result.CreditsDeducted, "contact_search:"+result.Domain); err != nil {
			log.Printf("request_id=%s op=contacts.debit user_id=%s credits=%d err=%v",
				middleware.RequestIDFromContext(c), userID, result.CreditsDeducted, err)
		}
	}

	message := "contacts found"
	if result.Cached {
		message = "contacts served from cache"
	}
	return Success(c, http.StatusOK, message, result)
}
