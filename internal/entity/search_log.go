package entity

import (
	"time"

	"github.com/google/uuid"
)

// Search log outcomes.
const (
	SearchStatusSuccess = "success"
	SearchStatusFailed  = "failed"
)

// SearchLogEntry records a single discovery attempt, hit or miss.
type SearchLogEntry struct {
	ID               uuid.UUID `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	CompanyDomain    string    `json:"company_domain"`
	JobTitle         string    `json:"job_title"`
	CacheHit         bool      `json:"cache_hit"`
	ContactsFound    int       `json:"contacts_found"`
	ContactsReturned int       `json:"contacts_returned"`
	CreditsUsed      int       `json:"credits_used"`
	ResponseTimeMs   int64     `json:"response_time_ms"`
	Status           string    `json:"status"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
