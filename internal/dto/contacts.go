package dto

// ContactSearchRequest is the body of POST /contacts/search.
type ContactSearchRequest struct {
	Domain         string  `json:"domain"`
	JobTitle       string  `json:"job_title"`
	JobDescription *string `json:"job_description,omitempty"`
}

// CacheStatsQuery carries the query parameters of GET /cache/stats.
type CacheStatsQuery struct {
	WindowDays int `query:"window_days"`
}

// InvalidateResponse reports how many cache rows an invalidation removed.
type InvalidateResponse struct {
	Domain         string `json:"domain"`
	CompanyDeleted int64  `json:"company_deleted"`
	ContactDeleted int64  `json:"contact_deleted"`
}
