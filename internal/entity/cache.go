package entity

import "time"

// Company size buckets derived from the provider's employee range.
const (
	SizeStartup    = "startup"
	SizeSmall      = "small"
	SizeMedium     = "medium"
	SizeLarge      = "large"
	SizeEnterprise = "enterprise"
	SizeUnknown    = "unknown"
)

// CompanyResearch is the cached company-level enrichment for a domain.
type CompanyResearch struct {
	CompanyDomain     string     `json:"company_domain"`
	CompanyName       string     `json:"company_name,omitempty"`
	Industry          string     `json:"industry,omitempty"`
	SizeCategory      string     `json:"size_category"`
	EmployeeRange     string     `json:"employee_range,omitempty"`
	Departments       []string   `json:"departments"`
	OfficeLocations   []string   `json:"office_locations"`
	HeadquartersPhone *string    `json:"headquarters_phone,omitempty"`
	ProspectsCount    int        `json:"prospects_count"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CacheHitCount     int        `json:"cache_hit_count"`
	LastAccessedAt    *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ContactSearchKey identifies a cached contact search. JobDescriptionHash is nil
// when the search was made without a job description.
type ContactSearchKey struct {
	CompanyDomain      string  `json:"company_domain"`
	JobTitle           string  `json:"job_title"`
	JobDescriptionHash *string `json:"job_description_hash,omitempty"`
}

// String renders the key for locks and log lines.
func (k ContactSearchKey) String() string {
	hash := "-"
	if k.JobDescriptionHash != nil {
		hash = *k.JobDescriptionHash
	}
	return k.CompanyDomain + "|" + k.JobTitle + "|" + hash
}

// ContactSearchCacheEntry stores the ranked contacts for a ContactSearchKey.
type ContactSearchCacheEntry struct {
	ContactSearchKey
	Contacts              []Contact  `json:"contacts"`
	AvgRelevanceScore     float64    `json:"avg_relevance_score"`
	KeyDecisionMakerCount int        `json:"key_decision_maker_count"`
	ExpiresAt             time.Time  `json:"expires_at"`
	CacheHitCount         int        `json:"cache_hit_count"`
	LastAccessedAt        *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// CleanupResult reports how many expired cache rows were removed.
type CleanupResult struct {
	CompanyDeleted int64 `json:"company_deleted"`
	ContactDeleted int64 `json:"contact_deleted"`
}

// CacheStats aggregates discovery usage over a trailing window.
type CacheStats struct {
	WindowDays           int     `json:"window_days"`
	TotalSearches        int64   `json:"total_searches"`
	CacheHits            int64   `json:"cache_hits"`
	HitRate              float64 `json:"hit_rate"`
	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	CreditsSaved         int64   `json:"credits_saved"`
	ActiveCompanyEntries int64   `json:"active_company_entries"`
	ActiveContactEntries int64   `json:"active_contact_entries"`
}
