package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebailine/sivio/api/internal/entity"
)

// DefaultStatsWindowDays is used when a stats request does not name a window.
const DefaultStatsWindowDays = 30

// CacheRepository stores company research and contact search results with a
// TTL. Get methods return nil, nil on a miss; an expired entry is a miss.
// A hit increments the entry's hit counter atomically with the read.
type CacheRepository interface {
	GetCompanyResearch(ctx context.Context, domain string) (*entity.CompanyResearch, error)
	SetCompanyResearch(ctx context.Context, entry *entity.CompanyResearch) error
	GetContactSearch(ctx context.Context, key entity.ContactSearchKey) (*entity.ContactSearchCacheEntry, error)
	SetContactSearch(ctx context.Context, entry *entity.ContactSearchCacheEntry) error
	InvalidateCompany(ctx context.Context, domain string) (int64, error)
	InvalidateContacts(ctx context.Context, domain string) (int64, error)
	CleanupExpired(ctx context.Context) (entity.CleanupResult, error)
	Stats(ctx context.Context, windowDays int) (*entity.CacheStats, error)
}

// PGXCacheRepository implements CacheRepository on PostgreSQL.
type PGXCacheRepository struct {
	pool pgxPool
	ttl  time.Duration
	now  func() time.Time
}

// NewPGXCacheRepository wires a pgx backed cache store.
func NewPGXCacheRepository(pool *pgxpool.Pool, ttl time.Duration, opts ...Option) *PGXCacheRepository {
	o := buildOptions(opts)
	return &PGXCacheRepository{pool: pool, ttl: ttl, now: o.now}
}

const companyResearchColumns = `
            company_domain,
            company_name,
            industry,
            size_category,
            employee_range,
            departments,
            office_locations,
            headquarters_phone,
            prospects_count,
            expires_at,
            cache_hit_count,
            last_accessed_at,
            created_at,
            updated_at`

// GetCompanyResearch returns the live research entry for domain and records the hit.
func (r *PGXCacheRepository) GetCompanyResearch(ctx context.Context, domain string) (*entity.CompanyResearch, error) {
	query := `
        UPDATE company_research_cache
        SET cache_hit_count = cache_hit_count + 1,
            last_accessed_at = $2
        WHERE company_domain = $1 AND expires_at > $2
        RETURNING` + companyResearchColumns

	entry, err := scanCompanyResearch(r.pool.QueryRow(ctx, query, domain, r.now()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company research %q: %w", domain, err)
	}
	return entry, nil
}

// SetCompanyResearch upserts the research entry, resetting its TTL and hit count.
func (r *PGXCacheRepository) SetCompanyResearch(ctx context.Context, entry *entity.CompanyResearch) error {
	if entry == nil {
		return fmt.Errorf("company research payload is nil")
	}
	if entry.CompanyDomain == "" {
		return fmt.Errorf("company research domain is required")
	}

	departments, err := json.Marshal(stringSliceOrEmpty(entry.Departments))
	if err != nil {
		return fmt.Errorf("marshal departments: %w", err)
	}
	locations, err := json.Marshal(stringSliceOrEmpty(entry.OfficeLocations))
	if err != nil {
		return fmt.Errorf("marshal office locations: %w", err)
	}

	now := r.now()
	expiresAt := now.Add(r.ttl)
	sizeCategory := entry.SizeCategory
	if sizeCategory == "" {
		sizeCategory = entity.SizeUnknown
	}

	query := `
        INSERT INTO company_research_cache (` + companyResearchColumns + `
        ) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, 0, NULL, $11, $11)
        ON CONFLICT (company_domain) DO UPDATE SET
            company_name = EXCLUDED.company_name,
            industry = EXCLUDED.industry,
            size_category = EXCLUDED.size_category,
            employee_range = EXCLUDED.employee_range,
            departments = EXCLUDED.departments,
            office_locations = EXCLUDED.office_locations,
            headquarters_phone = EXCLUDED.headquarters_phone,
            prospects_count = EXCLUDED.prospects_count,
            expires_at = EXCLUDED.expires_at,
            cache_hit_count = 0,
            last_accessed_at = NULL,
            created_at = EXCLUDED.created_at,
            updated_at = EXCLUDED.updated_at;
    `

	_, err = r.pool.Exec(ctx, query,
		entry.CompanyDomain,
		entry.CompanyName,
		entry.Industry,
		sizeCategory,
		entry.EmployeeRange,
		string(departments),
		string(locations),
		stringOrNil(entry.HeadquartersPhone),
		entry.ProspectsCount,
		expiresAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert company research %q: %w", entry.CompanyDomain, err)
	}

	entry.SizeCategory = sizeCategory
	entry.ExpiresAt = expiresAt
	entry.CacheHitCount = 0
	entry.LastAccessedAt = nil
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return nil
}

const contactSearchColumns = `
            company_domain,
            job_title,
            job_description_hash,
            contacts,
            avg_relevance_score,
            key_decision_maker_count,
            expires_at,
            cache_hit_count,
            last_accessed_at,
            created_at`

// GetContactSearch returns the live entry whose key matches exactly. A nil
// description hash only matches rows stored without one.
func (r *PGXCacheRepository) GetContactSearch(ctx context.Context, key entity.ContactSearchKey) (*entity.ContactSearchCacheEntry, error) {
	query := `
        UPDATE contact_search_cache
        SET cache_hit_count = cache_hit_count + 1,
            last_accessed_at = $4
        WHERE company_domain = $1
          AND job_title = $2
          AND job_description_hash IS NOT DISTINCT FROM $3::text
          AND expires_at > $4
        RETURNING` + contactSearchColumns

	entry, err := scanContactSearch(r.pool.QueryRow(ctx, query,
		key.CompanyDomain,
		key.JobTitle,
		stringOrNil(key.JobDescriptionHash),
		r.now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact search %s: %w", key, err)
	}
	return entry, nil
}

// SetContactSearch upserts the entry for its key in a single statement.
func (r *PGXCacheRepository) SetContactSearch(ctx context.Context, entry *entity.ContactSearchCacheEntry) error {
	if entry == nil {
		return fmt.Errorf("contact search payload is nil")
	}
	if entry.CompanyDomain == "" || entry.JobTitle == "" {
		return fmt.Errorf("contact search key requires domain and job title")
	}

	contacts := entry.Contacts
	if contacts == nil {
		contacts = []entity.Contact{}
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}

	now := r.now()
	expiresAt := now.Add(r.ttl)

	query := `
        INSERT INTO contact_search_cache (` + contactSearchColumns + `
        ) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, 0, NULL, $8)
        ON CONFLICT ON CONSTRAINT contact_search_cache_key DO UPDATE SET
            contacts = EXCLUDED.contacts,
            avg_relevance_score = EXCLUDED.avg_relevance_score,
            key_decision_maker_count = EXCLUDED.key_decision_maker_count,
            expires_at = EXCLUDED.expires_at,
            cache_hit_count = 0,
            last_accessed_at = NULL,
            created_at = EXCLUDED.created_at;
    `

	_, err = r.pool.Exec(ctx, query,
		entry.CompanyDomain,
		entry.JobTitle,
		stringOrNil(entry.JobDescriptionHash),
		string(contactsJSON),
		entry.AvgRelevanceScore,
		entry.KeyDecisionMakerCount,
		expiresAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert contact search %s: %w", entry.ContactSearchKey, err)
	}

	entry.Contacts = contacts
	entry.ExpiresAt = expiresAt
	entry.CacheHitCount = 0
	entry.LastAccessedAt = nil
	entry.CreatedAt = now
	return nil
}

// InvalidateCompany removes the research entry for domain.
func (r *PGXCacheRepository) InvalidateCompany(ctx context.Context, domain string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM company_research_cache WHERE company_domain = $1`, domain)
	if err != nil {
		return 0, fmt.Errorf("invalidate company research %q: %w", domain, err)
	}
	return tag.RowsAffected(), nil
}

// InvalidateContacts removes every contact search entry for domain.
func (r *PGXCacheRepository) InvalidateContacts(ctx context.Context, domain string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contact_search_cache WHERE company_domain = $1`, domain)
	if err != nil {
		return 0, fmt.Errorf("invalidate contact searches %q: %w", domain, err)
	}
	return tag.RowsAffected(), nil
}

// CleanupExpired deletes expired rows of both cache kinds in one transaction.
func (r *PGXCacheRepository) CleanupExpired(ctx context.Context) (entity.CleanupResult, error) {
	var result entity.CleanupResult
	now := r.now()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("start cleanup tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM company_research_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("delete expired company research: %w", err)
	}
	result.CompanyDeleted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM contact_search_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("delete expired contact searches: %w", err)
	}
	result.ContactDeleted = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return entity.CleanupResult{}, fmt.Errorf("commit cleanup tx: %w", err)
	}
	return result, nil
}

// Stats aggregates search logs inside the trailing window and counts live entries.
func (r *PGXCacheRepository) Stats(ctx context.Context, windowDays int) (*entity.CacheStats, error) {
	if windowDays <= 0 {
		windowDays = DefaultStatsWindowDays
	}
	now := r.now()
	since := now.AddDate(0, 0, -windowDays)

	stats := &entity.CacheStats{WindowDays: windowDays}
	err := r.pool.QueryRow(ctx, `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE cache_hit),
            COALESCE(AVG(response_time_ms), 0)::float8
        FROM search_logs
        WHERE created_at >= $1
    `, since).Scan(&stats.TotalSearches, &stats.CacheHits, &stats.AvgResponseTimeMs)
	if err != nil {
		return nil, fmt.Errorf("aggregate search logs: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
        SELECT
            (SELECT COUNT(*) FROM company_research_cache WHERE expires_at > $1),
            (SELECT COUNT(*) FROM contact_search_cache WHERE expires_at > $1)
    `, now).Scan(&stats.ActiveCompanyEntries, &stats.ActiveContactEntries)
	if err != nil {
		return nil, fmt.Errorf("count active cache entries: %w", err)
	}

	finalizeStats(stats)
	return stats, nil
}

// finalizeStats derives the hit rate and credits saved from the raw counters.
// Every hit avoided one external search worth one credit.
func finalizeStats(stats *entity.CacheStats) {
	if stats.TotalSearches > 0 {
		stats.HitRate = round2(float64(stats.CacheHits) / float64(stats.TotalSearches) * 100)
	}
	stats.AvgResponseTimeMs = round2(stats.AvgResponseTimeMs)
	stats.CreditsSaved = stats.CacheHits
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func scanCompanyResearch(row pgx.Row) (*entity.CompanyResearch, error) {
	var (
		entry        entity.CompanyResearch
		name         sql.NullString
		industry     sql.NullString
		employees    sql.NullString
		departments  []byte
		locations    []byte
		phone        sql.NullString
		lastAccessed sql.NullTime
	)

	err := row.Scan(
		&entry.CompanyDomain,
		&name,
		&industry,
		&entry.SizeCategory,
		&employees,
		&departments,
		&locations,
		&phone,
		&entry.ProspectsCount,
		&entry.ExpiresAt,
		&entry.CacheHitCount,
		&lastAccessed,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.CompanyName = name.String
	entry.Industry = industry.String
	entry.EmployeeRange = employees.String
	entry.HeadquartersPhone = nullStringPtr(phone)
	entry.LastAccessedAt = nullTimePtr(lastAccessed)

	if err := decodeStrings(departments, &entry.Departments); err != nil {
		return nil, fmt.Errorf("decode departments: %w", err)
	}
	if err := decodeStrings(locations, &entry.OfficeLocations); err != nil {
		return nil, fmt.Errorf("decode office locations: %w", err)
	}
	return &entry, nil
}

func scanContactSearch(row pgx.Row) (*entity.ContactSearchCacheEntry, error) {
	var (
		entry        entity.ContactSearchCacheEntry
		hash         sql.NullString
		contacts     []byte
		lastAccessed sql.NullTime
	)

	err := row.Scan(
		&entry.CompanyDomain,
		&entry.JobTitle,
		&hash,
		&contacts,
		&entry.AvgRelevanceScore,
		&entry.KeyDecisionMakerCount,
		&entry.ExpiresAt,
		&entry.CacheHitCount,
		&lastAccessed,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.JobDescriptionHash = nullStringPtr(hash)
	entry.LastAccessedAt = nullTimePtr(lastAccessed)

	entry.Contacts = []entity.Contact{}
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &entry.Contacts); err != nil {
			return nil, fmt.Errorf("decode contacts: %w", err)
		}
	}
	return &entry, nil
}

func decodeStrings(raw []byte, out *[]string) error {
	*out = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
