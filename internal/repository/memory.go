package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebailine/sivio/api/internal/entity"
)

type memoryContactKey struct {
	domain  string
	title   string
	hash    string
	hasHash bool
}

func newMemoryContactKey(key entity.ContactSearchKey) memoryContactKey {
	k := memoryContactKey{domain: key.CompanyDomain, title: key.JobTitle}
	if key.JobDescriptionHash != nil {
		k.hash = *key.JobDescriptionHash
		k.hasHash = true
	}
	return k
}

// MemoryCacheRepository keeps both cache tiers and the search log in process.
// It implements CacheRepository and SearchLogRepository for local development
// and tests; every operation runs under a single mutex.
type MemoryCacheRepository struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	companies map[string]entity.CompanyResearch
	contacts  map[memoryContactKey]entity.ContactSearchCacheEntry
	logs      []entity.SearchLogEntry
}

// NewMemoryCacheRepository returns an empty in-memory store.
func NewMemoryCacheRepository(ttl time.Duration, opts ...Option) *MemoryCacheRepository {
	o := buildOptions(opts)
	return &MemoryCacheRepository{
		ttl:       ttl,
		now:       o.now,
		companies: map[string]entity.CompanyResearch{},
		contacts:  map[memoryContactKey]entity.ContactSearchCacheEntry{},
	}
}

var (
	_ CacheRepository     = (*MemoryCacheRepository)(nil)
	_ SearchLogRepository = (*MemoryCacheRepository)(nil)
	_ CacheRepository     = (*PGXCacheRepository)(nil)
	_ SearchLogRepository = (*PGXSearchLogRepository)(nil)
)

func (m *MemoryCacheRepository) GetCompanyResearch(ctx context.Context, domain string) (*entity.CompanyResearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.companies[domain]
	if !ok || !now.Before(entry.ExpiresAt) {
		return nil, nil
	}
	entry.CacheHitCount++
	entry.LastAccessedAt = &now
	m.companies[domain] = entry
	return cloneCompanyResearch(entry), nil
}

func (m *MemoryCacheRepository) SetCompanyResearch(ctx context.Context, entry *entity.CompanyResearch) error {
	if entry == nil {
		return fmt.Errorf("company research payload is nil")
	}
	if entry.CompanyDomain == "" {
		return fmt.Errorf("company research domain is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry.SizeCategory == "" {
		entry.SizeCategory = entity.SizeUnknown
	}
	entry.Departments = stringSliceOrEmpty(entry.Departments)
	entry.OfficeLocations = stringSliceOrEmpty(entry.OfficeLocations)
	entry.ExpiresAt = now.Add(m.ttl)
	entry.CacheHitCount = 0
	entry.LastAccessedAt = nil
	entry.CreatedAt = now
	entry.UpdatedAt = now

	m.companies[entry.CompanyDomain] = *cloneCompanyResearch(*entry)
	return nil
}

func (m *MemoryCacheRepository) GetContactSearch(ctx context.Context, key entity.ContactSearchKey) (*entity.ContactSearchCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := newMemoryContactKey(key)
	entry, ok := m.contacts[k]
	if !ok || !now.Before(entry.ExpiresAt) {
		return nil, nil
	}
	entry.CacheHitCount++
	entry.LastAccessedAt = &now
	m.contacts[k] = entry
	return cloneContactSearch(entry), nil
}

func (m *MemoryCacheRepository) SetContactSearch(ctx context.Context, entry *entity.ContactSearchCacheEntry) error {
	if entry == nil {
		return fmt.Errorf("contact search payload is nil")
	}
	if entry.CompanyDomain == "" || entry.JobTitle == "" {
		return fmt.Errorf("contact search key requires domain and job title")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry.Contacts == nil {
		entry.Contacts = []entity.Contact{}
	}
	entry.ExpiresAt = now.Add(m.ttl)
	entry.CacheHitCount = 0
	entry.LastAccessedAt = nil
	entry.CreatedAt = now

	m.contacts[newMemoryContactKey(entry.ContactSearchKey)] = *cloneContactSearch(*entry)
	return nil
}

func (m *MemoryCacheRepository) InvalidateCompany(ctx context.Context, domain string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.companies[domain]; !ok {
		return 0, nil
	}
	delete(m.companies, domain)
	return 1, nil
}

func (m *MemoryCacheRepository) InvalidateContacts(ctx context.Context, domain string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for k := range m.contacts {
		if k.domain == domain {
			delete(m.contacts, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryCacheRepository) CleanupExpired(ctx context.Context) (entity.CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result entity.CleanupResult
	now := m.now()
	for domain, entry := range m.companies {
		if !now.Before(entry.ExpiresAt) {
			delete(m.companies, domain)
			result.CompanyDeleted++
		}
	}
	for k, entry := range m.contacts {
		if !now.Before(entry.ExpiresAt) {
			delete(m.contacts, k)
			result.ContactDeleted++
		}
	}
	return result, nil
}

func (m *MemoryCacheRepository) Stats(ctx context.Context, windowDays int) (*entity.CacheStats, error) {
	if windowDays <= 0 {
		windowDays = DefaultStatsWindowDays
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	since := now.AddDate(0, 0, -windowDays)
	stats := &entity.CacheStats{WindowDays: windowDays}

	var totalResponse int64
	for _, entry := range m.logs {
		if entry.CreatedAt.Before(since) {
			continue
		}
		stats.TotalSearches++
		if entry.CacheHit {
			stats.CacheHits++
		}
		totalResponse += entry.ResponseTimeMs
	}
	if stats.TotalSearches > 0 {
		stats.AvgResponseTimeMs = float64(totalResponse) / float64(stats.TotalSearches)
	}

	for _, entry := range m.companies {
		if now.Before(entry.ExpiresAt) {
			stats.ActiveCompanyEntries++
		}
	}
	for _, entry := range m.contacts {
		if now.Before(entry.ExpiresAt) {
			stats.ActiveContactEntries++
		}
	}

	finalizeStats(stats)
	return stats, nil
}

// Insert appends a search log entry.
func (m *MemoryCacheRepository) Insert(ctx context.Context, entry *entity.SearchLogEntry) error {
	if entry == nil {
		return fmt.Errorf("search log payload is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prepareLogEntry(entry, m.now)
	m.logs = append(m.logs, *entry)
	return nil
}

// DeleteBefore drops search log entries created before cutoff.
func (m *MemoryCacheRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.logs[:0]
	var removed int64
	for _, entry := range m.logs {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.logs = kept
	return removed, nil
}

// SearchLogs returns a snapshot of the stored log entries in insertion order.
func (m *MemoryCacheRepository) SearchLogs() []entity.SearchLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.SearchLogEntry(nil), m.logs...)
}

func cloneCompanyResearch(entry entity.CompanyResearch) *entity.CompanyResearch {
	entry.Departments = append([]string{}, entry.Departments...)
	entry.OfficeLocations = append([]string{}, entry.OfficeLocations...)
	if entry.LastAccessedAt != nil {
		t := *entry.LastAccessedAt
		entry.LastAccessedAt = &t
	}
	return &entry
}

func cloneContactSearch(entry entity.ContactSearchCacheEntry) *entity.ContactSearchCacheEntry {
	entry.Contacts = append([]entity.Contact{}, entry.Contacts...)
	if entry.LastAccessedAt != nil {
		t := *entry.LastAccessedAt
		entry.LastAccessedAt = &t
	}
	return &entry
}
