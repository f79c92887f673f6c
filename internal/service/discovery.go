package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ebailine/sivio/api/internal/entity"
	"github.com/ebailine/sivio/api/internal/keylock"
	"github.com/ebailine/sivio/api/internal/repository"
	"github.com/ebailine/sivio/api/internal/service/scoring"
)

const defaultCreditsPerSearch = 1

// ProspectSearcher runs a provider domain search.
type ProspectSearcher interface {
	SearchDomain(ctx context.Context, domain string, limit int) ([]entity.ProspectRecord, error)
}

// CreditChecker fails when a user cannot pay for a fresh search.
type CreditChecker interface {
	EnsureCredits(ctx context.Context, userID string, credits int) error
}

// Researcher returns company research for a normalised domain.
type Researcher interface {
	Research(ctx context.Context, domain string) (*entity.CompanyResearch, error)
}

// SearchRecorder accepts search log entries without blocking.
type SearchRecorder interface {
	Record(entry entity.SearchLogEntry)
}

// FindContactsInput describes a discovery request.
type FindContactsInput struct {
	UserID         string
	Domain         string
	JobTitle       string
	JobDescription *string
}

// FindContactsResult is the outcome of a discovery request.
type FindContactsResult struct {
	Domain                string                  `json:"domain"`
	Contacts              []entity.Contact        `json:"contacts"`
	Cached                bool                    `json:"cached"`
	CreditsDeducted       int                     `json:"credits_deducted"`
	Company               *entity.CompanyResearch `json:"company,omitempty"`
	AvgRelevanceScore     float64                 `json:"avg_relevance_score"`
	KeyDecisionMakerCount int                     `json:"key_decision_maker_count"`
}

// DiscoveryService finds, ranks and caches hiring contacts for a company.
type DiscoveryService struct {
	searcher ProspectSearcher
	scorer   *scoring.Scorer
	cache    repository.CacheRepository
	logs     SearchRecorder
	locker   keylock.Locker
	credits  CreditChecker
	research Researcher

	creditsPerSearch int
	searchLimit      int
	timeout          time.Duration
	researchTimeout  time.Duration
	now              func() time.Time
}

// DiscoveryOption customises a DiscoveryService.
type DiscoveryOption func(*DiscoveryService)

// WithLocker sets the per-key lock used to collapse concurrent misses.
func WithLocker(locker keylock.Locker) DiscoveryOption {
	return func(s *DiscoveryService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithCreditChecker sets the credit check run before a fresh search.
func WithCreditChecker(credits CreditChecker) DiscoveryOption {
	return func(s *DiscoveryService) {
		if credits != nil {
			s.credits = credits
		}
	}
}

// WithResearch enables company research on fresh searches.
func WithResearch(research Researcher) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.research = research
	}
}

// WithCreditsPerSearch overrides the price of a non-cached search.
func WithCreditsPerSearch(credits int) DiscoveryOption {
	return func(s *DiscoveryService) {
		if credits >= 0 {
			s.creditsPerSearch = credits
		}
	}
}

// WithSearchLimit caps how many prospects the provider is asked for.
func WithSearchLimit(limit int) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.searchLimit = limit
	}
}

// WithDiscoveryTimeout bounds the uncached path of FindContacts.
func WithDiscoveryTimeout(timeout time.Duration) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.timeout = timeout
	}
}

// WithResearchTimeout bounds company research on a fresh search. Without it
// research gets a third of the discovery timeout.
func WithResearchTimeout(timeout time.Duration) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.researchTimeout = timeout
	}
}

// WithDiscoveryClock overrides the clock used for response times.
func WithDiscoveryClock(now func() time.Time) DiscoveryOption {
	return func(s *DiscoveryService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDiscoveryService wires the discovery pipeline. Without options it uses an
// in-process locker and performs no credit check.
func NewDiscoveryService(searcher ProspectSearcher, scorer *scoring.Scorer, cache repository.CacheRepository, logs SearchRecorder, opts ...DiscoveryOption) *DiscoveryService {
	s := &DiscoveryService{
		searcher:         searcher,
		scorer:           scorer,
		cache:            cache,
		logs:             logs,
		locker:           keylock.NewLocalLocker(),
		credits:          noCreditCheck{},
		creditsPerSearch: defaultCreditsPerSearch,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindContacts returns ranked contacts for a domain and job, serving repeat
// requests from the cache. Only one fresh search runs per key at a time.
func (s *DiscoveryService) FindContacts(ctx context.Context, in FindContactsInput) (*FindContactsResult, error) {
	start := s.now()

	domain, err := NormalizeDomain(in.Domain)
	if err != nil {
		return nil, err
	}
	title, err := normalizeJobTitle(in.JobTitle)
	if err != nil {
		return nil, err
	}
	key := entity.ContactSearchKey{
		CompanyDomain:      domain,
		JobTitle:           title,
		JobDescriptionHash: hashJobDescription(in.JobDescription),
	}

	if result := s.lookup(ctx, key); result != nil {
		s.recordHit(in.UserID, key, result, start)
		return result, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	unlock, err := s.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("acquire search lock: %w", err)
	}
	defer unlock()

	// Another request may have filled the entry while we waited.
	if result := s.lookup(ctx, key); result != nil {
		s.recordHit(in.UserID, key, result, start)
		return result, nil
	}

	if err := s.credits.EnsureCredits(ctx, in.UserID, s.creditsPerSearch); err != nil {
		return nil, err
	}

	company := s.researchCompany(ctx, domain)

	records, err := s.searcher.SearchDomain(ctx, domain, s.searchLimit)
	if err != nil {
		s.recordFailure(in.UserID, key, start, err)
		return nil, err
	}

	contacts := s.scorer.Process(cleanProspects(records), domain)
	avg, decisionMakers := scoring.Summarize(contacts)

	entry := &entity.ContactSearchCacheEntry{
		ContactSearchKey:      key,
		Contacts:              contacts,
		AvgRelevanceScore:     avg,
		KeyDecisionMakerCount: decisionMakers,
	}
	if err := s.cache.SetContactSearch(ctx, entry); err != nil {
		log.Printf("discovery: cache write failed key=%s err=%v", key, err)
	}

	s.logs.Record(entity.SearchLogEntry{
		UserID:           in.UserID,
		CompanyDomain:    domain,
		JobTitle:         title,
		CacheHit:         false,
		ContactsFound:    len(records),
		ContactsReturned: len(contacts),
		CreditsUsed:      s.creditsPerSearch,
		ResponseTimeMs:   s.elapsedMs(start),
		Status:           entity.SearchStatusSuccess,
	})
	log.Printf("discovery: search domain=%s records=%d contacts=%d decision_makers=%d", domain, len(records), len(contacts), decisionMakers)

	return &FindContactsResult{
		Domain:                domain,
		Contacts:              contacts,
		Cached:                false,
		CreditsDeducted:       s.creditsPerSearch,
		Company:               company,
		AvgRelevanceScore:     avg,
		KeyDecisionMakerCount: decisionMakers,
	}, nil
}

// CacheStats reports usage over the trailing window.
func (s *DiscoveryService) CacheStats(ctx context.Context, windowDays int) (*entity.CacheStats, error) {
	return s.cache.Stats(ctx, windowDays)
}

// Invalidate removes both cache tiers for a domain.
func (s *DiscoveryService) Invalidate(ctx context.Context, rawDomain string) (entity.CleanupResult, error) {
	domain, err := NormalizeDomain(rawDomain)
	if err != nil {
		return entity.CleanupResult{}, err
	}

	companies, err := s.cache.InvalidateCompany(ctx, domain)
	if err != nil {
		return entity.CleanupResult{}, err
	}
	contacts, err := s.cache.InvalidateContacts(ctx, domain)
	if err != nil {
		return entity.CleanupResult{CompanyDeleted: companies}, err
	}

	log.Printf("discovery: invalidated domain=%s company=%d contacts=%d", domain, companies, contacts)
	return entity.CleanupResult{CompanyDeleted: companies, ContactDeleted: contacts}, nil
}

// CleanupExpired deletes expired entries from both cache tiers.
func (s *DiscoveryService) CleanupExpired(ctx context.Context) (entity.CleanupResult, error) {
	return s.cache.CleanupExpired(ctx)
}

func (s *DiscoveryService) lookup(ctx context.Context, key entity.ContactSearchKey) *FindContactsResult {
	entry, err := s.cache.GetContactSearch(ctx, key)
	if err != nil {
		log.Printf("discovery: cache read failed key=%s err=%v", key, err)
		return nil
	}
	if entry == nil {
		return nil
	}

	result := &FindContactsResult{
		Domain:                key.CompanyDomain,
		Contacts:              entry.Contacts,
		Cached:                true,
		CreditsDeducted:       0,
		AvgRelevanceScore:     entry.AvgRelevanceScore,
		KeyDecisionMakerCount: entry.KeyDecisionMakerCount,
	}
	if s.research != nil {
		company, err := s.cache.GetCompanyResearch(ctx, key.CompanyDomain)
		if err != nil {
			log.Printf("discovery: company cache read failed domain=%s err=%v", key.CompanyDomain, err)
		}
		result.Company = company
	}
	return result
}

func (s *DiscoveryService) researchCompany(ctx context.Context, domain string) *entity.CompanyResearch {
	if s.research == nil {
		return nil
	}
	budget := s.researchTimeout
	if budget <= 0 {
		budget = s.timeout / 3
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	company, err := s.research.Research(ctx, domain)
	if err != nil {
		log.Printf("discovery: company research failed domain=%s err=%v", domain, err)
		return nil
	}
	return company
}

func (s *DiscoveryService) recordHit(userID string, key entity.ContactSearchKey, result *FindContactsResult, start time.Time) {
	s.logs.Record(entity.SearchLogEntry{
		UserID:           userID,
		CompanyDomain:    key.CompanyDomain,
		JobTitle:         key.JobTitle,
		CacheHit:         true,
		ContactsFound:    len(result.Contacts),
		ContactsReturned: len(result.Contacts),
		CreditsUsed:      0,
		ResponseTimeMs:   s.elapsedMs(start),
		Status:           entity.SearchStatusSuccess,
	})
}

func (s *DiscoveryService) recordFailure(userID string, key entity.ContactSearchKey, start time.Time, err error) {
	msg := err.Error()
	s.logs.Record(entity.SearchLogEntry{
		UserID:         userID,
		CompanyDomain:  key.CompanyDomain,
		JobTitle:       key.JobTitle,
		CacheHit:       false,
		ContactsFound:  0,
		CreditsUsed:    0,
		ResponseTimeMs: s.elapsedMs(start),
		Status:         entity.SearchStatusFailed,
		ErrorMessage:   &msg,
	})
	log.Printf("discovery: search failed key=%s err=%v", key, err)
}

func (s *DiscoveryService) elapsedMs(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}

type noCreditCheck struct{}

func (noCreditCheck) EnsureCredits(ctx context.Context, userID string, credits int) error {
	return nil
}
