package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebailine/sivio/api/internal/billing"
	"github.com/ebailine/sivio/api/internal/domainsearch"
	"github.com/ebailine/sivio/api/internal/entity"
	"github.com/ebailine/sivio/api/internal/keylock"
	"github.com/ebailine/sivio/api/internal/repository"
	"github.com/ebailine/sivio/api/internal/service/scoring"
)

type fakeSearcher struct {
	calls   atomic.Int32
	delay   time.Duration
	records []entity.ProspectRecord
	err     error
}

func (f *fakeSearcher) SearchDomain(ctx context.Context, domain string, limit int) ([]entity.ProspectRecord, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]entity.ProspectRecord(nil), f.records...), nil
}

type recorder struct {
	mu      sync.Mutex
	entries []entity.SearchLogEntry
}

func (r *recorder) Record(entry entity.SearchLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) all() []entity.SearchLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.SearchLogEntry(nil), r.entries...)
}

type creditFunc func(ctx context.Context, userID string, credits int) error

func (f creditFunc) EnsureCredits(ctx context.Context, userID string, credits int) error {
	return f(ctx, userID, credits)
}

type failingContactWrites struct {
	*repository.MemoryCacheRepository
}

func (failingContactWrites) SetContactSearch(ctx context.Context, entry *entity.ContactSearchCacheEntry) error {
	return errors.New("disk full")
}

type lockerFunc func(ctx context.Context, key string) (keylock.Unlock, error)

func (f lockerFunc) Lock(ctx context.Context, key string) (keylock.Unlock, error) { return f(ctx, key) }

func strPtr(s string) *string { return &s }

func stripeProspects() []entity.ProspectRecord {
	return []entity.ProspectRecord{
		{Email: strPtr("info@stripe.com"), FirstName: "Stripe", Position: "Support", SMTPStatus: "valid"},
		{FirstName: "Alex", LastName: "Kim", Position: "Senior Recruiter", SourcePage: "https://linkedin.com/in/alexkim"},
		{Email: strPtr("Patrick@Stripe.com"), FirstName: "Patrick", LastName: "Moore", Position: "VP of Engineering", SMTPStatus: "valid"},
		{Email: strPtr("dev@stripe.com"), FirstName: "Dana", Position: "Software Engineer", SMTPStatus: "valid"},
	}
}

type discoveryFixture struct {
	svc      *DiscoveryService
	searcher *fakeSearcher
	cache    *repository.MemoryCacheRepository
	logs     *recorder
}

func newDiscoveryFixture(t *testing.T, searcher *fakeSearcher, opts ...DiscoveryOption) *discoveryFixture {
	t.Helper()
	if searcher == nil {
		searcher = &fakeSearcher{records: stripeProspects()}
	}
	cache := repository.NewMemoryCacheRepository(30 * 24 * time.Hour)
	logs := &recorder{}
	svc := NewDiscoveryService(searcher, scoring.New(scoring.DefaultPolicy()), cache, logs, opts...)
	return &discoveryFixture{svc: svc, searcher: searcher, cache: cache, logs: logs}
}

func TestFindContacts_StripeScenario(t *testing.T) {
	f := newDiscoveryFixture(t, nil)
	ctx := context.Background()
	in := FindContactsInput{UserID: "student-1", Domain: "https://www.Stripe.com/jobs", JobTitle: "Software Engineering Intern"}

	first, err := f.svc.FindContacts(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "stripe.com", first.Domain)
	assert.Equal(t, 1, first.CreditsDeducted)
	require.Len(t, first.Contacts, 2)

	vp, recruiter := first.Contacts[0], first.Contacts[1]
	assert.Equal(t, 90, vp.RelevanceScore)
	assert.Equal(t, "stripe.com:patrick@stripe.com", vp.ID)
	require.NotNil(t, vp.Email)
	assert.Equal(t, "patrick@stripe.com", *vp.Email)
	assert.Equal(t, 75, recruiter.RelevanceScore)
	assert.False(t, recruiter.HasEmail)
	assert.Nil(t, recruiter.Email)
	assert.Equal(t, "Human Resources", recruiter.Department)
	assert.Equal(t, 82.5, first.AvgRelevanceScore)
	assert.Equal(t, 2, first.KeyDecisionMakerCount)

	second, err := f.svc.FindContacts(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "stripe.com", second.Domain)
	assert.Equal(t, 0, second.CreditsDeducted)
	assert.Equal(t, first.Contacts, second.Contacts)
	assert.Equal(t, int32(1), f.searcher.calls.Load())

	logs := f.logs.all()
	require.Len(t, logs, 2)
	assert.False(t, logs[0].CacheHit)
	assert.Equal(t, 4, logs[0].ContactsFound)
	assert.Equal(t, 2, logs[0].ContactsReturned)
	assert.Equal(t, 1, logs[0].CreditsUsed)
	assert.Equal(t, "stripe.com", logs[0].CompanyDomain)
	assert.True(t, logs[1].CacheHit)
	assert.Equal(t, 0, logs[1].CreditsUsed)
	assert.Equal(t, entity.SearchStatusSuccess, logs[1].Status)
}

func TestFindContacts_ExactKeyOnDescription(t *testing.T) {
	f := newDiscoveryFixture(t, nil)
	ctx := context.Background()
	withDesc := FindContactsInput{Domain: "stripe.com", JobTitle: "Intern", JobDescription: strPtr("Build payment rails")}
	withoutDesc := FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"}

	res, err := f.svc.FindContacts(ctx, withDesc)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	res, err = f.svc.FindContacts(ctx, withoutDesc)
	require.NoError(t, err)
	assert.False(t, res.Cached, "a lookup without a description must not match an entry stored with one")

	res, err = f.svc.FindContacts(ctx, FindContactsInput{Domain: "stripe.com", JobTitle: "Intern", JobDescription: strPtr("  Build payment rails\n")})
	require.NoError(t, err)
	assert.True(t, res.Cached)

	res, err = f.svc.FindContacts(ctx, FindContactsInput{Domain: "stripe.com", JobTitle: "Intern", JobDescription: strPtr("   ")})
	require.NoError(t, err)
	assert.True(t, res.Cached, "a blank description is the same as none")

	assert.Equal(t, int32(2), f.searcher.calls.Load())
}

func TestFindContacts_SingleFlight(t *testing.T) {
	f := newDiscoveryFixture(t, &fakeSearcher{records: stripeProspects(), delay: 50 * time.Millisecond})
	in := FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"}

	const callers = 10
	var (
		wg     sync.WaitGroup
		cached atomic.Int32
		fresh  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.FindContacts(context.Background(), in)
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, res.Contacts, 2)
			if res.Cached {
				cached.Add(1)
			} else {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.searcher.calls.Load())
	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, int32(callers-1), cached.Load())
}

func TestFindContacts_CacheWriteErrorIsSwallowed(t *testing.T) {
	searcher := &fakeSearcher{records: stripeProspects()}
	cache := failingContactWrites{repository.NewMemoryCacheRepository(time.Hour)}
	logs := &recorder{}
	svc := NewDiscoveryService(searcher, scoring.New(scoring.DefaultPolicy()), cache, logs)

	res, err := svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"})
	require.NoError(t, err)
	assert.Len(t, res.Contacts, 2)
	assert.Equal(t, 1, res.CreditsDeducted)

	_, err = svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), searcher.calls.Load())
}

func TestFindContacts_ProviderFailuresAreLoggedNotCached(t *testing.T) {
	cases := map[string]struct {
		err    error
		target error
	}{
		"timeout": {err: &domainsearch.SearchTimeoutError{TaskHash: "t1", Attempts: 5}, target: domainsearch.ErrSearchTimeout},
		"failed":  {err: &domainsearch.SearchFailedError{TaskHash: "t1", Status: "failed"}, target: domainsearch.ErrSearchFailed},
		"auth":    {err: &domainsearch.AuthError{StatusCode: 401, Message: "bad secret"}, target: domainsearch.ErrAuth},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newDiscoveryFixture(t, &fakeSearcher{err: tc.err})
			in := FindContactsInput{UserID: "student-1", Domain: "stripe.com", JobTitle: "Intern"}

			_, err := f.svc.FindContacts(context.Background(), in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.target))

			logs := f.logs.all()
			require.Len(t, logs, 1)
			assert.Equal(t, entity.SearchStatusFailed, logs[0].Status)
			assert.False(t, logs[0].CacheHit)
			assert.Equal(t, 0, logs[0].ContactsFound)
			require.NotNil(t, logs[0].ErrorMessage)

			_, err = f.svc.FindContacts(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, int32(2), f.searcher.calls.Load(), "failures must not be cached")
		})
	}
}

func TestFindContacts_EmptyResultIsCached(t *testing.T) {
	f := newDiscoveryFixture(t, &fakeSearcher{})
	in := FindContactsInput{Domain: "tiny.io", JobTitle: "Intern"}

	res, err := f.svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, res.Contacts)
	assert.NotNil(t, res.Contacts)

	res, err = f.svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), f.searcher.calls.Load())
}

func TestFindContacts_InsufficientCredits(t *testing.T) {
	var asked atomic.Int32
	credits := creditFunc(func(ctx context.Context, userID string, credits int) error {
		asked.Add(1)
		assert.Equal(t, "student-1", userID)
		assert.Equal(t, 3, credits)
		return fmt.Errorf("%w: balance 0", billing.ErrInsufficientCredits)
	})
	f := newDiscoveryFixture(t, nil, WithCreditChecker(credits), WithCreditsPerSearch(3))
	in := FindContactsInput{UserID: "student-1", Domain: "stripe.com", JobTitle: "Intern"}

	_, err := f.svc.FindContacts(context.Background(), in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrInsufficientCredits))
	assert.Equal(t, int32(0), f.searcher.calls.Load())
	assert.Equal(t, int32(1), asked.Load())
}

func TestFindContacts_CacheHitSkipsCreditCheck(t *testing.T) {
	var asked atomic.Int32
	credits := creditFunc(func(ctx context.Context, userID string, credits int) error {
		asked.Add(1)
		return nil
	})
	f := newDiscoveryFixture(t, nil, WithCreditChecker(credits))
	in := FindContactsInput{UserID: "student-1", Domain: "stripe.com", JobTitle: "Intern"}

	_, err := f.svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int32(1), asked.Load())
}

func TestFindContacts_InvalidInput(t *testing.T) {
	f := newDiscoveryFixture(t, nil)

	_, err := f.svc.FindContacts(context.Background(), FindContactsInput{Domain: "not a domain", JobTitle: "Intern"})
	assert.True(t, errors.Is(err, ErrInvalidDomain))

	_, err = f.svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "  "})
	assert.True(t, errors.Is(err, ErrInvalidJobTitle))

	assert.Equal(t, int32(0), f.searcher.calls.Load())
	assert.Empty(t, f.logs.all())
}

type fakeProfiler struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (p *fakeProfiler) CompanyProfile(ctx context.Context, domain string) (*entity.CompanyProfile, error) {
	p.calls.Add(1)
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &entity.CompanyProfile{
		Domain:      domain,
		Name:        "Stripe",
		Industry:    "Financial Services",
		Size:        "5001-10000",
		Locations:   []string{"San Francisco, US", "Dublin, IE"},
		Departments: []string{"Engineering", "Sales"},
		Phone:       "(650) 253-0000",
	}, nil
}

func TestFindContacts_CompanyResearch(t *testing.T) {
	profiler := &fakeProfiler{}
	searcher := &fakeSearcher{records: stripeProspects()}
	cache := repository.NewMemoryCacheRepository(30 * 24 * time.Hour)
	research := NewCompanyResearchService(profiler, cache)
	svc := NewDiscoveryService(searcher, scoring.New(scoring.DefaultPolicy()), cache, &recorder{}, WithResearch(research))
	in := FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"}

	res, err := svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.Company)
	assert.Equal(t, "Stripe", res.Company.CompanyName)
	assert.Equal(t, entity.SizeEnterprise, res.Company.SizeCategory)

	res, err = svc.FindContacts(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	require.NotNil(t, res.Company)
	assert.Equal(t, "Stripe", res.Company.CompanyName)

	_, err = svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Recruiter"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), profiler.calls.Load(), "research is served from the company tier")
}

func TestFindContacts_ResearchFailureDoesNotFailSearch(t *testing.T) {
	profiler := &fakeProfiler{err: errors.New("provider down")}
	f := newDiscoveryFixture(t, nil)
	f.svc.research = NewCompanyResearchService(profiler, f.cache)

	res, err := f.svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"})
	require.NoError(t, err)
	assert.Nil(t, res.Company)
	assert.Len(t, res.Contacts, 2)
}

func TestFindContacts_SlowResearchLeavesSearchBudget(t *testing.T) {
	profiler := &fakeProfiler{delay: 5 * time.Second}
	searcher := &fakeSearcher{records: stripeProspects(), delay: 50 * time.Millisecond}
	cache := repository.NewMemoryCacheRepository(30 * 24 * time.Hour)
	svc := NewDiscoveryService(searcher, scoring.New(scoring.DefaultPolicy()), cache, &recorder{},
		WithResearch(NewCompanyResearchService(profiler, cache)),
		WithDiscoveryTimeout(300*time.Millisecond),
	)

	start := time.Now()
	res, err := svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"})
	require.NoError(t, err)
	assert.Nil(t, res.Company)
	assert.Len(t, res.Contacts, 2)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	entry, err := cache.GetCompanyResearch(context.Background(), "stripe.com")
	require.NoError(t, err)
	assert.Nil(t, entry)

	svc = NewDiscoveryService(searcher, scoring.New(scoring.DefaultPolicy()), cache, &recorder{},
		WithResearch(NewCompanyResearchService(&fakeProfiler{delay: 5 * time.Second}, cache)),
		WithResearchTimeout(20*time.Millisecond),
	)
	res, err = svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Recruiter"})
	require.NoError(t, err)
	assert.Nil(t, res.Company)
	assert.False(t, res.Cached)
}

func TestDiscoveryService_InvalidateAndStats(t *testing.T) {
	f := newDiscoveryFixture(t, nil)
	ctx := context.Background()
	in := FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"}

	_, err := f.svc.FindContacts(ctx, in)
	require.NoError(t, err)

	result, err := f.svc.Invalidate(ctx, "https://www.stripe.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ContactDeleted)
	assert.Equal(t, int64(0), result.CompanyDeleted)

	res, err := f.svc.FindContacts(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Cached)

	_, err = f.svc.Invalidate(ctx, "nope")
	assert.True(t, errors.Is(err, ErrInvalidDomain))

	stats, err := f.svc.CacheStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, repository.DefaultStatsWindowDays, stats.WindowDays)
	assert.Equal(t, int64(1), stats.ActiveContactEntries)

	cleanup, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.CleanupResult{}, cleanup)
}

func TestFindContacts_LockTimeout(t *testing.T) {
	f := newDiscoveryFixture(t, nil, WithLocker(lockerFunc(func(ctx context.Context, key string) (keylock.Unlock, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})), WithDiscoveryTimeout(10*time.Millisecond))

	_, err := f.svc.FindContacts(context.Background(), FindContactsInput{Domain: "stripe.com", JobTitle: "Intern"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(0), f.searcher.calls.Load())
}
