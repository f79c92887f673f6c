package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ebailine/sivio/api/internal/entity"
	"github.com/ebailine/sivio/api/internal/repository"
)

// CompanyProfiler fetches company-level data for a domain.
type CompanyProfiler interface {
	CompanyProfile(ctx context.Context, domain string) (*entity.CompanyProfile, error)
}

// CompanyResearchService returns cached company research, fetching and
// storing it on a miss. Concurrent misses for one domain share a fetch.
type CompanyResearchService struct {
	profiler CompanyProfiler
	cache    repository.CacheRepository
	group    singleflight.Group
	now      func() time.Time
}

// NewCompanyResearchService wires the research service.
func NewCompanyResearchService(profiler CompanyProfiler, cache repository.CacheRepository) *CompanyResearchService {
	return &CompanyResearchService{profiler: profiler, cache: cache, now: time.Now}
}

// Research returns the research for an already normalised domain.
func (s *CompanyResearchService) Research(ctx context.Context, domain string) (*entity.CompanyResearch, error) {
	cached, err := s.cache.GetCompanyResearch(ctx, domain)
	if err != nil {
		log.Printf("research: cache read failed domain=%s err=%v", domain, err)
	}
	if cached != nil {
		return cached, nil
	}

	v, err, shared := s.group.Do(domain, func() (any, error) {
		return s.fetch(ctx, domain)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("research: shared fetch domain=%s", domain)
	}
	research := *v.(*entity.CompanyResearch)
	return &research, nil
}

func (s *CompanyResearchService) fetch(ctx context.Context, domain string) (*entity.CompanyResearch, error) {
	profile, err := s.profiler.CompanyProfile(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("company profile %s: %w", domain, err)
	}

	research := researchFromProfile(domain, profile, s.now())
	if err := s.cache.SetCompanyResearch(ctx, research); err != nil {
		log.Printf("research: cache write failed domain=%s err=%v", domain, err)
	}
	return research, nil
}

func researchFromProfile(domain string, profile *entity.CompanyProfile, now time.Time) *entity.CompanyResearch {
	research := &entity.CompanyResearch{
		CompanyDomain:   domain,
		SizeCategory:    entity.SizeUnknown,
		Departments:     []string{},
		OfficeLocations: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if profile == nil {
		return research
	}

	research.CompanyName = strings.TrimSpace(profile.Name)
	research.Industry = strings.TrimSpace(profile.Industry)
	research.EmployeeRange = strings.TrimSpace(profile.Size)
	research.SizeCategory = sizeCategory(profile.Size)
	research.Departments = uniqueNonEmpty(profile.Departments)
	research.OfficeLocations = uniqueNonEmpty(profile.Locations)
	research.ProspectsCount = profile.ProspectsCount
	if phone := normalizePhone(profile.Phone, defaultPhoneRegion); phone != "" {
		research.HeadquartersPhone = &phone
	}
	return research
}

// sizeCategory buckets an employee range such as "51-200" or "10,001+" by its
// upper bound.
func sizeCategory(employeeRange string) string {
	raw := strings.NewReplacer(",", "", " ", "", "+", "").Replace(employeeRange)
	if raw == "" {
		return entity.SizeUnknown
	}
	if i := strings.LastIndex(raw, "-"); i >= 0 {
		raw = raw[i+1:]
	}
	upper, err := strconv.Atoi(raw)
	if err != nil || upper <= 0 {
		return entity.SizeUnknown
	}

	switch {
	case upper <= 10:
		return entity.SizeStartup
	case upper <= 50:
		return entity.SizeSmall
	case upper <= 500:
		return entity.SizeMedium
	case upper <= 5000:
		return entity.SizeLarge
	default:
		return entity.SizeEnterprise
	}
}

func uniqueNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
