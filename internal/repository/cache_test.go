package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ebailine/sivio/api/internal/entity"
)

var fixedNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newStubCacheRepo(pool *stubPool) *PGXCacheRepository {
	return &PGXCacheRepository{pool: pool, ttl: 30 * 24 * time.Hour, now: func() time.Time { return fixedNow }}
}

func TestPGXCacheRepository_GetCompanyResearch(t *testing.T) {
	repo := newStubCacheRepo(&stubPool{
		queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
			if !strings.Contains(query, "cache_hit_count = cache_hit_count + 1") {
				t.Fatalf("expected atomic hit increment, got %s", query)
			}
			if args[0] != "acme.com" || args[1] != fixedNow {
				t.Fatalf("unexpected args: %v", args)
			}
			return &stubRow{scan: func(dest ...any) error {
				*dest[0].(*string) = "acme.com"
				*dest[1].(*sql.NullString) = sql.NullString{String: "Acme", Valid: true}
				*dest[2].(*sql.NullString) = sql.NullString{String: "Software", Valid: true}
				*dest[3].(*string) = entity.SizeMedium
				*dest[4].(*sql.NullString) = sql.NullString{String: "51-200", Valid: true}
				*dest[5].(*[]byte) = []byte(`["Engineering","Sales"]`)
				*dest[6].(*[]byte) = []byte(`["Austin, US"]`)
				*dest[7].(*sql.NullString) = sql.NullString{}
				*dest[8].(*int) = 120
				*dest[9].(*time.Time) = fixedNow.Add(time.Hour)
				*dest[10].(*int) = 3
				*dest[11].(*sql.NullTime) = sql.NullTime{Time: fixedNow, Valid: true}
				*dest[12].(*time.Time) = fixedNow.Add(-time.Hour)
				*dest[13].(*time.Time) = fixedNow.Add(-time.Hour)
				return nil
			}}
		},
	})

	entry, err := repo.GetCompanyResearch(context.Background(), "acme.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry == nil || entry.CompanyName != "Acme" || entry.CacheHitCount != 3 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(entry.Departments) != 2 || entry.OfficeLocations[0] != "Austin, US" {
		t.Fatalf("unexpected json columns: %+v", entry)
	}
	if entry.HeadquartersPhone != nil || entry.LastAccessedAt == nil {
		t.Fatalf("unexpected nullable columns: %+v", entry)
	}
}

func TestPGXCacheRepository_GetMissAndError(t *testing.T) {
	repo := newStubCacheRepo(&stubPool{
		queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
			return &stubRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	})
	entry, err := repo.GetCompanyResearch(context.Background(), "acme.com")
	if err != nil || entry != nil {
		t.Fatalf("expected miss, got %+v, %v", entry, err)
	}
	search, err := repo.GetContactSearch(context.Background(), entity.ContactSearchKey{CompanyDomain: "acme.com", JobTitle: "Intern"})
	if err != nil || search != nil {
		t.Fatalf("expected miss, got %+v, %v", search, err)
	}

	boom := errors.New("boom")
	repo = newStubCacheRepo(&stubPool{
		queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
			return &stubRow{scan: func(dest ...any) error { return boom }}
		},
	})
	if _, err := repo.GetCompanyResearch(context.Background(), "acme.com"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestPGXCacheRepository_GetContactSearchKeyArgs(t *testing.T) {
	hash := "abc123"
	cases := map[string]struct {
		key      entity.ContactSearchKey
		wantHash any
	}{
		"without description": {
			key:      entity.ContactSearchKey{CompanyDomain: "acme.com", JobTitle: "Intern"},
			wantHash: nil,
		},
		"with description": {
			key:      entity.ContactSearchKey{CompanyDomain: "acme.com", JobTitle: "Intern", JobDescriptionHash: &hash},
			wantHash: "abc123",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newStubCacheRepo(&stubPool{
				queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
					if !strings.Contains(query, "IS NOT DISTINCT FROM") {
						t.Fatalf("expected null-safe hash comparison")
					}
					if args[2] != tc.wantHash {
						t.Fatalf("expected hash arg %v, got %v", tc.wantHash, args[2])
					}
					return &stubRow{scan: func(dest ...any) error {
						*dest[0].(*string) = "acme.com"
						*dest[1].(*string) = "Intern"
						if tc.key.JobDescriptionHash != nil {
							*dest[2].(*sql.NullString) = sql.NullString{String: hash, Valid: true}
						}
						*dest[3].(*[]byte) = []byte(`[{"id":"acme.com:ada@acme.com","full_name":"Ada","relevance_score":90,"has_email":true,"email":"ada@acme.com","department":"Engineering","is_key_decision_maker":true,"email_status":"valid"}]`)
						*dest[4].(*float64) = 90
						*dest[5].(*int) = 1
						*dest[6].(*time.Time) = fixedNow.Add(time.Hour)
						*dest[7].(*int) = 1
						*dest[8].(*sql.NullTime) = sql.NullTime{Time: fixedNow, Valid: true}
						*dest[9].(*time.Time) = fixedNow
						return nil
					}}
				},
			})

			entry, err := repo.GetContactSearch(context.Background(), tc.key)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entry.Contacts) != 1 || entry.Contacts[0].Email == nil || *entry.Contacts[0].Email != "ada@acme.com" {
				t.Fatalf("unexpected contacts: %+v", entry.Contacts)
			}
			if (entry.JobDescriptionHash == nil) != (tc.key.JobDescriptionHash == nil) {
				t.Fatalf("hash round trip mismatch: %+v", entry.ContactSearchKey)
			}
		})
	}
}

func TestPGXCacheRepository_SetContactSearch(t *testing.T) {
	called := false
	repo := newStubCacheRepo(&stubPool{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			called = true
			if !strings.Contains(query, "ON CONFLICT ON CONSTRAINT contact_search_cache_key") {
				t.Fatalf("expected upsert by key, got %s", query)
			}
			if len(args) != 8 {
				t.Fatalf("expected 8 args, got %d", len(args))
			}
			if args[2] != nil {
				t.Fatalf("expected NULL hash, got %v", args[2])
			}
			var contacts []entity.Contact
			if err := json.Unmarshal([]byte(args[3].(string)), &contacts); err != nil || len(contacts) != 0 {
				t.Fatalf("expected empty contact array, got %v (%v)", args[3], err)
			}
			if args[6] != fixedNow.Add(30*24*time.Hour) {
				t.Fatalf("expected expiry 30 days out, got %v", args[6])
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	entry := &entity.ContactSearchCacheEntry{ContactSearchKey: entity.ContactSearchKey{CompanyDomain: "acme.com", JobTitle: "Intern"}, CacheHitCount: 7}
	if err := repo.SetContactSearch(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected exec to be called")
	}
	if entry.CacheHitCount != 0 || entry.Contacts == nil || !entry.ExpiresAt.Equal(fixedNow.Add(30*24*time.Hour)) {
		t.Fatalf("expected entry reset after write: %+v", entry)
	}
}

func TestPGXCacheRepository_SetValidation(t *testing.T) {
	repo := newStubCacheRepo(&stubPool{})
	if err := repo.SetContactSearch(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil entry")
	}
	if err := repo.SetContactSearch(context.Background(), &entity.ContactSearchCacheEntry{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if err := repo.SetCompanyResearch(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil research")
	}
	if err := repo.SetCompanyResearch(context.Background(), &entity.CompanyResearch{}); err == nil {
		t.Fatalf("expected error for missing domain")
	}
}

func TestPGXCacheRepository_SetCompanyResearch(t *testing.T) {
	phone := "+15125550100"
	repo := newStubCacheRepo(&stubPool{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			if len(args) != 11 {
				t.Fatalf("expected 11 args, got %d", len(args))
			}
			if args[3] != entity.SizeUnknown {
				t.Fatalf("expected unknown size default, got %v", args[3])
			}
			if args[5] != "[]" || args[6] != `["Austin, US"]` {
				t.Fatalf("unexpected json args: %v %v", args[5], args[6])
			}
			if args[7] != phone {
				t.Fatalf("expected phone arg, got %v", args[7])
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	entry := &entity.CompanyResearch{CompanyDomain: "acme.com", OfficeLocations: []string{"Austin, US"}, HeadquartersPhone: &phone}
	if err := repo.SetCompanyResearch(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.SizeCategory != entity.SizeUnknown || !entry.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected entry after write: %+v", entry)
	}
}

func TestPGXCacheRepository_Invalidate(t *testing.T) {
	var queries []string
	repo := newStubCacheRepo(&stubPool{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			queries = append(queries, query)
			return pgconn.NewCommandTag("DELETE 2"), nil
		},
	})

	n, err := repo.InvalidateCompany(context.Background(), "acme.com")
	if err != nil || n != 2 {
		t.Fatalf("unexpected result: %d, %v", n, err)
	}
	if _, err := repo.InvalidateContacts(context.Background(), "acme.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(queries[0], "company_research_cache") || !strings.Contains(queries[1], "contact_search_cache") {
		t.Fatalf("unexpected queries: %v", queries)
	}
}

func TestPGXCacheRepository_CleanupExpired(t *testing.T) {
	tx := &stubTx{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			if args[0] != fixedNow {
				t.Fatalf("expected cutoff now, got %v", args[0])
			}
			if strings.Contains(query, "company_research_cache") {
				return pgconn.NewCommandTag("DELETE 4"), nil
			}
			return pgconn.NewCommandTag("DELETE 9"), nil
		},
	}
	repo := newStubCacheRepo(&stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	})

	result, err := repo.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CompanyDeleted != 4 || result.ContactDeleted != 9 {
		t.Fatalf("unexpected cleanup result: %+v", result)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("expected committed tx, got %+v", tx)
	}
}

func TestPGXCacheRepository_CleanupRollsBackOnError(t *testing.T) {
	tx := &stubTx{
		execFunc: func(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(query, "contact_search_cache") {
				return pgconn.CommandTag{}, errors.New("boom")
			}
			return pgconn.NewCommandTag("DELETE 1"), nil
		},
	}
	repo := newStubCacheRepo(&stubPool{
		beginTxFunc: func(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) { return tx, nil },
	})

	if _, err := repo.CleanupExpired(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("expected rollback, got %+v", tx)
	}
}

func TestPGXCacheRepository_Stats(t *testing.T) {
	calls := 0
	repo := newStubCacheRepo(&stubPool{
		queryRowFunc: func(ctx context.Context, query string, args ...any) pgx.Row {
			calls++
			if calls == 1 {
				if args[0] != fixedNow.AddDate(0, 0, -7) {
					t.Fatalf("expected 7 day window, got %v", args[0])
				}
				return &stubRow{scan: func(dest ...any) error {
					*dest[0].(*int64) = 8
					*dest[1].(*int64) = 6
					*dest[2].(*float64) = 123.456
					return nil
				}}
			}
			return &stubRow{scan: func(dest ...any) error {
				*dest[0].(*int64) = 2
				*dest[1].(*int64) = 5
				return nil
			}}
		},
	})

	stats, err := repo.Stats(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.HitRate != 75 || stats.CreditsSaved != 6 || stats.AvgResponseTimeMs != 123.46 {
		t.Fatalf("unexpected derived stats: %+v", stats)
	}
	if stats.ActiveCompanyEntries != 2 || stats.ActiveContactEntries != 5 || stats.WindowDays != 7 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
}
