package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebailine/sivio/api/internal/entity"
)

// SearchLogRepository appends discovery attempts and prunes old ones.
type SearchLogRepository interface {
	Insert(ctx context.Context, entry *entity.SearchLogEntry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGXSearchLogRepository implements SearchLogRepository with pgx.
type PGXSearchLogRepository struct {
	pool pgxPool
	now  func() time.Time
}

// NewPGXSearchLogRepository instantiates a search log repository.
func NewPGXSearchLogRepository(pool *pgxpool.Pool, opts ...Option) *PGXSearchLogRepository {
	o := buildOptions(opts)
	return &PGXSearchLogRepository{pool: pool, now: o.now}
}

// Insert appends a log row. Missing ids and timestamps are filled in.
func (r *PGXSearchLogRepository) Insert(ctx context.Context, entry *entity.SearchLogEntry) error {
	if entry == nil {
		return fmt.Errorf("search log payload is nil")
	}
	prepareLogEntry(entry, r.now)

	_, err := r.pool.Exec(ctx, `
        INSERT INTO search_logs (
            id,
            user_id,
            company_domain,
            job_title,
            cache_hit,
            contacts_found,
            contacts_returned,
            credits_used,
            response_time_ms,
            status,
            error_message,
            created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `,
		entry.ID,
		entry.UserID,
		entry.CompanyDomain,
		entry.JobTitle,
		entry.CacheHit,
		entry.ContactsFound,
		entry.ContactsReturned,
		entry.CreditsUsed,
		entry.ResponseTimeMs,
		entry.Status,
		stringOrNil(entry.ErrorMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search log: %w", err)
	}
	return nil
}

// DeleteBefore removes log rows created before cutoff.
func (r *PGXSearchLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM search_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete search logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func prepareLogEntry(entry *entity.SearchLogEntry, now func() time.Time) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	if entry.Status == "" {
		entry.Status = entity.SearchStatusSuccess
	}
}
