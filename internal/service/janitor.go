package service

import (
	"context"
	"log"
	"time"

	"github.com/ebailine/sivio/api/internal/entity"
)

// ExpiredCleaner removes expired cache entries.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (entity.CleanupResult, error)
}

// LogPruner removes search log rows older than a cutoff.
type LogPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const janitorRunTimeout = 2 * time.Minute

// Janitor periodically deletes expired cache entries and old search logs.
type Janitor struct {
	cache     ExpiredCleaner
	logs      LogPruner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewJanitor builds a janitor. A zero retention keeps search logs forever.
func NewJanitor(cache ExpiredCleaner, logs LogPruner, interval, retention time.Duration) *Janitor {
	return &Janitor{cache: cache, logs: logs, interval: interval, retention: retention, now: time.Now}
}

// Run executes a pass immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		log.Printf("janitor: disabled")
		return
	}
	log.Printf("janitor: starting interval=%s retention=%s", j.interval, j.retention)

	j.runPass(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.runPass(ctx)
		case <-ctx.Done():
			log.Printf("janitor: stopped")
			return
		}
	}
}

func (j *Janitor) runPass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, janitorRunTimeout)
	defer cancel()
	if _, _, err := j.RunOnce(ctx); err != nil {
		log.Printf("janitor: pass failed err=%v", err)
	}
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) (entity.CleanupResult, int64, error) {
	result, err := j.cache.CleanupExpired(ctx)
	if err != nil {
		return entity.CleanupResult{}, 0, err
	}

	var pruned int64
	if j.logs != nil && j.retention > 0 {
		pruned, err = j.logs.DeleteBefore(ctx, j.now().Add(-j.retention))
		if err != nil {
			return result, 0, err
		}
	}

	log.Printf("janitor: pass complete company_deleted=%d contact_deleted=%d logs_pruned=%d",
		result.CompanyDeleted, result.ContactDeleted, pruned)
	return result, pruned, nil
}
