package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebailine/sivio/api/internal/entity"
	"github.com/ebailine/sivio/api/internal/repository"
)

const (
	defaultLogBuffer       = 256
	defaultLogWriteTimeout = 5 * time.Second
)

// SearchLogger records discovery attempts in the background. Record never
// blocks the caller: when the buffer is full or a write fails the entry is
// dropped and counted.
type SearchLogger struct {
	repo         repository.SearchLogRepository
	entries      chan entity.SearchLogEntry
	writeTimeout time.Duration
	failed       atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewSearchLogger starts the background writer. bufferSize <= 0 uses the default.
func NewSearchLogger(repo repository.SearchLogRepository, bufferSize int) *SearchLogger {
	if bufferSize <= 0 {
		bufferSize = defaultLogBuffer
	}
	l := &SearchLogger{
		repo:         repo,
		entries:      make(chan entity.SearchLogEntry, bufferSize),
		writeTimeout: defaultLogWriteTimeout,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record enqueues entry for persistence.
func (l *SearchLogger) Record(entry entity.SearchLogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(entry, "logger closed")
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.drop(entry, "buffer full")
	}
}

// FailedWrites reports how many entries were dropped or failed to persist.
func (l *SearchLogger) FailedWrites() int64 {
	return l.failed.Load()
}

// Close stops accepting entries and waits for queued ones to be written.
func (l *SearchLogger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *SearchLogger) run() {
	defer l.wg.Done()
	for entry := range l.entries {
		l.write(entry)
	}
}

func (l *SearchLogger) write(entry entity.SearchLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	if err := l.repo.Insert(ctx, &entry); err != nil {
		l.failed.Add(1)
		log.Printf("search log: write failed domain=%s cache_hit=%t err=%v", entry.CompanyDomain, entry.CacheHit, err)
	}
}

func (l *SearchLogger) drop(entry entity.SearchLogEntry, reason string) {
	l.failed.Add(1)
	log.Printf("search log: dropped entry domain=%s reason=%q", entry.CompanyDomain, reason)
}
