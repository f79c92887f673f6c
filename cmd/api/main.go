package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/ebailine/sivio/api/internal/auth"
	"github.com/ebailine/sivio/api/internal/billing"
	"github.com/ebailine/sivio/api/internal/config"
	"github.com/ebailine/sivio/api/internal/database"
	"github.com/ebailine/sivio/api/internal/domainsearch"
	"github.com/ebailine/sivio/api/internal/handler"
	"github.com/ebailine/sivio/api/internal/keylock"
	middlewarepkg "github.com/ebailine/sivio/api/internal/middleware"
	"github.com/ebailine/sivio/api/internal/repository"
	"github.com/ebailine/sivio/api/internal/router"
	"github.com/ebailine/sivio/api/internal/service"
	"github.com/ebailine/sivio/api/internal/service/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		cacheRepo repository.CacheRepository
		logRepo   repository.SearchLogRepository
	)
	switch cfg.Cache.Backend {
	case "memory":
		mem := repository.NewMemoryCacheRepository(cfg.Cache.TTL)
		cacheRepo, logRepo = mem, mem
		log.Printf("cache backend=memory ttl=%s", cfg.Cache.TTL)
	default:
		pool, err := database.Connect(ctx, cfg.DatabaseURL, database.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			log.Fatalf("failed to connect database: %v", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		cacheRepo = repository.NewPGXCacheRepository(pool, cfg.Cache.TTL)
		logRepo = repository.NewPGXSearchLogRepository(pool)
		log.Printf("cache backend=postgres ttl=%s", cfg.Cache.TTL)
	}

	policy, err := scoring.LoadPolicy(cfg.Scoring.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load scoring policy: %v", err)
	}
	scorer := scoring.New(policy.WithLimits(cfg.Scoring.ScoreFloor, cfg.Scoring.ResultCap))

	locker := keylock.Locker(keylock.NewLocalLocker())
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		locker = keylock.Chain(locker, keylock.NewRedisLocker(rdb, cfg.LockTTL))
		log.Printf("search lock backend=redis ttl=%s", cfg.LockTTL)
	}

	var ledger billing.Ledger = billing.UnlimitedLedger{}
	if cfg.BillingBaseURL != "" {
		httpLedger, err := billing.NewHTTPLedger(nil, cfg.BillingBaseURL)
		if err != nil {
			log.Fatalf("failed to configure billing: %v", err)
		}
		ledger = httpLedger
	} else {
		log.Printf("billing: BILLING_BASE_URL not set, credits are not enforced")
	}

	if !cfg.HasProspectCredentials() {
		log.Printf("domainsearch: PROSPECT_CLIENT_ID/PROSPECT_CLIENT_SECRET not set, searches will fail")
	}
	prospects := domainsearch.NewClient(cfg.Prospect, nil)

	searchLogger := service.NewSearchLogger(logRepo, cfg.Cache.SearchLogBuffer)

	discoveryOpts := []service.DiscoveryOption{
		service.WithLocker(locker),
		service.WithCreditChecker(ledger),
		service.WithCreditsPerSearch(cfg.CreditsPerSearch),
		service.WithSearchLimit(cfg.Prospect.SearchLimit),
		service.WithDiscoveryTimeout(cfg.DiscoveryTimeout),
		service.WithResearchTimeout(cfg.ResearchTimeout),
	}
	if cfg.ResearchEnabled {
		discoveryOpts = append(discoveryOpts, service.WithResearch(service.NewCompanyResearchService(prospects, cacheRepo)))
	}
	discovery := service.NewDiscoveryService(prospects, scorer, cacheRepo, searchLogger, discoveryOpts...)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, 0, auth.WithIssuer(cfg.JWTIssuer), auth.WithAudience(cfg.JWTAudience))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middlewarepkg.RequestID())
	e.Use(middlewarepkg.Logging())
	e.Use(echoMiddleware.Recover())

	router.Register(e, cfg, jwtManager, router.Handlers{
		Contacts: handler.NewContactsHandler(discovery, ledger),
		Cache:    handler.NewCacheHandler(discovery),
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := service.NewJanitor(cacheRepo, logRepo, cfg.Cache.CleanupInterval, cfg.Cache.SearchLogRetention)
	go janitor.Run(janitorCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(":" + cfg.Port)
	}()
	log.Printf("listening on :%s", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	stopJanitor()
	searchLogger.Close()
	log.Printf("search log: failed_writes=%d", searchLogger.FailedWrites())
}
