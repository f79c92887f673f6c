package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig indicates how many requests are allowed within a given interval.
type RateLimitConfig struct {
	Requests int
	Interval time.Duration
}

// ProspectAPIConfig holds credentials and polling behaviour for the domain search provider.
type ProspectAPIConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	SearchLimit  int
	PollAttempts int
	PollInterval time.Duration
	InitialDelay time.Duration
}

// CacheConfig controls TTLs and maintenance of the discovery caches.
type CacheConfig struct {
	Backend            string
	TTL                time.Duration
	CleanupInterval    time.Duration
	SearchLogRetention time.Duration
	SearchLogBuffer    int
}

// ScoringConfig controls relevance filtering of discovered contacts.
type ScoringConfig struct {
	ScoreFloor int
	ResultCap  int
	PolicyPath string
}

// Config aggregates application-wide configuration values.
type Config struct {
	DatabaseURL       string
	DBMaxConns        int
	JWTSecret         string
	JWTIssuer         string
	JWTAudience       string
	Port              string
	RedisURL          string
	LockTTL           time.Duration
	BillingBaseURL    string
	CreditsPerSearch  int
	ResearchEnabled   bool
	DiscoveryTimeout  time.Duration
	ResearchTimeout   time.Duration
	RateLimitDiscover RateLimitConfig
	Prospect          ProspectAPIConfig
	Cache             CacheConfig
	Scoring           ScoringConfig
}

// Load reads configuration from environment variables and applies sane defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       parseInt(getEnv("DB_MAX_CONNS", "10"), 10),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		JWTIssuer:        os.Getenv("JWT_ISSUER"),
		JWTAudience:      os.Getenv("JWT_AUDIENCE"),
		Port:             getEnv("PORT", "8080"),
		RedisURL:         os.Getenv("REDIS_URL"),
		LockTTL:          parseDuration(getEnv("LOCK_TTL", "60s"), time.Minute),
		BillingBaseURL:   strings.TrimRight(os.Getenv("BILLING_BASE_URL"), "/"),
		CreditsPerSearch: parseInt(getEnv("CREDITS_PER_SEARCH", "1"), 1),
		ResearchEnabled:  parseBool(getEnv("RESEARCH_ENABLED", "true"), true),
		DiscoveryTimeout: parseDuration(getEnv("DISCOVERY_TIMEOUT", "45s"), 45*time.Second),
		ResearchTimeout:  parseDuration(os.Getenv("RESEARCH_TIMEOUT"), 0),
		Prospect: ProspectAPIConfig{
			BaseURL:      strings.TrimRight(getEnv("PROSPECT_API_BASE_URL", "https://api.snov.io/v2"), "/"),
			TokenURL:     getEnv("PROSPECT_TOKEN_URL", "https://api.snov.io/v1/oauth/access_token"),
			ClientID:     os.Getenv("PROSPECT_CLIENT_ID"),
			ClientSecret: os.Getenv("PROSPECT_CLIENT_SECRET"),
			SearchLimit:  parseInt(getEnv("PROSPECT_SEARCH_LIMIT", "50"), 50),
			PollAttempts: parseInt(getEnv("POLL_ATTEMPTS", "5"), 5),
			PollInterval: parseDuration(getEnv("POLL_INTERVAL", "2s"), 2*time.Second),
			InitialDelay: parseDuration(getEnv("POLL_INITIAL_DELAY", "3s"), 3*time.Second),
		},
		Cache: CacheConfig{
			Backend:            strings.ToLower(getEnv("CACHE_BACKEND", "postgres")),
			TTL:                parseDuration(getEnv("CACHE_TTL", "720h"), 30*24*time.Hour),
			CleanupInterval:    parseDuration(getEnv("CACHE_CLEANUP_INTERVAL", "6h"), 6*time.Hour),
			SearchLogRetention: parseDuration(getEnv("SEARCH_LOG_RETENTION", "2160h"), 90*24*time.Hour),
			SearchLogBuffer:    parseInt(getEnv("SEARCH_LOG_BUFFER", "256"), 256),
		},
		Scoring: ScoringConfig{
			ScoreFloor: parseInt(getEnv("SCORE_FLOOR", "50"), 50),
			ResultCap:  parseInt(getEnv("RESULT_CAP", "20"), 20),
			PolicyPath: os.Getenv("SCORING_POLICY_PATH"),
		},
	}

	switch cfg.Cache.Backend {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("invalid CACHE_BACKEND value: %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND=postgres")
	}
	if cfg.Scoring.ScoreFloor < 0 || cfg.Scoring.ScoreFloor > 100 {
		return nil, fmt.Errorf("SCORE_FLOOR must be within 0..100, got %d", cfg.Scoring.ScoreFloor)
	}

	rl, err := parseRateLimit(getEnv("RATE_LIMIT_DISCOVERY", "10/min"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_DISCOVERY value: %w", err)
	}
	cfg.RateLimitDiscover = rl

	return cfg, nil
}

// HasProspectCredentials reports whether the provider client can authenticate.
func (c *Config) HasProspectCredentials() bool {
	return c.Prospect.ClientID != "" && c.Prospect.ClientSecret != ""
}

func parseRateLimit(value string) (RateLimitConfig, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("expected format <requests>/<interval>, got %q", value)
	}

	requests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || requests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid request count: %v", parts[0])
	}

	unit := strings.ToLower(strings.TrimSpace(parts[1]))
	var interval time.Duration
	switch unit {
	case "s", "sec", "second", "seconds":
		interval = time.Second
	case "m", "min", "minute", "minutes":
		interval = time.Minute
	case "h", "hr", "hour", "hours":
		interval = time.Hour
	default:
		return RateLimitConfig{}, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	return RateLimitConfig{Requests: requests, Interval: interval}, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseDuration(input string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(input)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseInt(input string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func parseBool(input string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(input))
	if err != nil {
		return fallback
	}
	return v
}
