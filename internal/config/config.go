// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process exits.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"jobboard/ingestion-service/internal/model"
	"jobboard/ingestion-service/internal/quota"
)

const (
	ProviderJSearch = "jsearch"
	ProviderAdzuna  = "adzuna"

	BroadcastLocal = "local"
	BroadcastRedis = "redis"
)

// DefaultCandidates is the periodic rotation used when SYNC_CANDIDATES is unset.
const DefaultCandidates = "Software Engineer:FULLTIME,Software Engineer:INTERN,Data Analyst:FULLTIME,Product Designer:FULLTIME"

// Config holds all runtime configuration for the ingestion service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	Provider       string // jsearch | adzuna
	JSearchAPIKey  string
	JSearchHost    string
	JSearchBaseURL string
	AdzunaAppID    string
	AdzunaAppKey   string
	AdzunaCountry  string // e.g. "us", "gb", "fr"
	ProviderPages  int    // pages per fetch; also the quota cost
	ProviderRPS    float64

	QuotaCallsPerWindow int
	QuotaWindow         quota.Period

	SyncIntervalHours int
	SyncOnStart       bool
	SyncCandidates    []model.Query
	SyncDefaultRole   string
	CycleTimeout      time.Duration
	Cooldown          time.Duration
	ExcludeTerms      []string

	BroadcastMode    string // local | redis
	WSAllowedOrigins []string
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	dbURL := getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	redisURL := getenv("REDIS_URL")
	if redisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	cfg := &Config{
		Port:            env("INGEST_PORT", "8083"),
		DatabaseURL:     dbURL,
		RedisURL:        redisURL,
		LogLevel:        env("LOG_LEVEL", "info"),
		Provider:        strings.ToLower(env("PROVIDER", ProviderJSearch)),
		JSearchAPIKey:   getenv("JSEARCH_API_KEY"),
		JSearchHost:     env("JSEARCH_HOST", "jsearch.p.rapidapi.com"),
		JSearchBaseURL:  getenv("JSEARCH_BASE_URL"),
		AdzunaAppID:     getenv("ADZUNA_APP_ID"),
		AdzunaAppKey:    getenv("ADZUNA_APP_KEY"),
		AdzunaCountry:   env("ADZUNA_COUNTRY", "us"),
		SyncDefaultRole: env("SYNC_DEFAULT_ROLE", "Software Engineer"),
		ExcludeTerms:    splitList(getenv("EXCLUDE_TERMS")),
		BroadcastMode:   strings.ToLower(env("BROADCAST_MODE", BroadcastLocal)),
	}
	cfg.WSAllowedOrigins = splitList(getenv("WS_ALLOWED_ORIGINS"))

	switch cfg.Provider {
	case ProviderJSearch:
		if cfg.JSearchAPIKey == "" {
			return nil, errors.New("JSEARCH_API_KEY is required when PROVIDER=jsearch")
		}
	case ProviderAdzuna:
		if cfg.AdzunaAppID == "" || cfg.AdzunaAppKey == "" {
			return nil, errors.New("ADZUNA_APP_ID and ADZUNA_APP_KEY are required when PROVIDER=adzuna")
		}
	default:
		return nil, errors.Newf("PROVIDER must be %q or %q, got %q", ProviderJSearch, ProviderAdzuna, cfg.Provider)
	}

	switch cfg.BroadcastMode {
	case BroadcastLocal, BroadcastRedis:
	default:
		return nil, errors.Newf("BROADCAST_MODE must be %q or %q, got %q", BroadcastLocal, BroadcastRedis, cfg.BroadcastMode)
	}

	var err error
	if cfg.ProviderPages, err = positiveInt("PROVIDER_PAGES", env("PROVIDER_PAGES", "1")); err != nil {
		return nil, err
	}
	if cfg.SyncIntervalHours, err = positiveInt("SYNC_INTERVAL_HOURS", env("SYNC_INTERVAL_HOURS", "12")); err != nil {
		return nil, err
	}

	calls := env("QUOTA_CALLS_PER_WINDOW", "200")
	cfg.QuotaCallsPerWindow, err = strconv.Atoi(calls)
	if err != nil || cfg.QuotaCallsPerWindow < 0 {
		return nil, errors.Newf("QUOTA_CALLS_PER_WINDOW must be a non-negative integer, got %q", calls)
	}

	if cfg.QuotaWindow, err = quota.ParsePeriod(env("QUOTA_WINDOW", "monthly")); err != nil {
		return nil, errors.Wrap(err, "QUOTA_WINDOW")
	}

	rps := env("PROVIDER_RPS", "1")
	cfg.ProviderRPS, err = strconv.ParseFloat(rps, 64)
	if err != nil || cfg.ProviderRPS <= 0 {
		return nil, errors.Newf("PROVIDER_RPS must be a positive number, got %q", rps)
	}

	onStart := env("SYNC_ON_START", "false")
	if cfg.SyncOnStart, err = strconv.ParseBool(onStart); err != nil {
		return nil, errors.Newf("SYNC_ON_START must be a boolean, got %q", onStart)
	}

	if cfg.CycleTimeout, err = positiveDuration("CYCLE_TIMEOUT", env("CYCLE_TIMEOUT", "15s")); err != nil {
		return nil, err
	}
	if cfg.Cooldown, err = positiveDuration("COOLDOWN", env("COOLDOWN", "5m")); err != nil {
		return nil, err
	}

	if cfg.SyncCandidates, err = ParseCandidates(env("SYNC_CANDIDATES", DefaultCandidates)); err != nil {
		return nil, errors.Wrap(err, "SYNC_CANDIDATES")
	}

	return cfg, nil
}

// CronSpec is the robfig/cron spec for the periodic trigger.
func (c *Config) CronSpec() string {
	return "@every " + (time.Duration(c.SyncIntervalHours) * time.Hour).String()
}

// ParseCandidates parses "role:TYPE,role:TYPE" into queries. Roles may
// contain spaces; the employment type follows the last colon.
func ParseCandidates(s string) ([]model.Query, error) {
	var out []model.Query
	for _, item := range splitList(s) {
		i := strings.LastIndex(item, ":")
		if i <= 0 || i == len(item)-1 {
			return nil, errors.Newf("candidate %q must be role:TYPE", item)
		}
		role := strings.TrimSpace(item[:i])
		et, err := model.ParseEmploymentType(item[i+1:])
		if err != nil {
			return nil, errors.Wrapf(err, "candidate %q", item)
		}
		if role == "" {
			return nil, errors.Newf("candidate %q has an empty role", item)
		}
		out = append(out, model.Query{Role: role, EmploymentType: et})
	}
	if len(out) == 0 {
		return nil, errors.New("at least one candidate is required")
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func positiveInt(key, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.Newf("%s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}

func positiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.Newf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
