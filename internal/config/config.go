package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends supported by the comparable-search cache.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
	CacheBackendNone     = "none"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	CORS        CORSConfig
	Cache       CacheConfig
	Comparables ComparableConfig
	Ratio       RatioConfig
	Regression  RegressionConfig
	Reference   ReferenceConfig
	Schedule    ScheduleConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	Env            string
	RequestTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// DSN returns the PostgreSQL connection string for this configuration.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.Name,
	)
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// CacheConfig selects and configures the comparable-search cache.
type CacheConfig struct {
	Backend   string
	RedisAddr string
	RedisDB   int
	Freshness time.Duration
}

// ComparableConfig holds the comparable finder's search policy.
type ComparableConfig struct {
	DefaultRadiusMeters float64
	MinUseful           int
	MaxExpansionFactor  float64
	MaxExpansionSteps   int
	QueryTimeout        time.Duration
	DefaultLimit        int
	MaxLimit            int
	SaleWindowStart     time.Time
	MinSalePrice        float64
}

// RatioConfig holds ratio-study thresholds.
type RatioConfig struct {
	LowSample int
	CODMin    float64
	CODMax    float64
	PRDMin    float64
	PRDMax    float64
	TrimLow   float64
	TrimHigh  float64
}

// RegressionConfig holds regression fitting job settings.
type RegressionConfig struct {
	DiagnosticsDir    string
	MinSegmentSize    int
	MaxStepwiseSteps  int
	Workers           int
	DefaultPredictors string
	DefaultBundle     string
	Timeout           time.Duration
}

// ReferenceConfig points at an optional YAML override for the lookup tables.
type ReferenceConfig struct {
	TablesPath string
}

// ScheduleConfig holds the cron expression for background refreshes and
// the deadline each refresh runs under.
type ScheduleConfig struct {
	RatioStudyCron    string
	RatioStudyTimeout time.Duration
}

// Load reads configuration from environment variables.
// Defaults are tuned for local development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "appraisal")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.SetDefault("CACHE_BACKEND", CacheBackendPostgres)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_FRESHNESS", "24h")

	v.SetDefault("COMPARABLE_DEFAULT_RADIUS", 1000.0)
	v.SetDefault("COMPARABLE_MIN_USEFUL", 5)
	v.SetDefault("COMPARABLE_MAX_EXPANSION_FACTOR", 5.0)
	v.SetDefault("COMPARABLE_MAX_STEPS", 4)
	v.SetDefault("COMPARABLE_QUERY_TIMEOUT", "3s")
	v.SetDefault("COMPARABLE_DEFAULT_LIMIT", 16)
	v.SetDefault("COMPARABLE_MAX_LIMIT", 24)
	v.SetDefault("SALE_WINDOW_START", "2015-01-01")
	v.SetDefault("MIN_SALE_PRICE", 10000.0)

	v.SetDefault("RATIO_LOW_SAMPLE", 5)
	v.SetDefault("RATIO_COD_MIN", 5.0)
	v.SetDefault("RATIO_COD_MAX", 15.0)
	v.SetDefault("RATIO_PRD_MIN", 0.98)
	v.SetDefault("RATIO_PRD_MAX", 1.03)
	v.SetDefault("RATIO_TRIM_LOW", 0.25)
	v.SetDefault("RATIO_TRIM_HIGH", 2.5)

	v.SetDefault("REGRESSION_DIAGNOSTICS_DIR", "data/regression_stats")
	v.SetDefault("REGRESSION_MIN_SEGMENT", 30)
	v.SetDefault("REGRESSION_MAX_STEPS", 25)
	v.SetDefault("REGRESSION_WORKERS", 4)
	v.SetDefault("REGRESSION_PREDICTORS", "core")
	v.SetDefault("REGRESSION_BUNDLE", "time")
	v.SetDefault("REGRESSION_TIMEOUT", "2h")

	v.SetDefault("REFERENCE_TABLES", "")
	v.SetDefault("RATIO_STUDY_CRON", "0 3 * * *")
	v.SetDefault("RATIO_STUDY_TIMEOUT", "15m")

	v.AutomaticEnv()

	windowStart, err := time.Parse(time.DateOnly, v.GetString("SALE_WINDOW_START"))
	if err != nil {
		return nil, fmt.Errorf("SALE_WINDOW_START must be YYYY-MM-DD: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			Env:            v.GetString("ENV"),
			RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Cache: CacheConfig{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString("CACHE_BACKEND"))),
			RedisAddr: v.GetString("REDIS_ADDR"),
			RedisDB:   v.GetInt("REDIS_DB"),
			Freshness: v.GetDuration("CACHE_FRESHNESS"),
		},
		Comparables: ComparableConfig{
			DefaultRadiusMeters: v.GetFloat64("COMPARABLE_DEFAULT_RADIUS"),
			MinUseful:           v.GetInt("COMPARABLE_MIN_USEFUL"),
			MaxExpansionFactor:  v.GetFloat64("COMPARABLE_MAX_EXPANSION_FACTOR"),
			MaxExpansionSteps:   v.GetInt("COMPARABLE_MAX_STEPS"),
			QueryTimeout:        v.GetDuration("COMPARABLE_QUERY_TIMEOUT"),
			DefaultLimit:        v.GetInt("COMPARABLE_DEFAULT_LIMIT"),
			MaxLimit:            v.GetInt("COMPARABLE_MAX_LIMIT"),
			SaleWindowStart:     windowStart,
			MinSalePrice:        v.GetFloat64("MIN_SALE_PRICE"),
		},
		Ratio: RatioConfig{
			LowSample: v.GetInt("RATIO_LOW_SAMPLE"),
			CODMin:    v.GetFloat64("RATIO_COD_MIN"),
			CODMax:    v.GetFloat64("RATIO_COD_MAX"),
			PRDMin:    v.GetFloat64("RATIO_PRD_MIN"),
			PRDMax:    v.GetFloat64("RATIO_PRD_MAX"),
			TrimLow:   v.GetFloat64("RATIO_TRIM_LOW"),
			TrimHigh:  v.GetFloat64("RATIO_TRIM_HIGH"),
		},
		Regression: RegressionConfig{
			DiagnosticsDir:    v.GetString("REGRESSION_DIAGNOSTICS_DIR"),
			MinSegmentSize:    v.GetInt("REGRESSION_MIN_SEGMENT"),
			MaxStepwiseSteps:  v.GetInt("REGRESSION_MAX_STEPS"),
			Workers:           v.GetInt("REGRESSION_WORKERS"),
			DefaultPredictors: v.GetString("REGRESSION_PREDICTORS"),
			DefaultBundle:     v.GetString("REGRESSION_BUNDLE"),
			Timeout:           v.GetDuration("REGRESSION_TIMEOUT"),
		},
		Reference: ReferenceConfig{
			TablesPath: v.GetString("REFERENCE_TABLES"),
		},
		Schedule: ScheduleConfig{
			RatioStudyCron:    v.GetString("RATIO_STUDY_CRON"),
			RatioStudyTimeout: v.GetDuration("RATIO_STUDY_TIMEOUT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	switch c.Cache.Backend {
	case CacheBackendPostgres, CacheBackendNone:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of postgres, redis, none (got %q)", c.Cache.Backend)
	}
	if c.Cache.Freshness <= 0 {
		return fmt.Errorf("CACHE_FRESHNESS must be positive")
	}

	if err := c.Comparables.validate(); err != nil {
		return err
	}
	if err := c.Ratio.validate(); err != nil {
		return err
	}

	if c.Regression.MinSegmentSize < 2 {
		return fmt.Errorf("REGRESSION_MIN_SEGMENT must be at least 2")
	}
	if c.Regression.Workers < 1 {
		return fmt.Errorf("REGRESSION_WORKERS must be at least 1")
	}
	if c.Regression.Timeout <= 0 {
		return fmt.Errorf("REGRESSION_TIMEOUT must be positive")
	}
	if c.Schedule.RatioStudyTimeout <= 0 {
		return fmt.Errorf("RATIO_STUDY_TIMEOUT must be positive")
	}

	return nil
}

func (c ComparableConfig) validate() error {
	if c.DefaultRadiusMeters <= 0 {
		return fmt.Errorf("COMPARABLE_DEFAULT_RADIUS must be positive")
	}
	if c.MinUseful < 1 {
		return fmt.Errorf("COMPARABLE_MIN_USEFUL must be at least 1")
	}
	if c.MaxExpansionFactor < 1 {
		return fmt.Errorf("COMPARABLE_MAX_EXPANSION_FACTOR must be at least 1")
	}
	if c.MaxExpansionSteps < 0 {
		return fmt.Errorf("COMPARABLE_MAX_STEPS must be non-negative")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("COMPARABLE_QUERY_TIMEOUT must be positive")
	}
	if c.DefaultLimit < 1 || c.DefaultLimit > c.MaxLimit {
		return fmt.Errorf("COMPARABLE_DEFAULT_LIMIT must be between 1 and COMPARABLE_MAX_LIMIT")
	}
	if c.MinSalePrice < 0 {
		return fmt.Errorf("MIN_SALE_PRICE must be non-negative")
	}
	return nil
}

func (r RatioConfig) validate() error {
	if r.LowSample < 2 {
		return fmt.Errorf("RATIO_LOW_SAMPLE must be at least 2")
	}
	if r.CODMin < 0 || r.CODMin >= r.CODMax {
		return fmt.Errorf("RATIO_COD_MIN must be non-negative and below RATIO_COD_MAX")
	}
	if r.PRDMin <= 0 || r.PRDMin >= r.PRDMax {
		return fmt.Errorf("RATIO_PRD_MIN must be positive and below RATIO_PRD_MAX")
	}
	if r.TrimLow < 0 || (r.TrimHigh > 0 && r.TrimHigh <= r.TrimLow) {
		return fmt.Errorf("RATIO_TRIM_LOW must be non-negative and below RATIO_TRIM_HIGH")
	}
	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
