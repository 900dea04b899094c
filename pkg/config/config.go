package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	Cache        CacheConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Coordination CoordinationConfig
	Travel       TravelConfig
	Exports      ExportsConfig
	Activity     ActivityConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CoordinationConfig tunes the slot assignment and negotiation engine.
type CoordinationConfig struct {
	WorkingHoursStart    int
	WorkingHoursEnd      int
	SlotMinutes          int
	MaxChainDepth        int
	RetryAttempts        int
	InterventionRuns     int
	RequireChainConsent  bool
	RelocationVicinity   int
	MinQuotaMinutes      int
	MaxQuotaMinutes      int
}

// TravelConfig governs the optional travel-time aware relocation mode.
type TravelConfig struct {
	Enabled     bool
	ProviderURL string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

// CacheConfig controls the Redis-backed read cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// ExportsConfig toggles timetable export endpoints. ArchiveDir, when set,
// keeps a copy of every rendered export on local disk.
type ExportsConfig struct {
	Enabled    bool
	ArchiveDir string
	TokenTTL   time.Duration
}

// ActivityConfig sizes the fire-and-forget activity writer.
type ActivityConfig struct {
	Workers    int
	BufferSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Coordination = CoordinationConfig{
		WorkingHoursStart:   v.GetInt("COORDINATION_WORKING_HOURS_START"),
		WorkingHoursEnd:     v.GetInt("COORDINATION_WORKING_HOURS_END"),
		SlotMinutes:         v.GetInt("COORDINATION_SLOT_MINUTES"),
		MaxChainDepth:       v.GetInt("COORDINATION_MAX_CHAIN_DEPTH"),
		RetryAttempts:       v.GetInt("COORDINATION_RETRY_ATTEMPTS"),
		InterventionRuns:    v.GetInt("COORDINATION_INTERVENTION_RUNS"),
		RequireChainConsent: v.GetBool("COORDINATION_REQUIRE_CHAIN_CONSENT"),
		RelocationVicinity:  v.GetInt("COORDINATION_RELOCATION_VICINITY_DAYS"),
		MinQuotaMinutes:     v.GetInt("COORDINATION_MIN_QUOTA_MINUTES"),
		MaxQuotaMinutes:     v.GetInt("COORDINATION_MAX_QUOTA_MINUTES"),
	}

	cfg.Travel = TravelConfig{
		Enabled:     v.GetBool("TRAVEL_ENABLED"),
		ProviderURL: v.GetString("TRAVEL_PROVIDER_URL"),
		CacheTTL:    parseDuration(v.GetString("TRAVEL_CACHE_TTL"), time.Hour),
		Timeout:     parseDuration(v.GetString("TRAVEL_TIMEOUT"), 5*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.Exports = ExportsConfig{
		Enabled:    v.GetBool("ENABLE_EXPORTS"),
		ArchiveDir: v.GetString("EXPORT_ARCHIVE_DIR"),
		TokenTTL:   parseDuration(v.GetString("EXPORT_TOKEN_TTL"), 24*time.Hour),
	}

	cfg.Activity = ActivityConfig{
		Workers:    v.GetInt("ACTIVITY_WORKERS"),
		BufferSize: v.GetInt("ACTIVITY_BUFFER_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ai_schedule")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("COORDINATION_WORKING_HOURS_START", 9)
	v.SetDefault("COORDINATION_WORKING_HOURS_END", 18)
	v.SetDefault("COORDINATION_SLOT_MINUTES", 30)
	v.SetDefault("COORDINATION_MAX_CHAIN_DEPTH", 5)
	v.SetDefault("COORDINATION_RETRY_ATTEMPTS", 3)
	v.SetDefault("COORDINATION_INTERVENTION_RUNS", 2)
	v.SetDefault("COORDINATION_REQUIRE_CHAIN_CONSENT", false)
	v.SetDefault("COORDINATION_RELOCATION_VICINITY_DAYS", 3)
	v.SetDefault("COORDINATION_MIN_QUOTA_MINUTES", 10)
	v.SetDefault("COORDINATION_MAX_QUOTA_MINUTES", 600)

	v.SetDefault("TRAVEL_ENABLED", false)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORT_ARCHIVE_DIR", "")

	v.SetDefault("ACTIVITY_WORKERS", 2)
	v.SetDefault("ACTIVITY_BUFFER_SIZE", 64)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
