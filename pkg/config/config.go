package config

import (
	"errors"
	"fmt"
	"os"
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

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Planner     PlannerConfig
	Persistence PersistenceConfig
	ResultCache ResultCacheConfig
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
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PlannerConfig holds the defaults applied to every planning request.
type PlannerConfig struct {
	Backend          string
	TimeBudget       time.Duration
	DailyCap         int
	FairnessBound    int
	MorningBound     int
	SessionLabeling  string
	EveningThreshold int
	RestPeriod       bool
	Clustering       bool
	ClusteringBonus  int
	BigRooms         []string
	ResultTTL        time.Duration
	Workers          int
	MaxUploadBytes   int64
}

// PersistenceConfig toggles saving plan runs to Postgres.
type PersistenceConfig struct {
	Enabled bool
}

// ResultCacheConfig governs the Redis-backed plan result cache.
type ResultCacheConfig struct {
	Enabled bool
	TTL     time.Duration
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
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
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	threshold, err := parseClock(v.GetString("PLANNER_EVENING_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("PLANNER_EVENING_THRESHOLD: %w", err)
	}
	backend := strings.ToLower(strings.TrimSpace(v.GetString("PLANNER_BACKEND")))
	if backend != "cp" && backend != "glpk" {
		return nil, fmt.Errorf("PLANNER_BACKEND: unknown backend %q", backend)
	}

	cfg.Planner = PlannerConfig{
		Backend:          backend,
		TimeBudget:       parseDuration(v.GetString("PLANNER_TIME_BUDGET"), 30*time.Second),
		DailyCap:         v.GetInt("PLANNER_DAILY_CAP"),
		FairnessBound:    v.GetInt("PLANNER_FAIRNESS_BOUND"),
		MorningBound:     v.GetInt("PLANNER_MORNING_BOUND"),
		SessionLabeling:  v.GetString("PLANNER_SESSION_LABELING"),
		EveningThreshold: threshold,
		RestPeriod:       v.GetBool("PLANNER_REST_PERIOD"),
		Clustering:       v.GetBool("PLANNER_CLUSTERING"),
		ClusteringBonus:  v.GetInt("PLANNER_CLUSTERING_BONUS"),
		BigRooms:         splitAndTrim(v.GetString("PLANNER_BIG_ROOMS")),
		ResultTTL:        parseDuration(v.GetString("PLANNER_RESULT_TTL"), 30*time.Minute),
		Workers:          v.GetInt("PLANNER_WORKERS"),
		MaxUploadBytes:   v.GetInt64("PLANNER_MAX_UPLOAD_BYTES"),
	}
	if cfg.Planner.DailyCap <= 0 {
		cfg.Planner.DailyCap = 4
	}
	if cfg.Planner.Workers <= 0 {
		cfg.Planner.Workers = 1
	}
	if cfg.Planner.MaxUploadBytes <= 0 {
		cfg.Planner.MaxUploadBytes = 2 * 1024 * 1024
	}

	cfg.Persistence = PersistenceConfig{
		Enabled: v.GetBool("ENABLE_PERSISTENCE"),
	}

	cfg.ResultCache = ResultCacheConfig{
		Enabled: v.GetBool("ENABLE_RESULT_CACHE"),
		TTL:     parseDuration(v.GetString("RESULT_CACHE_TTL"), time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "invigilation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PLANNER_BACKEND", "cp")
	v.SetDefault("PLANNER_TIME_BUDGET", "30s")
	v.SetDefault("PLANNER_DAILY_CAP", 4)
	v.SetDefault("PLANNER_FAIRNESS_BOUND", 2)
	v.SetDefault("PLANNER_MORNING_BOUND", 2)
	v.SetDefault("PLANNER_SESSION_LABELING", "auto")
	v.SetDefault("PLANNER_EVENING_THRESHOLD", "16:00")
	v.SetDefault("PLANNER_REST_PERIOD", false)
	v.SetDefault("PLANNER_CLUSTERING", true)
	v.SetDefault("PLANNER_CLUSTERING_BONUS", 5000)
	v.SetDefault("PLANNER_BIG_ROOMS", "301,303,304,309")
	v.SetDefault("PLANNER_RESULT_TTL", "30m")
	v.SetDefault("PLANNER_WORKERS", 2)
	v.SetDefault("PLANNER_MAX_UPLOAD_BYTES", 2*1024*1024)

	v.SetDefault("ENABLE_PERSISTENCE", false)
	v.SetDefault("ENABLE_RESULT_CACHE", false)
	v.SetDefault("RESULT_CACHE_TTL", "1h")
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

// parseClock reads "HH:MM" into minutes from midnight.
func parseClock(raw string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", raw)
	}
	return h*60 + m, nil
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
