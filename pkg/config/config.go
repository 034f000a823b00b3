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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Admission     AdmissionConfig
	Catalog       CatalogConfig
	Notifications NotificationsConfig
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
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AdmissionConfig tunes the enrollment admission engine.
type AdmissionConfig struct {
	Lanes           int
	LaneBuffer      int
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	MaxCredits      int
	JobRetention    time.Duration
	JanitorInterval time.Duration
	RecoveryBatch   int
}

// CatalogConfig governs section snapshot caching.
type CatalogConfig struct {
	CacheTTL time.Duration
}

// NotificationsConfig names the pub/sub channel enrollment outcomes are
// published to for the external notification dispatcher.
type NotificationsConfig struct {
	Enabled bool
	Channel string
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

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Admission = AdmissionConfig{
		Lanes:           v.GetInt("ADMISSION_LANES"),
		LaneBuffer:      v.GetInt("ADMISSION_LANE_BUFFER"),
		MaxAttempts:     v.GetInt("ADMISSION_MAX_ATTEMPTS"),
		RetryBaseDelay:  parseDuration(v.GetString("ADMISSION_RETRY_BASE_DELAY"), 100*time.Millisecond),
		MaxCredits:      v.GetInt("ADMISSION_MAX_CREDITS"),
		JobRetention:    parseDuration(v.GetString("ADMISSION_JOB_RETENTION"), 24*time.Hour),
		JanitorInterval: parseDuration(v.GetString("ADMISSION_JANITOR_INTERVAL"), time.Hour),
		RecoveryBatch:   v.GetInt("ADMISSION_RECOVERY_BATCH"),
	}

	cfg.Catalog = CatalogConfig{
		CacheTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled: v.GetBool("ENABLE_NOTIFICATIONS"),
		Channel: v.GetString("NOTIFICATION_CHANNEL"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "registrar")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "registrar")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ADMISSION_LANES", 8)
	v.SetDefault("ADMISSION_LANE_BUFFER", 64)
	v.SetDefault("ADMISSION_MAX_ATTEMPTS", 3)
	v.SetDefault("ADMISSION_RETRY_BASE_DELAY", "100ms")
	v.SetDefault("ADMISSION_MAX_CREDITS", 18)
	v.SetDefault("ADMISSION_JOB_RETENTION", "24h")
	v.SetDefault("ADMISSION_JANITOR_INTERVAL", "1h")
	v.SetDefault("ADMISSION_RECOVERY_BATCH", 100)

	v.SetDefault("CATALOG_CACHE_TTL", "5m")

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NOTIFICATION_CHANNEL", "enrollment-events")
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
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
