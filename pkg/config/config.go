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

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Fees        FeesConfig
	AbsenceFine AbsenceFineConfig
	Statements  StatementsConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	AutoMigrate    bool
	MigrationsPath string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// FeesConfig tunes ledger behaviour.
type FeesConfig struct {
	DefaultMonthlyFee    float64
	Currency             string
	PaymentGuardTTL      time.Duration
	SummaryCacheTTL      time.Duration
	AutoGenerate         bool
	GenerationInterval   time.Duration
	GenerationWorkers    int
	GenerationMaxRetries int
}

// AbsenceFineConfig holds the escalation policy.
type AbsenceFineConfig struct {
	AllowedAbsences int
	BaseFineUnit    float64
	HistoryLimit    int
}

// StatementsConfig controls rendered fee statements.
type StatementsConfig struct {
	SchoolName string
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:           v.GetString("DB_HOST"),
		Port:           v.GetInt("DB_PORT"),
		User:           v.GetString("DB_USER"),
		Password:       v.GetString("DB_PASSWORD"),
		Name:           v.GetString("DB_NAME"),
		SSLMode:        v.GetString("DB_SSL_MODE"),
		MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:   v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:    v.GetBool("DB_AUTO_MIGRATE"),
		MigrationsPath: v.GetString("DB_MIGRATIONS_PATH"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Fees = FeesConfig{
		DefaultMonthlyFee:    v.GetFloat64("FEES_DEFAULT_MONTHLY_FEE"),
		Currency:             v.GetString("FEES_CURRENCY"),
		PaymentGuardTTL:      parseDuration(v.GetString("FEES_PAYMENT_GUARD_TTL"), 24*time.Hour),
		SummaryCacheTTL:      parseDuration(v.GetString("FEES_SUMMARY_CACHE_TTL"), 5*time.Minute),
		AutoGenerate:         v.GetBool("FEES_AUTO_GENERATE"),
		GenerationInterval:   parseDuration(v.GetString("FEES_GENERATION_INTERVAL"), 6*time.Hour),
		GenerationWorkers:    v.GetInt("FEES_GENERATION_WORKERS"),
		GenerationMaxRetries: v.GetInt("FEES_GENERATION_MAX_RETRIES"),
	}

	cfg.AbsenceFine = AbsenceFineConfig{
		AllowedAbsences: v.GetInt("ABSENCE_ALLOWED_PER_MONTH"),
		BaseFineUnit:    v.GetFloat64("ABSENCE_BASE_FINE_UNIT"),
		HistoryLimit:    v.GetInt("ABSENCE_HISTORY_LIMIT"),
	}

	cfg.Statements = StatementsConfig{
		SchoolName: v.GetString("STATEMENT_SCHOOL_NAME"),
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
	v.SetDefault("DB_NAME", "school_finance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_MIGRATIONS_PATH", "")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-finance-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FEES_DEFAULT_MONTHLY_FEE", 2500)
	v.SetDefault("FEES_CURRENCY", "PKR")
	v.SetDefault("FEES_PAYMENT_GUARD_TTL", "24h")
	v.SetDefault("FEES_SUMMARY_CACHE_TTL", "5m")
	v.SetDefault("FEES_AUTO_GENERATE", false)
	v.SetDefault("FEES_GENERATION_INTERVAL", "6h")
	v.SetDefault("FEES_GENERATION_WORKERS", 1)
	v.SetDefault("FEES_GENERATION_MAX_RETRIES", 3)

	v.SetDefault("ABSENCE_ALLOWED_PER_MONTH", 3)
	v.SetDefault("ABSENCE_BASE_FINE_UNIT", 500)
	v.SetDefault("ABSENCE_HISTORY_LIMIT", 12)

	v.SetDefault("STATEMENT_SCHOOL_NAME", "School Fee Statement")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
