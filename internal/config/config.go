package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	DefaultBranchID string
	OrderIDPrefix   string
	PhoneRegion     string

	LowStockThreshold   int
	DeferStockOnDeposit bool
	IdempotencyTTLHours int
	SubmitLockSeconds   int

	LogLevel  string
	LogFormat string
	LogOutput string
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"DATABASE_URL":             "",
	"RUN_MIGRATIONS":           false,
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"AUTH_SECRET":              "",
	"ACCESS_TOKEN_TTL_MINUTES": 480,
	"DEFAULT_BRANCH_ID":        "HN",
	"ORDER_ID_PREFIX":          "SC",
	"PHONE_REGION":             "VN",
	"LOW_STOCK_THRESHOLD":      2,
	"DEFER_STOCK_ON_DEPOSIT":   true,
	"IDEMPOTENCY_TTL_HOURS":    24,
	"SUBMIT_LOCK_SECONDS":      30,
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"LOG_OUTPUT":               "stdout",
}

// Load reads an optional .env file, then the process environment.
// Variables already set in the environment win over .env entries.
func Load() Config {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) Config {
	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:         v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		DefaultBranchID:       strings.ToUpper(strings.TrimSpace(v.GetString("DEFAULT_BRANCH_ID"))),
		OrderIDPrefix:         strings.ToUpper(strings.TrimSpace(v.GetString("ORDER_ID_PREFIX"))),
		PhoneRegion:           strings.ToUpper(strings.TrimSpace(v.GetString("PHONE_REGION"))),
		LowStockThreshold:     v.GetInt("LOW_STOCK_THRESHOLD"),
		DeferStockOnDeposit:   v.GetBool("DEFER_STOCK_ON_DEPOSIT"),
		IdempotencyTTLHours:   v.GetInt("IDEMPOTENCY_TTL_HOURS"),
		SubmitLockSeconds:     v.GetInt("SUBMIT_LOCK_SECONDS"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:             strings.ToLower(v.GetString("LOG_FORMAT")),
		LogOutput:             v.GetString("LOG_OUTPUT"),
	}

	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.LowStockThreshold < 0 {
		cfg.LowStockThreshold = 2
	}
	if cfg.IdempotencyTTLHours < 1 {
		cfg.IdempotencyTTLHours = 24
	}
	if cfg.SubmitLockSeconds < 1 {
		cfg.SubmitLockSeconds = 30
	}
	if cfg.OrderIDPrefix == "" {
		cfg.OrderIDPrefix = "SC"
	}
	if cfg.DefaultBranchID == "" {
		cfg.DefaultBranchID = "HN"
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = "VN"
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

func (c Config) SubmitLockTTL() time.Duration {
	return time.Duration(c.SubmitLockSeconds) * time.Second
}
