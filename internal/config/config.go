package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env           string
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// and X-Real-IP headers name the caller. Empty means RemoteAddr only.
	TrustedProxies []string

	AuthSecret            string
	AccessTokenTTLMinutes int

	// BootstrapOwner* create the first owner account when the user table
	// has none. Ignored once an owner exists.
	BootstrapOwnerUsername string
	BootstrapOwnerPassword string

	LogLevel  string
	LogFormat string
	LogOutput string

	// WholesaleReceiverID is the user who confirms completion transfers.
	WholesaleReceiverID string
	CostAverageWindow   int
	IdempotencyLockTTL  time.Duration
	MaxBodyBytes        int64
}

// Load reads configuration from the environment, after merging an optional
// .env file in the working directory.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("COST_AVERAGE_WINDOW", 5)
	v.SetDefault("IDEMPOTENCY_LOCK_TTL", "30s")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	cfg := Config{
		Env:                    v.GetString("APP_ENV"),
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		TrustedProxies:         splitList(v.GetString("TRUSTED_PROXIES")),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:            v.GetBool("AUTO_MIGRATE"),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		BootstrapOwnerUsername: strings.TrimSpace(v.GetString("BOOTSTRAP_OWNER_USERNAME")),
		BootstrapOwnerPassword: v.GetString("BOOTSTRAP_OWNER_PASSWORD"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
		LogOutput:              v.GetString("LOG_OUTPUT"),
		WholesaleReceiverID:    strings.TrimSpace(v.GetString("WHOLESALE_RECEIVER_ID")),
		CostAverageWindow:      v.GetInt("COST_AVERAGE_WINDOW"),
		IdempotencyLockTTL:     v.GetDuration("IDEMPOTENCY_LOCK_TTL"),
		MaxBodyBytes:           v.GetInt64("MAX_BODY_BYTES"),
	}

	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.CostAverageWindow < 1 {
		cfg.CostAverageWindow = 5
	}
	if cfg.IdempotencyLockTTL <= 0 {
		cfg.IdempotencyLockTTL = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}
