package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AdminAPIKey string

	AccessTokenTTLSeconds  int
	RefreshTokenTTLSeconds int
	ClockSkewSeconds       int

	// KeyRotationGraceSeconds bounds how long a retiring key keeps verifying.
	// Zero means "maximum outstanding token lifetime", i.e. the refresh TTL.
	KeyRotationGraceSeconds int
	KeyRotationDays         int

	APIKeyHashCost int

	PolicyBundlePath string

	RateLimitRequests       int
	RateLimitWindowSeconds  int
	RateLimitIncludeSubject bool
	RateLimitFailClosed     bool
	RateLimitMaxKeys        int

	StoreTimeoutMillis int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		AccessTokenTTLSeconds:   envIntDefault("ACCESS_TOKEN_TTL_SECONDS", 900),
		RefreshTokenTTLSeconds:  envIntDefault("REFRESH_TOKEN_TTL_SECONDS", 2592000),
		ClockSkewSeconds:        envIntDefault("CLOCK_SKEW_SECONDS", 60),
		KeyRotationGraceSeconds: envIntDefault("KEY_ROTATION_GRACE_SECONDS", 0),
		KeyRotationDays:         envIntDefault("KEY_ROTATION_DAYS", 90),
		APIKeyHashCost:          envIntDefault("API_KEY_HASH_COST", 10),
		PolicyBundlePath:        os.Getenv("POLICY_BUNDLE_PATH"),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitIncludeSubject: envBoolDefault("RATE_LIMIT_INCLUDE_SUBJECT", false),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		StoreTimeoutMillis:      envIntDefault("STORE_TIMEOUT_MILLIS", 50),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

func (c Config) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// KeyRotationGrace is the retiring-key verification window. Defaulting it to
// the maximum outstanding token lifetime guarantees no still-valid token
// references a revoked key.
func (c Config) KeyRotationGrace() time.Duration {
	if c.KeyRotationGraceSeconds > 0 {
		return time.Duration(c.KeyRotationGraceSeconds) * time.Second
	}
	return c.RefreshTokenTTL()
}

func (c Config) KeyRotationInterval() time.Duration {
	if c.KeyRotationDays <= 0 {
		return 0
	}
	return time.Duration(c.KeyRotationDays) * 24 * time.Hour
}

func (c Config) StoreTimeout() time.Duration {
	if c.StoreTimeoutMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(c.StoreTimeoutMillis) * time.Millisecond
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
