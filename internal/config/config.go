// Package config reads service settings from the environment so main stays lean.
package config

import (
    "fmt"
    "os"
    "strings"
    "time"
)

// JWT holds bearer-token verification settings. An empty Secret disables JWT
// and the dev identity headers are used instead.
type JWT struct {
    Secret   string
    Issuer   string
    Audience string
}

type Config struct {
    HTTPAddr        string
    DatabaseURL     string
    RedisURL        string
    JWT             JWT
    LogLevel        string
    LogFormat       string
    DevSeed         bool
    DBLockTimeout   time.Duration
    ShutdownTimeout time.Duration
}

const (
    defaultAddr            = ":8080"
    defaultShutdownTimeout = 10 * time.Second
)

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) { return Load(os.Getenv) }

// Load builds a Config using getenv for lookups.
func Load(getenv func(string) string) (Config, error) {
    get := func(k string) string { return strings.TrimSpace(getenv(k)) }
    cfg := Config{
        HTTPAddr:    get("HTTP_ADDR"),
        DatabaseURL: get("DATABASE_URL"),
        RedisURL:    get("REDIS_URL"),
        JWT: JWT{
            Secret:   get("JWT_HS256_SECRET"),
            Issuer:   get("JWT_ISSUER"),
            Audience: get("JWT_AUDIENCE"),
        },
        LogLevel:        get("LOG_LEVEL"),
        LogFormat:       strings.ToLower(get("LOG_FORMAT")),
        DevSeed:         truthy(get("DEV_SEED")),
        ShutdownTimeout: defaultShutdownTimeout,
    }
    if cfg.HTTPAddr == "" { cfg.HTTPAddr = defaultAddr }
    if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
        return Config{}, fmt.Errorf("LOG_FORMAT: want json or text, got %q", cfg.LogFormat)
    }
    var err error
    if cfg.DBLockTimeout, err = duration(get("DB_LOCK_TIMEOUT"), 0); err != nil {
        return Config{}, fmt.Errorf("DB_LOCK_TIMEOUT: %w", err)
    }
    if cfg.ShutdownTimeout, err = duration(get("SHUTDOWN_TIMEOUT"), defaultShutdownTimeout); err != nil {
        return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
    }
    return cfg, nil
}

func truthy(v string) bool {
    switch strings.ToLower(v) {
    case "1", "true", "yes":
        return true
    }
    return false
}

func duration(raw string, def time.Duration) (time.Duration, error) {
    if raw == "" { return def, nil }
    d, err := time.ParseDuration(raw)
    if err != nil { return 0, err }
    if d < 0 { return 0, fmt.Errorf("must not be negative, got %s", raw) }
    return d, nil
}
