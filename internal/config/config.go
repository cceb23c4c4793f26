// Package config loads process configuration from the environment. Every
// process in the saga (BFF, coordinator, each service worker) uses the same
// Config shape and only reads the fields it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv      string
	AppName     string
	AppPort     string
	MetricsPort string
	LogLevel    string

	DBHost                   string
	DBPort                   string
	DBUser                   string
	DBPassword               string
	DBName                   string
	DBSSLMode                string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	// BusKind selects the message bus adapter: "kafka" (default) or "amqp".
	BusKind    string
	BusBrokers []string // host:port list for kafka, or a single amqp URL

	// ConsumerGroup names this process's shared-subscription group (§4.1).
	ConsumerGroup string

	// StepTimeout is the coordinator's default soft per-step deadline (§4.5).
	StepTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		AppPort:       os.Getenv("APP_PORT"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     os.Getenv("DB_SSL_MODE"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		BusKind:       os.Getenv("BUS_KIND"),
		ConsumerGroup: os.Getenv("CONSUMER_GROUP"),
	}

	if raw := os.Getenv("BUS_BROKERS"); raw != "" {
		cfg.BusBrokers = strings.Split(raw, ",")
	}

	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}
	if cfg.BusKind == "" {
		cfg.BusKind = "kafka"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.StepTimeout = 10 * time.Minute
	if v := os.Getenv("STEP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STEP_TIMEOUT: %w", err)
		}
		cfg.StepTimeout = d
	}

	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		if cfg.RedisDB, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if cfg.RedisPoolSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		if cfg.RedisMinIdleConns, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MAX_RETRIES"); v != "" {
		if cfg.RedisMaxRetries, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
		}
	}

	cfg.DBMaxOpenConns = 20
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if cfg.DBMaxOpenConns, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
		}
	}
	cfg.DBMaxIdleConns = 5
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if cfg.DBMaxIdleConns, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
		}
	}
	cfg.DBConnMaxLifetimeMinutes = 30
	if v := os.Getenv("DB_CONN_MAX_LIFETIME_MINUTES"); v != "" {
		if cfg.DBConnMaxLifetimeMinutes, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME_MINUTES: %w", err)
		}
	}

	if cfg.AppEnv == "" || cfg.AppName == "" || cfg.DBHost == "" || cfg.DBPort == "" ||
		cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" || len(cfg.BusBrokers) == 0 {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}
