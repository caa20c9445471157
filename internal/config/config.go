package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Worker   WorkerConfig
	Retry    RetryConfig
	Confirm  ConfirmConfig
	Sweep    SweepConfig
	Gateway  GatewayConfig
	SMTP     SMTPConfig
}

type ServerConfig struct {
	Address string
}

// RedisConfig is the one mandatory section; Redis is the delivery
// substrate, not a cache.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	MessageTTL time.Duration
}

type DatabaseConfig struct {
	Enabled     bool
	PostgresURL string
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	MaxReconnects int
}

type WorkerConfig struct {
	SendWorkers    int
	ConfirmWorkers int
	PopTimeout     time.Duration
	LockTTL        time.Duration
	PauseMin       time.Duration
	PauseMax       time.Duration
}

type RetryConfig struct {
	Mode string
	Base time.Duration
	Max  time.Duration
}

type ConfirmConfig struct {
	Window  time.Duration
	Recheck time.Duration
	LockTTL time.Duration
}

type SweepConfig struct {
	Interval time.Duration
}

type GatewayConfig struct {
	URLs     []string
	Channels []string
}

type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func LoadAll() (*Config, error) {
	var errs []error

	collect := func(v int, err error) int {
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	redisAddr, err := requireEnv("REDIS_ADDR")
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Redis: RedisConfig{
			Address:    redisAddr,
			Password:   os.Getenv("REDIS_PASSWORD"),
			DB:         collect(getEnvInt("REDIS_DB", 0)),
			MessageTTL: time.Duration(collect(getEnvInt("MESSAGE_TTL_SECONDS", 86400))) * time.Second,
		},
		Database: loadDatabaseConfig(),
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			MaxReconnects: collect(getEnvInt("NATS_MAX_RECONNECTS", 10)),
		},
		Worker: WorkerConfig{
			SendWorkers:    collect(getEnvInt("SEND_WORKERS", 4)),
			ConfirmWorkers: collect(getEnvInt("CONFIRM_WORKERS", 2)),
			PopTimeout:     time.Duration(collect(getEnvInt("POP_TIMEOUT_SECONDS", 5))) * time.Second,
			LockTTL:        time.Duration(collect(getEnvInt("LOCK_TTL_SECONDS", 60))) * time.Second,
			PauseMin:       time.Duration(collect(getEnvInt("PAUSE_MIN_MS", 0))) * time.Millisecond,
			PauseMax:       time.Duration(collect(getEnvInt("PAUSE_MAX_MS", 0))) * time.Millisecond,
		},
		Retry: RetryConfig{
			Mode: getEnv("RETRY_MODE", "fixed"),
			Base: time.Duration(collect(getEnvInt("RETRY_BASE_SECONDS", 30))) * time.Second,
			Max:  time.Duration(collect(getEnvInt("RETRY_MAX_SECONDS", 300))) * time.Second,
		},
		Confirm: ConfirmConfig{
			Window:  time.Duration(collect(getEnvInt("CONFIRM_WINDOW_SECONDS", 120))) * time.Second,
			Recheck: time.Duration(collect(getEnvInt("CONFIRM_RECHECK_SECONDS", 10))) * time.Second,
			LockTTL: time.Duration(collect(getEnvInt("CONFIRM_LOCK_TTL_SECONDS", 30))) * time.Second,
		},
		Sweep: SweepConfig{
			Interval: time.Duration(collect(getEnvInt("SWEEP_INTERVAL_SECONDS", 5))) * time.Second,
		},
		Gateway: GatewayConfig{
			URLs:     splitList(os.Getenv("GATEWAY_URLS")),
			Channels: splitList(getEnv("GATEWAY_CHANNELS", "sms,rcs,imessage")),
		},
		SMTP: loadSMTPConfig(collect),
	}
	cfg.NATS.Enabled = cfg.NATS.URL != ""

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		return DatabaseConfig{Enabled: false}
	}
	return DatabaseConfig{Enabled: true, PostgresURL: url}
}

func loadSMTPConfig(collect func(int, error) int) SMTPConfig {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return SMTPConfig{Enabled: false}
	}
	return SMTPConfig{
		Enabled:  true,
		Host:     host,
		Port:     collect(getEnvInt("SMTP_PORT", 587)),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getEnv("SMTP_FROM", "courier@localhost"),
	}
}

func validate(cfg *Config) []error {
	var errs []error

	if cfg.Worker.SendWorkers <= 0 {
		errs = append(errs, errors.New("SEND_WORKERS must be > 0"))
	}
	if cfg.Worker.ConfirmWorkers <= 0 {
		errs = append(errs, errors.New("CONFIRM_WORKERS must be > 0"))
	}
	if cfg.Worker.PauseMin < 0 || cfg.Worker.PauseMax < cfg.Worker.PauseMin {
		errs = append(errs, errors.New("PAUSE_MIN_MS/PAUSE_MAX_MS must satisfy 0 <= min <= max"))
	}
	if cfg.Retry.Mode != "fixed" && cfg.Retry.Mode != "exponential" {
		errs = append(errs, fmt.Errorf("RETRY_MODE must be fixed or exponential, got %q", cfg.Retry.Mode))
	}
	if cfg.Retry.Base <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_SECONDS must be > 0"))
	}
	if cfg.Confirm.Window <= 0 {
		errs = append(errs, errors.New("CONFIRM_WINDOW_SECONDS must be > 0"))
	}
	if cfg.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}

	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
