package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/api"
	"github.com/courierhq/courier/internal/archive"
	"github.com/courierhq/courier/internal/blocklist"
	"github.com/courierhq/courier/internal/channel"
	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/events"
	"github.com/courierhq/courier/internal/intake"
	"github.com/courierhq/courier/internal/lock"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/policy"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/receipt"
	"github.com/courierhq/courier/internal/store"
	"github.com/courierhq/courier/internal/sweep"
	"github.com/courierhq/courier/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("courier exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	st := store.NewRedisStore(rdb, cfg.Redis.MessageTTL)
	locks := lock.NewRedisLocks(rdb)
	ready := queue.NewRedisQueue(rdb, "queue:send")
	confirm := queue.NewRedisQueue(rdb, "queue:confirm")
	retries := queue.NewDelaySet(rdb, "schedule:send")
	rechecks := queue.NewDelaySet(rdb, "schedule:confirm")
	receipts := receipt.NewRedisSource(rdb, cfg.Redis.MessageTTL)
	blocked := blocklist.NewRedisBlocklist(rdb)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	var archiver archive.Archiver
	if cfg.Database.Enabled {
		db, err := sql.Open("pgx", cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		pg := archive.NewPostgresArchive(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		archiver = pg
		slog.Info("archive enabled")
	}

	var publisher events.Publisher
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.MaxReconnects(cfg.NATS.MaxReconnects))
		if err != nil {
			return err
		}
		defer nc.Close()

		publisher = events.NewNATSPublisher(nc)
		slog.Info("event publishing enabled", "url", cfg.NATS.URL)
	}

	terminal := terminalHook(archiver, publisher)

	in := intake.New(st, ready, registry, blocked).WithHooks(terminal)

	backoffMode := policy.ModeFixed
	if cfg.Retry.Mode == "exponential" {
		backoffMode = policy.ModeExponential
	}
	pol, err := policy.New(policy.Backoff{Mode: backoffMode, Base: cfg.Retry.Base, Max: cfg.Retry.Max})
	if err != nil {
		return err
	}

	sender := worker.NewSendWorker(st, locks, ready, confirm, retries, registry, pol, worker.SendConfig{
		PopTimeout: cfg.Worker.PopTimeout,
		LockTTL:    cfg.Worker.LockTTL,
		PauseMin:   cfg.Worker.PauseMin,
		PauseMax:   cfg.Worker.PauseMax,
	}).WithHooks(terminal)

	confirmer := worker.NewConfirmWorker(st, locks, confirm, rechecks, receipts, worker.ConfirmConfig{
		PopTimeout: cfg.Worker.PopTimeout,
		LockTTL:    cfg.Confirm.LockTTL,
		Window:     cfg.Confirm.Window,
		Recheck:    cfg.Confirm.Recheck,
	}).WithHooks(terminal)

	sweeper, err := sweep.New(cfg.Sweep.Interval, []sweep.Job{
		{Name: "send", Source: retries, Target: ready},
		{Name: "confirm", Source: rechecks, Target: confirm},
	})
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.SendWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender.Run(ctx)
		}()
	}
	for i := 0; i < cfg.Worker.ConfirmWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			confirmer.Run(ctx)
		}()
	}

	handler := api.NewHandler(in, st, receipts, blocked, sweeper, archiver)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("courier started",
		"addr", cfg.Server.Address,
		"send_workers", cfg.Worker.SendWorkers,
		"confirm_workers", cfg.Worker.ConfirmWorkers,
		"channels", registry.Names(),
	)

	err = srv.ListenAndServe()
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func buildRegistry(cfg *config.Config) (*channel.Registry, error) {
	registry := channel.NewRegistry()

	if len(cfg.Gateway.URLs) > 0 {
		endpoints := make([]channel.Endpoint, 0, len(cfg.Gateway.URLs))
		for _, url := range cfg.Gateway.URLs {
			endpoints = append(endpoints, channel.Endpoint{URL: url, Channels: cfg.Gateway.Channels})
		}
		for _, ch := range cfg.Gateway.Channels {
			gw, err := channel.NewGateway(ch, endpoints, channel.RoundRobin())
			if err != nil {
				return nil, err
			}
			registry.Register(ch, gw)
		}
	}

	if cfg.SMTP.Enabled {
		registry.Register(channel.Email, channel.NewEmailAdapter(channel.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
	}

	if len(registry.Names()) == 0 {
		return nil, errors.New("no channels configured: set GATEWAY_URLS or SMTP_HOST")
	}
	return registry, nil
}

// terminalHook fans terminal messages out to the archive and the event
// stream. Failures are logged and swallowed; neither sink may stall
// delivery.
func terminalHook(ar archive.Archiver, pub events.Publisher) func(ctx context.Context, m *model.Message) {
	return func(ctx context.Context, m *model.Message) {
		if ar != nil {
			if err := ar.Archive(ctx, m); err != nil {
				slog.Error("archive failed", "message_id", m.ID, "error", err)
			}
		}
		if pub != nil {
			if err := pub.Publish(ctx, events.FromMessage(m)); err != nil {
				slog.Error("event publish failed", "message_id", m.ID, "error", err)
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
