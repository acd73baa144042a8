// Package app wires the configured backends into the API, the worker pool
// and the sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"ledgerly/internal/auth"
	"ledgerly/internal/config"
	"ledgerly/internal/db"
	"ledgerly/internal/finance"
	httpx "ledgerly/internal/http"
	"ledgerly/internal/jobs"
	"ledgerly/internal/jobtypes"
	"ledgerly/internal/queue"
	"ledgerly/internal/ratelimit"
	"ledgerly/internal/storage"
)

type App struct {
	Config   config.Config
	DB       *gorm.DB
	Queue    queue.Queue
	Store    storage.ObjectStore
	Finance  *finance.Service
	Jobs     *jobs.Repo
	Enqueuer *jobs.Enqueuer
	Registry *jobs.Registry
	Shares   *auth.ShareResolver
	JWT      *auth.JWT

	redis *redis.Client
}

// New connects to every backend named in cfg and migrates the schema.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return build(ctx, cfg, gdb)
}

// build takes ownership of gdb and closes it when the app cannot start.
func build(ctx context.Context, cfg config.Config, gdb *gorm.DB) (*App, error) {
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		closeDB(gdb)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a, err := Assemble(ctx, cfg, gdb)
	if err != nil {
		closeDB(gdb)
		return nil, err
	}
	return a, nil
}

func closeDB(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Assemble builds the application on an open database. On error it releases
// the backends it opened and leaves gdb to the caller.
func Assemble(ctx context.Context, cfg config.Config, gdb *gorm.DB) (*App, error) {
	a := &App{
		Config:  cfg,
		DB:      gdb,
		Finance: finance.NewService(gdb),
		Jobs:    jobs.NewRepo(gdb),
		Shares:  &auth.ShareResolver{DB: gdb},
		JWT:     auth.NewJWT(cfg.JWTSecret, cfg.JWTTTL),
	}

	q, err := a.openQueue(ctx)
	if err != nil {
		return nil, err
	}
	a.Queue = q

	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = a.release()
		return nil, err
	}
	a.Store = store

	a.Enqueuer = jobs.NewEnqueuer(a.Jobs, a.Queue)
	a.Registry = jobs.NewRegistry()
	jobtypes.New(a.Finance, a.Store, cfg.S3Bucket).Register(a.Registry)
	a.Registry.Freeze()
	return a, nil
}

func (a *App) openQueue(ctx context.Context) (queue.Queue, error) {
	cfg := a.Config
	switch cfg.QueueBackend {
	case "memory":
		log.Warn().Msg("in-memory queue: jobs are only seen by workers in this process")
		return queue.NewMemory(), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		return queue.NewRedis(client, ""), nil
	case "amqp":
		q, err := queue.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.WorkerCount)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		return q, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

func openStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.ObjectStorage() {
		log.Warn().Msg("S3_ENDPOINT not set, keeping uploads in memory")
		return storage.NewMemory(), nil
	}
	m, err := storage.NewMinio(ctx, storage.MinioConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Bucket:    cfg.S3Bucket,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// limiter uses redis when the queue already runs on it, so limits hold
// across API replicas.
func (a *App) limiter(limit int, window time.Duration, prefix string) ratelimit.Limiter {
	if limit <= 0 {
		return nil
	}
	if a.redis != nil {
		return ratelimit.NewRedis(a.redis, limit, window, prefix)
	}
	return ratelimit.NewLocal(limit, window, 0)
}

func (a *App) Router() http.Handler {
	cfg := a.Config
	return httpx.NewRouter(cfg, httpx.Deps{
		DB:          a.DB,
		JWT:         a.JWT,
		Jobs:        a.Jobs,
		Enqueuer:    a.Enqueuer,
		Finance:     a.Finance,
		Store:       a.Store,
		Shares:      a.Shares,
		JobLimiter:  a.limiter(cfg.JobRateLimit, cfg.JobRateWindow, "ledgerly:rl:jobs:"),
		ChatLimiter: a.limiter(cfg.ChatRateLimit, cfg.ChatRateWindow, "ledgerly:rl:chat:"),
	})
}

func (a *App) WorkerOptions() jobs.WorkerOptions {
	return jobs.WorkerOptions{
		Lease:            a.Config.JobLease,
		ProgressStep:     int64(a.Config.ProgressStep),
		ProgressInterval: a.Config.ProgressInterval,
		Timeout:          a.Config.JobTimeout,
	}
}

func (a *App) Pool() *jobs.Pool {
	return jobs.NewPool(a.Config.WorkerCount, a.Jobs, a.Queue, a.Registry, a.WorkerOptions())
}

func (a *App) Sweeper() *jobs.Sweeper {
	return jobs.NewSweeper(a.Jobs, a.Enqueuer, a.Queue, jobs.SweepOptions{
		QueuedAfter: a.Config.SweepQueuedAfter,
		Lease:       a.Config.JobLease,
		Visibility:  a.Config.QueueVisibilityTimeout,
		Every:       a.Config.SweepEvery,
	})
}

// release closes the queue backend.
func (a *App) release() error {
	switch {
	case a.Queue != nil:
		// the redis and amqp queues own their connections
		return a.Queue.Close()
	case a.redis != nil:
		return a.redis.Close()
	}
	return nil
}

func (a *App) Close() error {
	errs := []error{a.release()}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
