package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"error-tracker/internal/cache"
	"error-tracker/internal/config"
	"error-tracker/internal/ingest"
	"error-tracker/internal/jobs"
	"error-tracker/internal/lock"
	"error-tracker/internal/models"
	"error-tracker/internal/pipeline"
	"error-tracker/internal/queue"
	"error-tracker/internal/retention"
	"error-tracker/internal/sessions"
	"error-tracker/internal/store"
	"error-tracker/internal/telemetry"
	"error-tracker/internal/throttle"
	"error-tracker/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info().Msg("shutdown requested")
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	sharedCache := cache.New(rdb, "et")
	locker := lock.NewLocker(rdb)

	postQueue := queue.New[models.EventPost](rdb, "event-posts", cfg.VisibilityTimeout)
	hookQueue := queue.New[models.WebHookNotification](rdb, "web-hooks", cfg.VisibilityTimeout)

	posts, err := ingest.NewPostStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init post store")
	}

	gate := throttle.NewGate(sharedCache, cfg.ThrottleWindow, cfg.StackThrottleMinCount, cfg.ProjectThrottleLimit)
	pipe := pipeline.New(st, gate, hookQueue, logger)
	quota := ingest.NewQuota(sharedCache)
	ingestJob := ingest.NewJob(posts, postQueue, st, pipe, quota, cfg, logger)
	dispatcher := webhooks.NewDispatcher(st, sharedCache, cfg, logger)
	heartbeats := sessions.NewHeartbeats(sharedCache, cfg.SessionHeartbeatTTL)
	reconciler := sessions.NewReconciler(st, heartbeats, cfg, logger)
	cleanup := retention.NewJob(st, cfg, logger)

	runner := jobs.NewRunner(logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, opsRouter(postQueue, hookQueue)); err != nil {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	run(func() {
		runner.Run(ctx, jobs.NewConsumer("event-posts", postQueue, ingestJob.Process, logger,
			jobs.WithPollInterval[models.EventPost](cfg.WorkerPollInterval),
			jobs.WithMaxDeliveries[models.EventPost](cfg.QueueMaxDeliveries)))
	})
	run(func() {
		runner.Run(ctx, jobs.NewConsumer("web-hooks", hookQueue, dispatcher.Process, logger,
			jobs.WithPollInterval[models.WebHookNotification](cfg.WorkerPollInterval),
			jobs.WithMaxDeliveries[models.WebHookNotification](cfg.QueueMaxDeliveries)))
	})
	run(func() {
		runner.RunEvery(ctx, jobs.WithLock(reconciler, locker, cfg.JobLockDuration), cfg.JobRunInterval)
	})
	run(func() {
		runner.RunEvery(ctx, jobs.WithLock(cleanup, locker, cfg.JobLockDuration), time.Hour)
	})

	logger.Info().Str("metrics", cfg.MetricsAddr).Dur("visibility", cfg.VisibilityTimeout).Msg("worker started")
	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("worker stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

// opsRouter exposes health, metrics, and dead-letter inspection.
func opsRouter(postQueue *queue.Queue[models.EventPost], hookQueue *queue.Queue[models.WebHookNotification]) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/dlq/event-posts", dlqHandler(postQueue.DeadLetterPeek))
	r.Get("/dlq/web-hooks", dlqHandler(hookQueue.DeadLetterPeek))
	return r
}

func dlqHandler(peek func(ctx context.Context, count int64) ([]string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := peek(r.Context(), 100)
		if err != nil {
			http.Error(w, "failed to read dlq", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[`))
		for i, item := range items {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			_, _ = w.Write([]byte(item))
		}
		_, _ = w.Write([]byte(`]}`))
	}
}
