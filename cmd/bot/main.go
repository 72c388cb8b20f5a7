package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowbot-app/flowbot/internal/bot"
	"github.com/flowbot-app/flowbot/internal/database"
	"github.com/flowbot-app/flowbot/internal/engine"
	"github.com/flowbot-app/flowbot/internal/external"
	"github.com/flowbot-app/flowbot/internal/flow"
	"github.com/flowbot-app/flowbot/internal/jobs"
	jobhandlers "github.com/flowbot-app/flowbot/internal/jobs/handlers"
	"github.com/flowbot-app/flowbot/internal/lifecycle"
	"github.com/flowbot-app/flowbot/internal/ratelimit"
	"github.com/flowbot-app/flowbot/internal/session"
	"github.com/flowbot-app/flowbot/pkg/config"
	"github.com/flowbot-app/flowbot/pkg/graceful"
	"github.com/flowbot-app/flowbot/pkg/logger"
	"github.com/flowbot-app/flowbot/pkg/metrics"
	"github.com/flowbot-app/flowbot/pkg/redis"

	_ "github.com/lib/pq"
)

const awaitingGaugeInterval = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	if cfg.Sentry.Enabled {
		if err := logger.InitSentry(*cfg); err != nil {
			log.Error("failed to init sentry", slog.Any("error", err))
		}
	}

	log.Info("starting flowbot",
		slog.String("env", cfg.AppEnv),
		slog.String("bot_mode", cfg.Bot.Mode),
		slog.String("flows_dir", cfg.Flows.Dir))

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, "migrations"); err != nil {
		log.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}

	registry, err := flow.NewRegistry(cfg.Flows.Dir, log)
	if err != nil {
		log.Error("failed to load flow definitions", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Flows.Watch {
		if err := registry.Watch(); err != nil {
			log.Warn("flow hot-reload unavailable", slog.Any("error", err))
		}
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)

	store := session.NewPostgresStore(db, log)
	locker := session.NewLocker(redisClient.Client, cfg.Engine.LockTTL, log)
	limiter := ratelimit.NewRedisLimiter(redisClient.Client, log)
	catalog := external.NewSQLCatalog(db, log)
	messenger := jobs.NewMessenger(asynqClient, nil, cfg.Bot.AdminChatID, log)

	eng := engine.New(engine.Deps{
		Stock:       catalog,
		Promos:      catalog,
		Roles:       external.NewSQLRoleResolver(db, log),
		Payments:    external.NewLoggingPaymentProvider(log),
		Messenger:   messenger,
		SpamGuard:   ratelimit.NewGuard(limiter),
		Leaderboard: external.NewSessionLeaderboard(store),
	}, cfg.Engine.MaxChainStepsOrDefault(), log)

	var rateLimitMw *bot.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMw = bot.NewRateLimitMiddleware(limiter, cfg.RateLimit, log)
	}

	b, err := bot.New(*cfg, log, registry, store, locker, eng, redisClient, rateLimitMw)
	if err != nil {
		log.Error("failed to build bot", slog.Any("error", err))
		os.Exit(1)
	}

	// Late wiring: the subscription checker and the notification channel
	// need the Telegram transport the bot just created.
	messenger.SetBot(b.Telebot())
	eng.SetSubscriptions(external.NewTelegramSubscriptionChecker(b.Telebot(), log))

	service := b.Service()

	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeScheduledMessage, jobhandlers.NewScheduledMessageHandler(service, log))
	worker.RegisterHandler(jobs.TaskTypeBroadcast, jobhandlers.NewBroadcastHandler(service, service, log))
	worker.RegisterHandler(jobs.TaskTypeWaitTimeout, jobhandlers.NewWaitTimeoutHandler(service, log))
	worker.RegisterHandler(jobs.TaskTypeTimerTrigger, jobhandlers.NewTimerTriggerHandler(service, log))

	scheduler := jobs.NewScheduler(redisOpt, registry, log)
	if err := scheduler.RegisterTasks(); err != nil {
		log.Error("failed to register scheduler tasks", slog.Any("error", err))
		os.Exit(1)
	}

	probes := lifecycle.NewProbes(db, redisClient.Client, log)
	httpServer := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Port,
		Handler: httpMux(probes),
	}, cfg.Server.ShutdownTimeout)

	go func() {
		if err := httpServer.ListenAndServe(ctx); err != nil {
			log.Error("http server stopped", slog.Any("error", err))
		}
	}()

	go func() {
		if err := worker.Run(); err != nil {
			log.Error("jobs worker stopped", slog.Any("error", err))
		}
	}()

	scheduler.Run()
	go b.Start()
	go watchAwaitingSessions(ctx, store, log)

	log.Info("flowbot started")

	<-ctx.Done()

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("bot", func(ctx context.Context) error {
		b.Stop()
		return nil
	})
	shutdown.Register("jobs-worker", func(ctx context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("scheduler", func(ctx context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.Register("flow-registry", func(ctx context.Context) error {
		return registry.Close()
	})
	shutdown.Register("asynq-client", func(ctx context.Context) error {
		return asynqClient.Close()
	})
	shutdown.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})
	shutdown.Register("database", func(ctx context.Context) error {
		return db.Close()
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	log.Info("flowbot stopped")
}

func httpMux(probes *lifecycle.Probes) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		if err := probes.Liveness(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := probes.Readiness(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// watchAwaitingSessions keeps the awaiting-sessions gauge fresh.
func watchAwaitingSessions(ctx context.Context, store *session.PostgresStore, log *slog.Logger) {
	ticker := time.NewTicker(awaitingGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := store.CountAwaiting(ctx)
			if err != nil {
				log.Warn("failed to count awaiting sessions", slog.Any("error", err))
				continue
			}
			metrics.SetAwaitingSessions(count)
		}
	}
}
