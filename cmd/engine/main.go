// Package main - точка входа движка прогрессии.
//
// Движок обрабатывает входящие события действий (записи, привычки,
// цели), ведёт серии с долгом, начисляет XP-транзакции и сопровождает
// месячные челленджи. Команды и запросы собираются здесь и отдаются
// вызывающему слою; фоновая часть - диспетчер событий и cron-задачи.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TQyronStudio/SelfRiseV2-sub003/config"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/application/command"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/application/eventhandler"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/application/query"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/level"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/infrastructure/messaging"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/infrastructure/persistence/postgres"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/infrastructure/persistence/redis"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/infrastructure/scheduler"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/infrastructure/scheduler/jobs"
)

func main() {
	if err := run(); err != nil {
		slog.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	// .env опционален: в контейнере окружение приходит извне.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	slog.SetDefault(log)
	log.Info("starting progression engine",
		"env", cfg.AppEnv,
		"log_level", cfg.AppLogLevel,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbCfg := postgres.DefaultConfig()
	dbCfg.Host = cfg.DBHost
	dbCfg.Port = cfg.DBPort
	dbCfg.User = cfg.DBUser
	dbCfg.Password = cfg.DBPassword
	dbCfg.Database = cfg.DBName
	dbCfg.SSLMode = cfg.DBSSLMode
	dbCfg.MaxConns = cfg.DBMaxConns
	dbCfg.MinConns = cfg.DBMinConns

	dbConn, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var projectionCache query.ProjectionCache
	if !cfg.RedisDisabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.RedisHost
		redisCfg.Port = cfg.RedisPort
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			// Кэш проекций best-effort: без Redis запросы идут в базу.
			log.Warn("failed to connect to Redis, projection caching disabled", "error", err)
		} else {
			defer redisCache.Close()
			projectionCache = redis.NewProjectionCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	busMetrics := messaging.NewBusMetrics(registry)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДОМЕННЫЕ СЕРВИСЫ И РЕПОЗИТОРИИ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	streakRepo := postgres.NewStreakRepository(dbConn, log)
	completionRepo := postgres.NewCompletionRepository(dbConn)
	txRepo := postgres.NewTransactionRepository(dbConn, log)
	statsRepo := postgres.NewStatsRepository(dbConn)
	challengeRepo := postgres.NewChallengeRepository(dbConn, log)
	snapshotRepo := postgres.NewSnapshotRepository(dbConn, log)

	calcCfg := level.DefaultCalculatorConfig()
	calcCfg.TTL = cfg.LevelCacheTTL
	calculator := level.NewCalculator(calcCfg)
	ledger := streak.NewLedger()
	processor := reward.NewProcessor(reward.DefaultSchedule())
	tracker := challenge.NewTracker()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ДИСПЕТЧЕР СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event dispatcher...")
	dispatchCfg := messaging.DefaultDispatcherConfig()
	dispatchCfg.Shards = cfg.DispatchShards
	dispatchCfg.QueueSize = cfg.DispatchQueueSize
	dispatchCfg.MaxRetries = cfg.DispatchMaxRetries
	dispatchCfg.InitialBackoff = cfg.DispatchBackoff
	dispatchCfg.Logger = log
	dispatchCfg.Metrics = busMetrics
	dispatcher := messaging.NewDispatcher(dispatchCfg)
	defer func() {
		log.Info("closing event dispatcher...")
		_ = dispatcher.Close()
	}()

	onXPTransaction := eventhandler.NewOnXPTransactionHandler(
		calculator, processor, txRepo, dispatcher, log,
		eventhandler.DefaultXPTransactionConfig())
	onChallengeProgress := eventhandler.NewOnChallengeProgressHandler(
		challengeRepo, snapshotRepo, tracker, processor, txRepo, dispatcher, log,
		eventhandler.DefaultChallengeProgressConfig())

	if err := dispatcher.Register(shared.EventXPTransactionRecorded,
		"on_xp_transaction", onXPTransaction.Handle); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}
	if err := dispatcher.Register(shared.EventXPTransactionRecorded,
		"on_challenge_progress", onChallengeProgress.Handle); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}
	if projectionCache != nil {
		onProjection := eventhandler.NewOnProjectionInvalidateHandler(projectionCache, log)
		if err := dispatcher.Register(shared.EventXPTransactionRecorded,
			"on_projection_invalidate", onProjection.Handle); err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	app := &application{
		RecordEntry: command.NewRecordEntryHandler(
			streakRepo, completionRepo, txRepo, statsRepo, ledger, processor, dispatcher, log),
		RemoveEntry: command.NewRemoveEntryHandler(
			streakRepo, completionRepo, txRepo, statsRepo, ledger, processor, dispatcher, log),
		CompleteHabit: command.NewCompleteHabitHandler(
			streakRepo, completionRepo, txRepo, statsRepo, ledger, processor, dispatcher, log),
		AddGoalProgress: command.NewAddGoalProgressHandler(
			streakRepo, completionRepo, txRepo, statsRepo, ledger, processor, dispatcher, log),
		ApplyRecovery: command.NewApplyRecoveryHandler(
			streakRepo, ledger, dispatcher, log),
		RolloverChallenge: command.NewRolloverChallengeHandler(
			challengeRepo, dispatcher, log),
		CleanupLegacy: command.NewCleanupLegacyHandler(
			streakRepo, completionRepo, ledger, dispatcher, log),

		GetProgress: query.NewGetProgressHandler(
			txRepo, calculator, projectionCache, cfg.ProjectionTTL, log),
		GetStreak: query.NewGetStreakHandler(
			streakRepo, ledger, log),
		GetChallenge: query.NewGetChallengeHandler(
			challengeRepo, snapshotRepo, tracker, log),
		GetXPHistory: query.NewGetXPHistoryHandler(txRepo, log),
	}
	_ = app // передаётся во внешний транспортный слой

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing scheduler...")
	loc, err := time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		log.Warn("failed to load scheduler timezone, using UTC",
			"timezone", cfg.SchedulerTimezone, "error", err)
		loc = time.UTC
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Location = loc
	schedCfg.JobTimeout = cfg.SchedulerJobTimeout
	schedCfg.Logger = log
	sched := scheduler.NewScheduler(schedCfg)

	recomputeJob := jobs.NewRecomputeStreaksJob(
		streakRepo, completionRepo, ledger, dispatcher, log)
	if err := sched.Register(cfg.RecomputeCronSpec, recomputeJob); err != nil {
		return fmt.Errorf("register recompute job: %w", err)
	}

	cleanupJob := jobs.NewCleanupFillersJob(app.CleanupLegacy, log)
	if err := sched.Register(cfg.CleanupCronSpec, cleanupJob); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}

	sched.Start()
	defer sched.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP: МЕТРИКИ И HEALTH
	// ─────────────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbConn.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			cancel()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progression engine is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", "error", err)
	}

	log.Info("progression engine stopped")
	return nil
}

// application собирает обработчики команд и запросов для транспортного
// слоя (HTTP/gRPC-фасад живёт вне этого репозитория).
type application struct {
	RecordEntry       *command.RecordEntryHandler
	RemoveEntry       *command.RemoveEntryHandler
	CompleteHabit     *command.CompleteHabitHandler
	AddGoalProgress   *command.AddGoalProgressHandler
	ApplyRecovery     *command.ApplyRecoveryHandler
	RolloverChallenge *command.RolloverChallengeHandler
	CleanupLegacy     *command.CleanupLegacyHandler

	GetProgress  *query.GetProgressHandler
	GetStreak    *query.GetStreakHandler
	GetChallenge *query.GetChallengeHandler
	GetXPHistory *query.GetXPHistoryHandler
}

// setupLogger настраивает структурное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
