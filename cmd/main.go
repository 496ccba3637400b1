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

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/arena/config"
	"github.com/Dosada05/arena/db"
	"github.com/Dosada05/arena/handlers"
	"github.com/Dosada05/arena/notify"
	"github.com/Dosada05/arena/pairing"
	"github.com/Dosada05/arena/repositories"
	api "github.com/Dosada05/arena/routes"
	"github.com/Dosada05/arena/services"
	"github.com/Dosada05/arena/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort), slog.String("log_level", level.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("application exited")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	if err := db.Migrate(ctx, dbConn); err != nil {
		return err
	}
	logger.Info("database connection established")

	clock := clockwork.NewRealClock()
	arena := cfg.Arena

	var kv services.ExpiringKV
	if cfg.RedisURL != "" {
		redisKV, err := storage.NewRedisKV(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisKV.Close()
		kv = redisKV
		logger.Info("redis key-value store connected")
	} else {
		kv = services.NewMemoryKV(clock)
		logger.Info("using in-process key-value store")
	}

	// Архив результатов в Cloudflare R2 (опционально)
	var archiver services.ResultsArchiver
	if cfg.R2Enabled() {
		uploader, err := storage.NewR2Uploader(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("init results archive: %w", err)
		}
		archiver = storage.NewResultsArchive(uploader)
		logger.Info("Cloudflare R2 results archive initialized")
	}

	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	// Инициализация репозиториев
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	playerRepo := repositories.NewPostgresPlayerRepository(dbConn)
	pairingRepo := repositories.NewPostgresPairingRepository(dbConn)
	userRepo := repositories.NewPostgresUserRepository(dbConn)
	teamRepo := repositories.NewPostgresTeamRepository(dbConn)
	tx := repositories.NewPostgresTransactor(dbConn)

	// Инициализация сервисов
	engine := services.NewLocalGameEngine(logger)
	verifier := services.RatingConditionVerifier{}
	ranking := services.NewRankingCache(playerRepo, clock, arena.RankingTTL)
	caches := services.StandingCaches{
		Ranking: ranking,
		Top:     services.NewTopNCache(ranking, arena.TopSize, clock, arena.TopTTL),
	}
	sheets := services.NewSheetUpdater(playerRepo, pairingRepo, ranking)
	pool := services.NewWaitingPool(clock)
	publisher := services.NewStandingPublisher(tournamentRepo, caches.Top, kv, hub, clock,
		arena.GlobalWindow, arena.StandingWindow, arena.StandingHashTTL, logger)
	action := services.NewSerializedAction(tournamentRepo, clock, arena.LargeTournament, logger)
	pauses := services.NewPauseTracker(kv, arena.PauseBaseDelay, arena.PauseMaxDelay, logger)
	gate := services.NewAccessGate(verifier, pauses)

	scheduler := services.NewPairingScheduler(pairing.NewRankWindowGenerator(), pairingRepo, tournamentRepo,
		engine, hub, pool, ranking, publisher, kv, clock, arena, logger)
	roster := services.NewRosterManager(tournamentRepo, playerRepo, pairingRepo, gate, teamRepo, engine, pauses,
		pool, caches, sheets, publisher, action, clock, arena, logger)
	flow := services.NewGameFlow(playerRepo, pairingRepo, engine, pool, caches, sheets, publisher, action, logger)
	lifecycle := services.NewLifecycleController(services.LifecycleDeps{
		Tx:          tx,
		Tournaments: tournamentRepo,
		Players:     playerRepo,
		Pairings:    pairingRepo,
		Pool:        pool,
		Caches:      caches,
		Sheets:      sheets,
		Publisher:   publisher,
		Action:      action,
		KV:          kv,
		Leaderboard: services.NewLogLeaderboard(logger, arena.TopSize),
		Trophies:    services.NewLogTrophies(logger),
		Archiver:    archiver,
		Bus:         hub,
		Forget:      []services.Forgetter{scheduler, roster},
	}, arena, logger)
	tournamentService := services.NewTournamentService(tournamentRepo, playerRepo, userRepo, teamRepo,
		verifier, caches, publisher, arena, logger)
	logger.Info("services initialized")

	jobs := services.NewJobs(tournamentRepo, playerRepo, pool, scheduler, lifecycle, roster, action, clock, arena, logger)
	roster.SetRoundTrigger(jobs.PairNow)
	if err := jobs.Start(ctx); err != nil {
		return err
	}
	logger.Info("background jobs started",
		slog.Duration("pairing_tick", arena.PairingTick),
		slog.Duration("status_sweep", arena.StatusSweepEvery))

	// Инициализация обработчиков HTTP
	tournamentHandler := handlers.NewTournamentHandler(tournamentService, roster, lifecycle, logger)
	gameHandler := handlers.NewGameHandler(flow)
	webSocketHandler := handlers.NewWebSocketHandler(hub, tournamentService, cfg.AllowedOrigins, logger)

	// Настройка маршрутизатора
	router := chi.NewRouter()
	api.SetupRoutes(router, api.Options{
		JWTSecret:      cfg.JWTSecretKey,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}, tournamentHandler, gameHandler, webSocketHandler)

	// Настройка и запуск HTTP-сервера
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			_ = server.Close()
		} else {
			logger.Info("server shutdown complete")
		}
	}

	// останавливаем фоновые задачи до закрытия БД
	if err := jobs.Stop(); err != nil {
		logger.Error("failed to stop background jobs", slog.Any("error", err))
	}
	publisher.Stop()
	scheduler.Wait()
	lifecycle.Wait()
	return serveErr
}
