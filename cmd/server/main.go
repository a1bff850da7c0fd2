package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/internal/bot"
	"github.com/freeeve/world-conflict/internal/config"
	"github.com/freeeve/world-conflict/internal/handler"
	"github.com/freeeve/world-conflict/internal/logger"
	"github.com/freeeve/world-conflict/internal/middleware"
	"github.com/freeeve/world-conflict/internal/repository"
	"github.com/freeeve/world-conflict/internal/repository/bolt"
	"github.com/freeeve/world-conflict/internal/repository/postgres"
	redisrepo "github.com/freeeve/world-conflict/internal/repository/redis"
	"github.com/freeeve/world-conflict/internal/service"
)

// sweepInterval is how often idle rate limiter entries are dropped.
const sweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.DevMode})
	log.Info().Str("store", cfg.StoreBackend).Str("port", cfg.Port).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Snapshot store and turn timer
	var (
		snapshots repository.SnapshotStore
		timer     repository.TurnTimer
		rdb       *redis.Client
	)
	switch cfg.StoreBackend {
	case config.StoreBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.BoltPath).Msg("BoltDB open failed")
		}
		defer store.Close()
		snapshots = store
	default:
		redisClient, err := redisrepo.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer redisClient.Close()

		// Enable Redis keyspace notifications for timer expiry events.
		if err := redisClient.Underlying().ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (timer expiry falls back to polling)")
		}
		snapshots = redisClient
		timer = redisClient
		rdb = redisClient.Underlying()
	}

	// Repos
	userRepo := postgres.NewUserRepo(db)
	gameRepo := postgres.NewGameRepo(db)
	commandRepo := postgres.NewCommandRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, auth.WithExpiry(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	retry := service.RetryPolicy{MaxAttempts: cfg.CommandRetries, BaseDelay: cfg.RetryBaseDelay}
	gameSvc := service.NewGameService(gameRepo, userRepo, snapshots, wsHub)
	gameSvc.SetRetryPolicy(retry)
	cmdSvc := service.NewCommandService(gameRepo, snapshots, commandRepo, timer, wsHub)
	cmdSvc.SetRetryPolicy(retry)
	cmdSvc.SetTurnTimeout(cfg.TurnTimeout)
	cmdSvc.SetBotStrategy(bot.StrategyForDifficulty(cfg.BotDifficulty))
	gameSvc.OnStart(cmdSvc.BeginGame)

	// Timer listener (auto end of stalled turns)
	timerListener := service.NewTimerListener(rdb, cmdSvc)
	timerListener.SetPollInterval(cfg.TurnPollInterval)

	// Handlers
	authHandler := handler.NewAuthHandler(jwtMgr, userRepo, cfg.DevMode)
	gameHandler := handler.NewGameHandler(gameSvc)
	commandHandler := handler.NewCommandHandler(cmdSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr, gameSvc)
	wsHandler.AllowOrigins(cfg.CORSOrigins)

	// Commands are limited per user; the auth middleware runs first so the
	// user id is already in the context.
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, func(r *http.Request) string {
		if id := auth.UserIDFromContext(r.Context()); id != "" {
			return id
		}
		return middleware.ClientIP(r)
	})

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("GET /users/me", authHandler.GetMe)
	api.HandleFunc("PATCH /users/me", authHandler.UpdateMe)
	api.HandleFunc("POST /games", gameHandler.CreateGame)
	api.HandleFunc("GET /games", gameHandler.ListGames)
	api.HandleFunc("GET /games/{id}", gameHandler.GetGame)
	api.HandleFunc("DELETE /games/{id}", gameHandler.DeleteGame)
	api.HandleFunc("GET /games/{id}/state", gameHandler.GetState)
	api.HandleFunc("POST /games/{id}/join", gameHandler.JoinGame)
	api.HandleFunc("POST /games/{id}/bots", gameHandler.AddBot)
	api.HandleFunc("POST /games/{id}/start", gameHandler.StartGame)
	api.HandleFunc("POST /games/{id}/stop", gameHandler.StopGame)
	api.Handle("POST /games/{id}/commands", limiter.Middleware(http.HandlerFunc(commandHandler.SubmitCommand)))
	api.HandleFunc("GET /games/{id}/commands", commandHandler.ListCommands)
	api.HandleFunc("GET /games/{id}/verify", commandHandler.VerifyGame)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Recover, middleware.Logger, middleware.CORS(cfg.CORSOrigins), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Catch up on turns that ran out while the server was down.
	if n, err := cmdSvc.EndExpiredTurns(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to end expired turns (non-fatal)")
	} else if n > 0 {
		log.Info().Int("games", n).Msg("Ended turns that expired during downtime")
	}

	// Start timer listener
	go timerListener.Start(ctx)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Sweep(); n > 0 {
					log.Debug().Int("dropped", n).Msg("Swept idle rate limiters")
				}
			}
		}
	}()

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
