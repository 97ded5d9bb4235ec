package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"featherine-chat/internal/auth"
	"featherine-chat/internal/chat"
	"featherine-chat/internal/config"
	"featherine-chat/internal/db"
	"featherine-chat/internal/history"
	apihttp "featherine-chat/internal/http"
	"featherine-chat/internal/kv"
	"featherine-chat/internal/llm"
	"featherine-chat/internal/ratelimit"
	"featherine-chat/internal/repository"
	"featherine-chat/internal/workspace"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			if cfg.LocalBackend != config.LocalBackendRedis {
				redisClient = nil
			}
		}
		cancel()
	}

	// Historial remoto (por identidad).
	var (
		remote   history.Store
		userRepo repository.UserRepository
		ready    func(context.Context) error
	)
	switch cfg.RemoteBackend {
	case config.RemoteBackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("db schema", zap.Error(err))
		}
		ready = func(ctx context.Context) error { return db.Ping(ctx, pool) }
		remote = history.NewRemoteStore(repository.NewPgSessionRepository(pool))
		userRepo = repository.NewPgUserRepository(pool)
	case config.RemoteBackendFirestore:
		fsRepo, err := repository.NewFirestoreSessionRepository(ctx, cfg.FirestoreProject)
		if err != nil {
			logger.Fatal("firestore connect", zap.Error(err))
		}
		defer fsRepo.Close()
		remote = history.NewRemoteStore(fsRepo)
	default:
		logger.Warn("remote history disabled; signed-in sessions will not be archived")
	}

	// Historial local (por dispositivo).
	localKV, closeKV, err := kv.Open(ctx, cfg.LocalBackend, kv.Options{
		Dir:        cfg.LocalDir,
		SQLitePath: cfg.SQLitePath,
		Redis:      redisClient,
	})
	if err != nil {
		logger.Fatal("local store", zap.Error(err), zap.String("backend", cfg.LocalBackend))
	}
	defer closeKV()

	// Auth.
	var backend auth.Backend
	switch {
	case cfg.GoogleClientID == "" || cfg.JWTSecret == "":
		logger.Warn("google sign-in disabled: GOOGLE_CLIENT_ID and JWT_SECRET are required")
	case remote == nil:
		logger.Warn("google sign-in disabled: no remote history backend")
	default:
		var tokenStore auth.RefreshTokenStore
		if redisClient != nil {
			tokenStore = auth.NewRedisRefreshTokenStore(redisClient)
		}
		jwtSvc := auth.NewJWTService(
			cfg.JWTSecret,
			time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
			time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
			tokenStore,
		)
		backend = auth.NewService(logger, userRepo, auth.NewGoogleVerifier(cfg.GoogleClientID), jwtSvc)
	}

	var limiter ratelimit.Limiter
	if cfg.SubmitRatePerMinute > 0 {
		if redisClient != nil {
			limiter = ratelimit.NewRedisLimiter(redisClient, time.Minute, cfg.SubmitRatePerMinute)
		} else {
			limiter = ratelimit.NewMemoryLimiter(time.Minute, cfg.SubmitRatePerMinute)
		}
	}

	if cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY not configured; every submission will get the apology reply")
	}
	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel,
		llm.WithTemperature(cfg.LLMTemperature),
		llm.WithLogger(logger),
	)

	registry := workspace.NewRegistry(func(clientID string) *workspace.Workspace {
		local := history.NewLocalStore(localKV, history.DeviceKey(clientID), logger)
		var gateway *auth.Gateway
		if backend != nil {
			gateway = auth.NewGateway(backend, logger.With(zap.String("client", workspace.Ref(clientID))))
		}
		return workspace.New(clientID, llmClient, history.NewRouter(remote, local), gateway, logger,
			chat.WithApology(cfg.Apology()),
		)
	}, logger,
		workspace.WithIdleTTL(time.Duration(cfg.WorkspaceIdleMinutes)*time.Minute),
		workspace.WithMaxWorkspaces(cfg.MaxWorkspaces),
	)

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Logger:   logger,
		Registry: registry,
		Limiter:  limiter,
		Chat:     apihttp.NewChatHandler(logger),
		Sessions: apihttp.NewSessionHandler(logger),
		Auth:     apihttp.NewAuthHandler(logger),
		Ready:    ready,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("remote_backend", cfg.RemoteBackend),
		zap.String("local_backend", cfg.LocalBackend),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
