package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/config"
	"github.com/zhangyw0810/llamatalk/db"
	"github.com/zhangyw0810/llamatalk/handlers"
	"github.com/zhangyw0810/llamatalk/internal/auth"
	"github.com/zhangyw0810/llamatalk/internal/utils"
	"github.com/zhangyw0810/llamatalk/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger := utils.MustNewLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	ctx := context.Background()

	postgres, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		sugar.Fatalf("postgres: failed to connect: %v", err)
	}
	defer postgres.Close()

	if err := postgres.Ping(ctx); err != nil {
		sugar.Fatalf("postgres: ping failed: %v", err)
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		sugar.Fatalf("postgres: ensure schema: %v", err)
	}

	var archive *db.Mongo
	if cfg.Mongo.URI != "" {
		archive, err = db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			sugar.Fatalf("mongo: failed to connect: %v", err)
		}
		defer func() {
			if err := archive.Close(context.Background()); err != nil {
				sugar.Warnf("mongo: close error: %v", err)
			}
		}()
		if err := archive.EnsureCollections(ctx); err != nil {
			sugar.Fatalf("mongo: ensure collections: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			sugar.Warnf("redis: unavailable, rate limiting disabled: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	users := db.NewUserRepository(postgres.Pool)
	authService, err := auth.NewService(cfg.JWTSecret, 24*time.Hour, users)
	if err != nil {
		sugar.Fatalf("failed to initialise auth service: %v", err)
	}

	chats := db.NewChatRepository(postgres.Pool, archive, sugar)
	completion := services.NewCompletionService(cfg.Ollama, sugar, services.WeatherTool())
	transcribe := services.NewTranscribeService(cfg.Speech, sugar)

	router := setupRouter(cfg, authService, chats, completion, transcribe, redisClient, sugar)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(
	cfg *config.Config,
	authService *auth.Service,
	chats services.ChatStore,
	completion services.CompletionProvider,
	transcribe *services.TranscribeService,
	redisClient *redis.Client,
	logger *zap.SugaredLogger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chats, logger)
	streamHandler := handlers.NewStreamHandler(chats, completion, logger)
	speechHandler := handlers.NewSpeechHandler(transcribe, logger)

	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", authHandler.HandleRegister)
	authGroup.POST("/login", authHandler.HandleLogin)

	userGroup := apiGroup.Group("/users/:userId", authService.Middleware())
	userGroup.GET("/chats", chatHandler.HandleListChats)
	userGroup.POST("/chats", chatHandler.HandleCreateChat)
	userGroup.GET("/chats/grouped", chatHandler.HandleGroupedChats)
	userGroup.GET("/chats/:chatId/messages", chatHandler.HandleListMessages)
	userGroup.POST("/chats/:chatId/messages", chatHandler.HandleAppendMessage)
	userGroup.POST("/chat/stream",
		handlers.RateLimit(redisClient, cfg.RateLimit.RequestsPerMinute, logger),
		streamHandler.HandleStream,
	)

	apiGroup.GET("/speech/transcribe", speechHandler.HandleTranscribe)

	return router
}
