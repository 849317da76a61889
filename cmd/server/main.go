package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Mayank77maruti/Meu-ChaT/config"
	"github.com/Mayank77maruti/Meu-ChaT/internal/handlers"
	"github.com/Mayank77maruti/Meu-ChaT/internal/middleware"
	"github.com/Mayank77maruti/Meu-ChaT/internal/redis"
	sig "github.com/Mayank77maruti/Meu-ChaT/internal/signal"
	"github.com/Mayank77maruti/Meu-ChaT/internal/storage"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redis.Close()
	log.Info().Msg("Redis connection established")

	store, err := storage.NewDiskStore(cfg.Upload.Dir, cfg.Upload.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init upload storage")
	}

	channel := sig.NewRedisChannel(redis.GetClient())
	gateway := handlers.NewCallGateway(channel, cfg.Call.EndGrace, log.Logger)

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		if !redis.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(cfg.JWTSecret)

	api := router.Group("/api")
	{
		api.POST("/auth/signup", handlers.Signup(cfg.JWTSecret))
		api.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		api.GET("/users/:userId", auth, handlers.GetUser)
		api.PUT("/users/publickey", auth, handlers.UpdatePublicKey)

		api.POST("/chats", auth, handlers.CreateChat)
		api.GET("/chats/:chatId", auth, handlers.GetChat)
		api.DELETE("/chats/:chatId", auth, handlers.DeleteChat)

		api.GET("/presence/:userId", auth, handlers.GetPresence)
		api.POST("/upload", auth, handlers.Upload(store))
	}

	router.Static(cfg.Upload.BaseURL, store.Dir())

	ws := router.Group("/ws")
	{
		ws.GET("/calls/:chatId", auth, gateway.Handle)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
}
