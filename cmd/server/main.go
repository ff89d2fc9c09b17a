package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/music-match-system/internal/auth"
	"github.com/music-match-system/internal/poller"
	"github.com/music-match-system/internal/scrobble"
	"github.com/music-match-system/internal/search"
	"github.com/music-match-system/internal/spotify"
	"github.com/music-match-system/internal/ws"
	"github.com/music-match-system/pkg/events"
	"github.com/music-match-system/pkg/graph"
	storeredis "github.com/music-match-system/pkg/redis"
)

func main() {
	// A missing .env is fine in containers, where env comes from the
	// orchestrator.
	_ = godotenv.Load()

	log := newLogger()

	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Graph store
	store, err := graph.NewStore(ctx,
		envOr("NEO4J_URI", "bolt://localhost:7687"),
		envOr("NEO4J_USER", "neo4j"),
		os.Getenv("NEO4J_PASSWORD"),
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to graph store")
	}
	defer store.Close(context.Background())

	if err := store.EnsureConstraints(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure graph constraints")
	}

	// Redis credential store
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     envOr("REDIS_HOST", "localhost") + ":" + envOr("REDIS_PORT", "6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	tokenStore := storeredis.NewTokenStore(redisClient)

	// Kafka event bus. Worker and notification pump consume on separate
	// group ids so both see every event.
	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := envOr("KAFKA_TOPIC", "music-match-events")
	workerBus := events.NewKafkaClient(brokers, topic, envOr("KAFKA_GROUP_ID", "music-match-sync"))
	notifyBus := events.NewKafkaClient(brokers, topic, envOr("KAFKA_GROUP_ID", "music-match-sync")+"-ws")
	defer workerBus.Close()
	defer notifyBus.Close()

	// Streaming client and ingestion
	spotifyClient := spotify.NewClient(
		os.Getenv("SPOTIFY_CLIENT_ID"),
		os.Getenv("SPOTIFY_CLIENT_SECRET"),
		os.Getenv("SPOTIFY_REDIRECT_URI"),
	)
	ingest := scrobble.NewService(store, spotifyClient, log)
	syncer := poller.NewSyncer(tokenStore, spotifyClient, ingest, log)

	// Background sync: interval polling plus on-demand worker
	scheduler := poller.NewScheduler(store, syncer, workerBus, pollInterval(log), log)
	scheduler.Start()
	defer scheduler.Stop()

	worker := poller.NewWorker(workerBus, workerBus, syncer, log)
	worker.Start()
	defer worker.Stop()

	// HTTP layer
	searchHandler := search.NewHandler(search.NewService(store, log))
	authHandler := auth.NewHandler(spotifyClient, tokenStore, store, workerBus, store, log)
	wsHandler := ws.NewHandler(notifyBus, log)
	wsHandler.Start()
	defer wsHandler.Stop()

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(envOr("CORS_ORIGINS", "http://localhost:5173"), ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	authHandler.RegisterRoutes(v1)

	protected := v1.Group("", auth.RequireAuth(store))
	searchHandler.RegisterRoutes(protected)
	protected.GET("/ws", wsHandler.HandleWebSocket)

	srv := &http.Server{
		Addr:    ":" + envOr("PORT", "8080"),
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var log zerolog.Logger
	if os.Getenv("ENV") == "production" {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	if level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		log = log.Level(level)
	}
	return log
}

func pollInterval(log zerolog.Logger) time.Duration {
	raw := os.Getenv("POLL_INTERVAL")
	if raw == "" {
		return poller.DefaultInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("poll_interval", raw).Msg("invalid poll interval, using default")
		return poller.DefaultInterval
	}
	return interval
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
