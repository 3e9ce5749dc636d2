package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/backend/internal/api/handler"
	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/cache"
	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/chathub"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/encryption"
	"relaychat/backend/internal/events"
	"relaychat/backend/internal/ratelimit"
	"relaychat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type dbPinger struct{ db *gorm.DB }

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func setupDependencies(cfg config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Live state degrades without Redis; the durable store stays authoritative.
		log.Printf("WARNING: Redis unavailable at %s: %v", cfg.RedisAddr, err)
	}

	log.Println("INFO: Database and Redis connections established, migrations complete.")
	return db, rdb
}

func setupPublisher(cfg config.Config, rdb *redis.Client) events.Publisher {
	bus := cfg.EventBus
	if bus == "" && cfg.NATSURL != "" {
		bus = "nats"
	}
	switch bus {
	case "nats":
		pub, err := events.NewNATSPublisher(events.DefaultNATSConfig(cfg.NATSURL))
		if err != nil {
			log.Fatalf("Failed to connect NATS: %v", err)
		}
		return pub
	case "redis":
		log.Println("INFO: Mirroring chat events to Redis Pub/Sub.")
		return events.NewRedisPublisher(rdb)
	default:
		log.Println("INFO: Event bus disabled.")
		return events.NopPublisher{}
	}
}

func main() {
	log.Println("INFO: Starting RelayChat backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("WARNING: No .env file loaded")
	}
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	db, rdb := setupDependencies(cfg)
	store := storage.NewStorageService(db)
	live := cache.NewService(rdb)
	publisher := setupPublisher(cfg, rdb)
	defer publisher.Close()

	chats := chat.NewService(store, live, encryption.NewEngine(cfg.EncryptionEnabled), chat.Options{
		EditWindow:      cfg.EditWindow,
		RetainPlaintext: cfg.RetainPlaintext,
	})
	authn := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	hub := chathub.NewManagerService(chats, live, authn, chathub.Options{
		AuthTimeout: cfg.AuthTimeout,
		Publisher:   publisher,
		Limiter:     ratelimit.NewLimiter(rdb),
		SendRule:    ratelimit.SendMessageRule(cfg.SendRateLimit, cfg.SendRateWindow),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	r := gin.Default()
	h := handler.NewHandler(hub, chats, authn)
	h.AuthTimeout = cfg.AuthTimeout
	h.Checks["postgres"] = dbPinger{db: db}
	h.Checks["redis"] = live
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("INFO: Listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}
	<-hubDone

	if err := rdb.Close(); err != nil {
		log.Printf("WARNING: Closing Redis: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Println("INFO: Stopped.")
}
