package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/cache"
	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/encryption"
	"relaychat/backend/internal/events"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

  block   <chat_id> <user_id>
  unblock <chat_id> <user_id>
  role    <chat_id> <user_id> <admin|moderator|member>
  token   <user_id> [email] [role]
  tail    [chat_id]`

func main() {
	godotenv.Load()
	cfg := config.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "tail" {
		tail(cfg, os.Args[2:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch command {
	case "block", "unblock":
		if len(os.Args) != 4 {
			fmt.Printf("Usage: admin %s <chat_id> <user_id>\n", command)
			os.Exit(1)
		}
		chatID, userID := os.Args[2], os.Args[3]
		if err := openChats(cfg).SetBlocked(ctx, chatID, userID, command == "block"); err != nil {
			log.Fatalf("Error updating participant: %v", err)
		}
		fmt.Printf("User %s is now %sed in chat %s.\n", userID, command, chatID)
	case "role":
		if len(os.Args) != 5 {
			fmt.Println("Usage: admin role <chat_id> <user_id> <admin|moderator|member>")
			os.Exit(1)
		}
		chatID, userID, role := os.Args[2], os.Args[3], models.ParticipantRole(os.Args[4])
		if err := openChats(cfg).SetRole(ctx, chatID, userID, role); err != nil {
			log.Fatalf("Error changing role: %v", err)
		}
		fmt.Printf("User %s is now %s in chat %s.\n", userID, role, chatID)
	case "token":
		if len(os.Args) < 3 || len(os.Args) > 5 {
			fmt.Println("Usage: admin token <user_id> [email] [role]")
			os.Exit(1)
		}
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is not set")
		}
		id := auth.Identity{UserID: os.Args[2]}
		if len(os.Args) > 3 {
			id.Email = os.Args[3]
		}
		if len(os.Args) > 4 {
			id.Role = os.Args[4]
		}
		token, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).IssueToken(id, 24*time.Hour)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

// tail prints chat events mirrored to Redis Pub/Sub as JSON lines until
// interrupted. It sees nothing unless the server runs with EVENT_BUS=redis.
func tail(cfg config.Config, args []string) {
	if len(args) > 1 {
		fmt.Println("Usage: admin tail [chat_id]")
		os.Exit(1)
	}
	chatID := ""
	if len(args) == 1 {
		chatID = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := openRedis(cfg)
	defer rdb.Close()

	enc := json.NewEncoder(os.Stdout)
	err := events.SubscribeRedis(ctx, rdb, func(env events.Envelope) {
		if chatID != "" && env.ChatID != chatID {
			return
		}
		if err := enc.Encode(env); err != nil {
			log.Printf("WARNING: Cannot print %s event: %v", env.Event.Event, err)
		}
	})
	if err != nil {
		log.Fatalf("Error subscribing to chat events: %v", err)
	}
}

func openRedis(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func openChats(cfg config.Config) *chat.Service {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	// Cached chats are dropped on every write so the server sees the change.
	live := cache.NewService(openRedis(cfg))
	return chat.NewService(storage.NewStorageService(db), live, encryption.NewEngine(cfg.EncryptionEnabled), chat.Options{})
}
