package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DeleteGrace is how long a message stays in the list marked deleting
	// before it is physically removed. Keeps layout stable for the exit
	// animation.
	DeleteGrace = 300 * time.Millisecond

	// ReconnectDelay is the single-shot retry delay after an unexpected
	// socket closure.
	ReconnectDelay = 3 * time.Second

	// CollapseDelay is how long system/join/leave entries stay expanded.
	CollapseDelay = 5 * time.Second

	// EditApplyDelay and EditSettleDelay stage the edit transition:
	// mark editing, apply the new content, then drop the editing flag.
	EditApplyDelay  = 50 * time.Millisecond
	EditSettleDelay = 1500 * time.Millisecond

	// IdentityTTL is the lifetime of the persisted identity, matching the
	// original 30-day cookie.
	IdentityTTL = 30 * 24 * time.Hour
)

// Config holds the endpoints and credentials the client needs at startup.
type Config struct {
	WSURL          string
	APIURL         string
	RedisAddr      string
	TelegramToken  string
	TelegramChatID int64
}

// Load reads the optional .env file and the environment. Missing values fall
// back to local-development defaults; the Telegram settings stay empty when
// unset and the notifier is simply not wired.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: no .env file loaded")
	}

	cfg := Config{
		WSURL:         getenv("CHAT_WS_URL", "ws://localhost:8080/ws"),
		APIURL:        getenv("CHAT_API_URL", "http://localhost:8080"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Printf("Warning: invalid TELEGRAM_CHAT_ID %q: %v", raw, err)
		} else {
			cfg.TelegramChatID = id
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
