// Package config collects runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the chat subsystem reads. Values come
// from env vars with sensible defaults; main loads a .env file first.
type Config struct {
	Port      string
	ServerURL string
	JWTSecret string
	LogLevel  string
	LogFormat string

	ConnectTimeout   time.Duration
	ReadReceiptDelay time.Duration
	TypingExpiry     time.Duration
	HistoryPageSize  int
}

// Load reads the environment and applies defaults.
func Load() Config {
	return Config{
		Port:      getenv("PORT", "8080"),
		ServerURL: getenv("CHAT_SERVER_URL", "http://localhost:8080"),
		JWTSecret: getenv("JWT_SECRET", ""),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "console"),

		ConnectTimeout:   getdur("CHAT_CONNECT_TIMEOUT", 10*time.Second),
		ReadReceiptDelay: getdur("CHAT_READ_RECEIPT_DELAY", 500*time.Millisecond),
		TypingExpiry:     getdur("CHAT_TYPING_EXPIRY", 3*time.Second),
		HistoryPageSize:  getint("CHAT_HISTORY_PAGE_SIZE", 50),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
