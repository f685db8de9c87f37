package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	NumberingLatest   = "latest"
	NumberingPostgres = "postgres"
	NumberingRedis    = "redis"
)

type Config struct {
	Port          string
	DatabaseURL   string
	StoreDriver   string
	Numbering     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PublicBaseURL    string
	TicketSpoolDir   string
	DisplayLocale    string
	MinutesPerTicket int
	ArchiveCron      string

	SessionTTL       time.Duration
	OperatorsFile    string
	OperatorPassword string

	RateLimitPerMinute         int
	RateLimitBurst             int
	OperatorRateLimitPerMinute int
	OperatorRateLimitBurst     int

	LogLevel slog.Level
}

// Load reads the environment, after applying a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:          port,
		DatabaseURL:   os.Getenv("DB_DSN"),
		StoreDriver:   readString("STORE_DRIVER", StoreMemory),
		Numbering:     readString("TICKET_NUMBERING", NumberingLatest),
		RedisAddr:     readString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),

		PublicBaseURL:    strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		TicketSpoolDir:   os.Getenv("TICKET_SPOOL_DIR"),
		DisplayLocale:    readString("DISPLAY_LOCALE", "id"),
		MinutesPerTicket: readInt("MINUTES_PER_TICKET", 3),
		ArchiveCron:      os.Getenv("ARCHIVE_CRON"),

		SessionTTL:       readDurationSeconds("SESSION_TTL_SECONDS", 12*60*60),
		OperatorsFile:    os.Getenv("OPERATORS_FILE"),
		OperatorPassword: os.Getenv("OPERATOR_PASSWORD"),

		RateLimitPerMinute:         readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:             readInt("RATE_LIMIT_BURST", 30),
		OperatorRateLimitPerMinute: readInt("OPERATOR_RATE_LIMIT_PER_MIN", 600),
		OperatorRateLimitBurst:     readInt("OPERATOR_RATE_LIMIT_BURST", 120),

		LogLevel: readLevel("LOG_LEVEL", slog.LevelInfo),
	}, nil
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return strings.ToLower(value)
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readLevel(key string, fallback slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
