package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_DRIVER", "TICKET_NUMBERING", "MINUTES_PER_TICKET", "SESSION_TTL_SECONDS", "LOG_LEVEL", "DISPLAY_LOCALE"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.StoreDriver != StoreMemory || cfg.Numbering != NumberingLatest {
		t.Fatalf("unexpected drivers %s/%s", cfg.StoreDriver, cfg.Numbering)
	}
	if cfg.MinutesPerTicket != 3 {
		t.Fatalf("expected 3 minutes per ticket, got %d", cfg.MinutesPerTicket)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level %s", cfg.LogLevel)
	}
	if cfg.DisplayLocale != "id" {
		t.Fatalf("unexpected locale %s", cfg.DisplayLocale)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("TICKET_NUMBERING", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MINUTES_PER_TICKET", "not-a-number")
	t.Setenv("SESSION_TTL_SECONDS", "60")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PUBLIC_BASE_URL", "https://queue.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != StorePostgres || cfg.Numbering != NumberingRedis {
		t.Fatalf("unexpected drivers %s/%s", cfg.StoreDriver, cfg.Numbering)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.MinutesPerTicket != 3 {
		t.Fatalf("expected fallback for invalid int, got %d", cfg.MinutesPerTicket)
	}
	if cfg.SessionTTL != time.Minute {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level %s", cfg.LogLevel)
	}
	if cfg.PublicBaseURL != "https://queue.example.com" {
		t.Fatalf("unexpected base url %s", cfg.PublicBaseURL)
	}
}
