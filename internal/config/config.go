package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	ListenAddr string

	DefaultMatchName string
	DrawOfferTimeout time.Duration

	PieceThemeDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8190",
		DefaultMatchName: "game",
		DrawOfferTimeout: 30 * time.Second,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_MATCH_NAME")); v != "" {
		cfg.DefaultMatchName = v
	}
	if v := strings.TrimSpace(os.Getenv("DRAW_OFFER_TIMEOUT")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DrawOfferTimeout = time.Duration(n) * time.Second
		}
	}
	cfg.PieceThemeDir = strings.TrimSpace(os.Getenv("PIECE_THEME_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
