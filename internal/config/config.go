package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// AppConfig holds everything the client process needs. Environment
// variables win over the optional YAML file, which wins over defaults.
type AppConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`

	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	Profile     string `yaml:"profile"`

	Transport    string        `yaml:"transport"` // ws | poll
	PollInterval time.Duration `yaml:"poll_interval"`

	BoardImagePath string `yaml:"board_image_path"`
}

// Load reads .env (if present), then the YAML file named by
// CHESU_CONFIG (if any), then the environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		Profile:      "default",
		Transport:    "ws",
		PollInterval: time.Second,
	}

	if path := strings.TrimSpace(os.Getenv("CHESU_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.BaseURL == "" {
		return nil, errors.New("CHESU_BASE_URL is required")
	}
	if cfg.WSURL == "" {
		return nil, errors.New("CHESU_WS_URL is required")
	}
	if cfg.Transport != "ws" && cfg.Transport != "poll" {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.BaseURL, "CHESU_BASE_URL")
	setString(&cfg.WSURL, "CHESU_WS_URL")
	setString(&cfg.Email, "CHESU_EMAIL")
	setString(&cfg.Password, "CHESU_PASSWORD")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Profile, "CHESU_PROFILE")
	setString(&cfg.Transport, "CHESU_TRANSPORT")
	setString(&cfg.BoardImagePath, "CHESU_BOARD_IMAGE")

	if v := strings.TrimSpace(os.Getenv("CHESU_POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
