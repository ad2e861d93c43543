package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chainsight/responder/internal/scheduler"
	"github.com/chainsight/responder/pkg/schema"
)

// Config holds all responder configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string            `json:"db_path"`
	VectorPath     string            `json:"vector_path"`
	LogLevel       string            `json:"log_level"`
	LogFormat      string            `json:"log_format"`
	StepTimeout    string            `json:"step_timeout"`
	MaxRetries     int               `json:"max_retries"`
	MaxIterations  int               `json:"max_iterations"`
	EscalationExpr string            `json:"escalation_expr"`
	Watches        []scheduler.Watch `json:"watches"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(responderDir(), "responder.db"),
		VectorPath:    filepath.Join(responderDir(), "vectorstore"),
		LogLevel:      "info",
		LogFormat:     "text",
		StepTimeout:   "30s",
		MaxRetries:    2,
		MaxIterations: 3,
		Watches: []scheduler.Watch{
			{Region: "Asia", Category: schema.CategorySupplierFailure, Cron: "*/15 * * * *"},
			{Region: "Asia", Category: schema.CategoryLogisticsDelay, Cron: "*/30 * * * *"},
			{Region: "Global", Category: schema.CategoryGeopolitical, Cron: "0 * * * *"},
		},
	}
}

func responderDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".responder"
	}
	return filepath.Join(home, ".responder")
}

func settingsPath() string {
	return filepath.Join(responderDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("RESPONDER_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RESPONDER_VECTOR_PATH"); v != "" {
		cfg.VectorPath = v
	}
	if v := os.Getenv("RESPONDER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RESPONDER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("RESPONDER_STEP_TIMEOUT"); v != "" {
		cfg.StepTimeout = v
	}
	if v := os.Getenv("RESPONDER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("RESPONDER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("RESPONDER_ESCALATION_EXPR"); v != "" {
		cfg.EscalationExpr = v
	}

	return cfg
}

func (c Config) stepTimeout() time.Duration {
	d, err := time.ParseDuration(c.StepTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
