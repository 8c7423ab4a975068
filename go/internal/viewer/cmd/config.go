package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	ServerURL      string
	Room           string
	PollInterval   time.Duration
	PollTimeout    time.Duration
	StateFile      string
	SimTapInterval time.Duration
	MetricsAddr    string
	LogLevel       zerolog.Level
}

func loadConfig() Config {
	return Config{
		ServerURL:      strings.TrimRight(getEnv("CUE_SERVER_URL", "http://localhost:8080"), "/"),
		Room:           os.Getenv("VIEWER_ROOM"),
		PollInterval:   getEnvAsDuration("POLL_INTERVAL", 350*time.Millisecond),
		PollTimeout:    getEnvAsDuration("POLL_TIMEOUT", 2*time.Second),
		StateFile:      getEnv("VIEWER_STATE_FILE", "viewer-session.yaml"),
		SimTapInterval: getEnvAsDuration("VIEWER_SIM_TAP_INTERVAL", 0),
		MetricsAddr:    os.Getenv("VIEWER_METRICS_ADDR"),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
