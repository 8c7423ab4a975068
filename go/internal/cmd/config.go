package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/cuecast/go/internal/dbconfig"
	"github.com/rs/zerolog"
)

// Config is the cue server configuration.
type Config struct {
	Port        string
	LogLevel    zerolog.Level
	NATSURL     string
	StreamName  string
	CORSOrigins []string
	Database    dbconfig.Config
	SendBuffer  int

	ShutdownTimeout time.Duration
}

func loadConfig() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        parseLevel(getEnv("LOG_LEVEL", "info")),
		NATSURL:         os.Getenv("NATS_URL"),
		StreamName:      getEnv("CUE_STREAM", "CUE_EVENTS"),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		Database:        dbconfig.NewConfigFromEnv(),
		SendBuffer:      getEnvAsInt("WS_SEND_BUFFER", 16),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
