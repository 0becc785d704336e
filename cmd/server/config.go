package main

import (
	"fmt"
	"time"
)

type Config struct {
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`
	Host       string `env:"HOST,default=localhost"`
	Port       int    `env:"PORT,default=8080"`
	HealthPort int    `env:"HEALTH_PORT,default=9090"`

	// StorageDriver is either badger or postgres
	StorageDriver  string `env:"STORAGE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	PostgresDSN    string `env:"POSTGRES_DSN"`

	RedisAddr   string        `env:"REDIS_ADDR"`
	PresenceTTL time.Duration `env:"PRESENCE_TTL,default=45s"`

	JWTSecret string `env:"JWT_SECRET,required=true"`
	JWTIssuer string `env:"JWT_ISSUER,default=chat-sync"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	RateLimitPerSec      int           `env:"RATE_LIMIT_PER_SEC,default=10"`
	RateBurst            int           `env:"RATE_BURST,default=20"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=10s"`
	HealthInterval  time.Duration `env:"HEALTH_INTERVAL,default=5s"`

	// Moderation is off when ModerationDir is empty
	ModerationDir             string `env:"MODERATION_DIR"`
	ModerationCharReplacement string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	return nil
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
