package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerURL    string        `envconfig:"CHAT_SERVER_URL" default:"http://localhost:8080"`
	Token        string        `envconfig:"CHAT_TOKEN" required:"true"`
	UserID       string        `envconfig:"CHAT_USER_ID" required:"true"`
	HistoryLimit int           `envconfig:"CHAT_HISTORY_LIMIT" default:"50"`
	Timeout      time.Duration `envconfig:"CHAT_TIMEOUT" default:"10s"`
	// CHAT_COLOURS toggles colorized output
	Colours  bool   `envconfig:"CHAT_COLOURS" default:"true"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"WARN"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
