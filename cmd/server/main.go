package main

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/errors"
	"chat-sync/infrastructure/grpc"
	"chat-sync/infrastructure/redis"
	"chat-sync/infrastructure/storage"
	"chat-sync/infrastructure/ws"
	"chat-sync/moderation"
	"chat-sync/observability"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a termination signal. Returning
// instead of exiting lets the deferred closes run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	store, err := storage.Open(ctx, storage.Options{
		Driver:         config.StorageDriver,
		BadgerFilepath: config.BadgerFilepath,
		PostgresDSN:    config.PostgresDSN,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing store...", "driver", config.StorageDriver)
		_ = store.Close()
	}()

	// 3. Presence
	var presence contract.PresenceTracker = runtime.NewLocalPresence(config.PresenceTTL)
	if config.RedisAddr != "" {
		redisPresence, err := redis.Connect(ctx, config.RedisAddr, config.PresenceTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer func() { _ = redisPresence.Close() }()
		presence = redisPresence
	}

	// 4. Core
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(log, metrics)
	options := []runtime.HandlerOption{runtime.WithMetrics(metrics)}
	if config.ModerationDir != "" {
		moderator, err := loadModerator(config, log)
		if err != nil {
			return err
		}
		options = append(options, runtime.WithModerator(moderator))
	}
	handler := runtime.NewHandler(registry, store, store, log, options...)

	tokens := auth.NewTokenService(config.JWTSecret, config.JWTIssuer)
	server := ws.NewServer(ws.Config{
		Addr:             fmt.Sprintf("%s:%d", config.Host, config.Port),
		BufferSize:       config.ConnectionBufferSize,
		HistoryLimit:     config.HistoryLimit,
		MaxContentLength: config.MaxContentLength,
		RateLimitPerSec:  float64(config.RateLimitPerSec),
		RateBurst:        config.RateBurst,
		WriteTimeout:     config.WriteTimeout,
		PingInterval:     config.PingInterval,
		PresenceRefresh:  config.PresenceTTL / 3,
	}, ws.Deps{
		Handler:    handler,
		Resolver:   auth.NewJWTResolver(tokens, log),
		Membership: store,
		Store:      store,
		Directory:  store,
		Presence:   presence,
		Metrics:    metrics,
		Exporter:   metrics.Handler(),
		Validator:  auth.NewValidator(),
		Log:        log,
	})

	// 5. Supervision
	probe := func(ctx context.Context) error {
		_, err := store.IsChannelMember(ctx, "", "health-probe")
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		return nil
	}
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		server,
		grpc.NewHealthServer(log, fmt.Sprintf("%s:%d", config.Host, config.HealthPort), probe, config.HealthInterval),
		workers.NewProcessStatsWorker(log, metrics, registry, config.MetricInterval),
	)

	log.Info("Starting chat-sync", "driver", config.StorageDriver, "port", config.Port)
	sup.Run(ctx)
	log.Info("Program stopped cleanly")
	return nil
}

func loadModerator(config Config, log *slog.Logger) (*moderation.Moderator, error) {
	replacement, err := CharacterRune(config.ModerationCharReplacement)
	if err != nil {
		return nil, err
	}
	dir := filepath.Clean(config.ModerationDir)
	data, err := moderation.NewCensoredLoader(os.DirFS(dir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("moderation words loading failed: %w", err)
	}
	log.Info("Moderation enabled", "words", len(data.Words), "languages", data.Languages)
	return moderation.NewModerator(data.Words, replacement, log)
}
