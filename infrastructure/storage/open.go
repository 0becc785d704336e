// Package storage selects the persistence backend at startup.
package storage

import (
	"chat-sync/contract"
	"chat-sync/infrastructure/postgres"
	"chat-sync/repositories"
	"context"
	"fmt"
	"log/slog"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver         string
	BadgerFilepath string
	PostgresDSN    string
}

func (o Options) Validate() error {
	switch o.Driver {
	case DriverBadger:
		if o.BadgerFilepath == "" {
			return fmt.Errorf("a badger file path is required")
		}
	case DriverPostgres:
		if o.PostgresDSN == "" {
			return fmt.Errorf("a postgres DSN is required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", o.Driver)
	}
	return nil
}

// Open returns the store for the configured driver. The caller closes it.
func Open(ctx context.Context, opts Options, log *slog.Logger) (contract.Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Driver {
	case DriverPostgres:
		pg, err := postgres.Connect(ctx, opts.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		return pg, nil
	default:
		db, err := repositories.Open(opts.BadgerFilepath, log)
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		return db, nil
	}
}
