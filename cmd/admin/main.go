package main

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/infrastructure/storage"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"
)

// Config is shared with the server through the same environment variables.
type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=WARN"`
	StorageDriver  string `env:"STORAGE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	JWTSecret      string `env:"JWT_SECRET"`
	JWTIssuer      string `env:"JWT_ISSUER,default=chat-sync"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printHelp(out)
		return nil
	}
	command, args := args[0], args[1:]

	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	if command == "token" {
		return issueToken(config, args, out)
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:         config.StorageDriver,
		BadgerFilepath: config.BadgerFilepath,
		PostgresDSN:    config.PostgresDSN,
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return execute(ctx, store, command, args, out)
}

// execute runs a directory command and prints its result as JSON.
func execute(ctx context.Context, directory contract.Directory, command string, args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet(command, pflag.ContinueOnError)
	flagSet.SetOutput(out)
	name := flagSet.String("name", "", "display name of the user, server or channel")
	owner := flagSet.String("owner", "", "owner user id")
	server := flagSet.String("server", "", "server id")
	user := flagSet.String("user", "", "user id")
	peer := flagSet.String("peer", "", "peer user id")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var result any
	var err error
	switch command {
	case "create-user":
		result, err = directory.CreateUser(ctx, *name)
	case "create-server":
		result, err = directory.CreateServer(ctx, *name, *owner)
	case "create-channel":
		result, err = directory.CreateChannel(ctx, *server, *name)
	case "add-member":
		err = directory.AddMember(ctx, *server, *user)
		result = map[string]string{"serverId": *server, "userId": *user}
	case "open-thread":
		result, err = directory.OpenThread(ctx, *user, *peer)
	case "list-threads":
		result, err = directory.ListThreads(ctx, *user)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func issueToken(config Config, args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	user := flagSet.String("user", "", "user id the token is issued for")
	ttl := flagSet.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if config.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to issue tokens")
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	token, err := auth.NewTokenService(config.JWTSecret, config.JWTIssuer).GenerateToken(*user, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `chat-admin manages the directory behind a chat-sync server.

Usage:
  chat-admin <command> [flags]

Commands:
  create-user     --name NAME
  create-server   --name NAME --owner USER_ID
  create-channel  --server SERVER_ID --name NAME
  add-member      --server SERVER_ID --user USER_ID
  open-thread     --user USER_ID --peer USER_ID
  list-threads    --user USER_ID
  token           --user USER_ID [--ttl 24h]

The storage backend and JWT secret are read from the same environment
variables as the server (STORAGE_DRIVER, BADGER_FILEPATH, POSTGRES_DSN,
JWT_SECRET, JWT_ISSUER).
`)
}
