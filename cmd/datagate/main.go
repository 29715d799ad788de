package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/docsync/internal/server"
	"github.com/iudanet/docsync/internal/server/jwt"
	"github.com/iudanet/docsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// secretEnv переменная окружения с ключом подписи токенов
const secretEnv = "DOCSYNC_JWT_SECRET"

func main() {
	defaults := server.DefaultOptions()

	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":46005", "Listen address")
	dbPath := flag.String("db", "datagate.db", "Path to SQLite database")
	secret := flag.String("secret", "", "JWT signing secret (default $"+secretEnv+")")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Issued token lifetime")
	tombstoneTTL := flag.Duration("tombstone-ttl", defaults.Session.TombstoneTTL, "Tombstone TTL announced to replicas, 0 disables GC")
	batchSize := flag.Int("batch-size", defaults.Session.BatchSize, "Server pass page size")
	connectRate := flag.Int("connect-rate", defaults.ConnectRate, "Websocket connects per client per minute")
	issueToken := flag.String("issue-token", "", "Print a token for the given user and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *secret == "" {
		*secret = os.Getenv(secretEnv)
	}
	if *secret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT secret is required, use -secret or %s\n", secretEnv)
		os.Exit(1)
	}
	tokens := jwt.NewService(*secret, *tokenTTL)

	if *issueToken != "" {
		token, expiresAt, err := tokens.Issue(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		logger.Info("Token issued", "user", *issueToken, "expires_at", expiresAt)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *dbPath, tokens, *tombstoneTTL, *batchSize, *connectRate); err != nil {
		logger.Error("DataGate stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	logger *slog.Logger,
	addr, dbPath string,
	tokens *jwt.Service,
	tombstoneTTL time.Duration,
	batchSize, connectRate int,
) error {
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	opts := server.DefaultOptions()
	opts.Version = Version
	opts.Session.TombstoneTTL = tombstoneTTL
	opts.Session.BatchSize = batchSize
	opts.ConnectRate = connectRate

	srv := server.New(logger, store, tokens, opts)
	defer srv.Close()

	logger.Info("DataGate starting", "addr", addr, "db", dbPath, "version", Version)
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("DataGate stopped")
	return nil
}

func printVersion() {
	fmt.Printf("docsync DataGate\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
