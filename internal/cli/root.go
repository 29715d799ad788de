// Package cli реализует команды реплики docsync.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/config"
	"github.com/iudanet/docsync/internal/replication"
	"github.com/iudanet/docsync/internal/storage/boltdb"
)

// BuildInfo сведения о сборке, задаются через ldflags
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Prompter Prompter
	// Now источник времени для проверки токена; nil - time.Now
	Now func() time.Time

	ConfigPath  string
	Collection  string
	RemoteURL   string
	UserName    string
	Tenant      string
	ReplicaName string
	DBPath      string
	Token       string
	TokenFile   string
	Verbose     bool
}

// NewRootCommand creates the root command for the replica CLI.
func NewRootCommand(build BuildInfo, prompter Prompter) *cobra.Command {
	opts := &RootOptions{Prompter: prompter, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "docsync",
		Short: "docsync - replicate a local document collection with a DataGate",
		Long: `docsync keeps a local bbolt document collection in sync with a DataGate
server over a websocket. Local edits made with insert, update and remove are
recorded offline and replicated on the next run or sync.`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", build.Version, build.BuildDate, build.GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	f.StringVar(&opts.Collection, "collection", "", "collection name (overrides config)")
	f.StringVar(&opts.RemoteURL, "remote-url", "", "DataGate address, e.g. ws://localhost:46005 (overrides config)")
	f.StringVar(&opts.UserName, "user", "", "user name (overrides config)")
	f.StringVar(&opts.Tenant, "tenant", "", "tenant (overrides config)")
	f.StringVar(&opts.ReplicaName, "replica-name", "", "human readable replica name (overrides config)")
	f.StringVar(&opts.DBPath, "db", "", "path to local bbolt database (overrides config)")
	f.StringVar(&opts.Token, "token", "", "auth token (not recommended, use "+TokenEnv+" or --token-file)")
	f.StringVar(&opts.TokenFile, "token-file", "", "path to file containing auth token")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewListCommand(opts))

	return cmd
}

// loadConfig читает файл конфигурации (если задан) и применяет флаги поверх него
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.LoadFile(o.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	override(&cfg.Collection, o.Collection)
	override(&cfg.RemoteURL, o.RemoteURL)
	override(&cfg.UserName, o.UserName)
	override(&cfg.Tenant, o.Tenant)
	override(&cfg.ReplicaName, o.ReplicaName)
	override(&cfg.DBPath, o.DBPath)
	override(&cfg.AuthToken, o.Token)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// logger создает текстовый slog логгер; --verbose включает debug
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// authenticate находит токен и отсекает просроченный или чужой до подключения
func (o *RootOptions) authenticate(cfg *config.Config, logger *slog.Logger) error {
	token, err := resolveToken(TokenSources{FromFile: o.TokenFile, FromConfig: cfg.AuthToken}, o.Prompter)
	if err != nil {
		return err
	}

	info, err := config.InspectToken(token, cfg.UserName, o.Now())
	if err != nil {
		return err
	}
	if !info.ExpiresAt.IsZero() {
		logger.Debug("Auth token accepted", "subject", info.Subject, "expires_at", info.ExpiresAt)
	}

	cfg.AuthToken = token
	return nil
}

// session открытые хранилище и реплика одной команды
type session struct {
	store   *boltdb.Storage
	replica *replication.Replica
	cfg     config.Config
}

// openSession открывает локальное хранилище и реплику без подключения к DataGate.
// Реплика нужна и локальным командам: она записывает tombstones удалений.
func (o *RootOptions) openSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*session, error) {
	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	replica, err := replication.Open(ctx, cfg, store, nil, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}

	return &session{store: store, replica: replica, cfg: cfg}, nil
}

func (s *session) close() {
	s.replica.Close()
	s.store.Close()
}

func (s *session) collection() (*boltdb.Collection, error) {
	return s.store.Collection(s.cfg.Collection)
}
