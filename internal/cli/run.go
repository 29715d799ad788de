package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/docsync/internal/events"
	"github.com/iudanet/docsync/internal/syncerr"
)

// ErrSyncTimeout is returned by sync when no pass completes in time.
var ErrSyncTimeout = errors.New("sync did not complete in time")

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Replicate continuously until interrupted",
		Long: `Connect to the DataGate and replicate the collection until SIGINT or SIGTERM.
Lost connections are retried every pollingRate.

Example:
  docsync run --config replica.yaml
  DOCSYNC_AUTH_TOKEN=... docsync run --remote-url ws://localhost:46005 --user alice --collection notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runReplica(ctx, opts, cmd)
		},
	}
}

func runReplica(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.authenticate(&cfg, logger); err != nil {
		return err
	}

	s, err := opts.openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	unsubscribe := s.replica.Subscribe(logEvent(logger))
	defer unsubscribe()

	logger.Info("Replica started", "replica_id", s.replica.ReplicaID(), "collection", cfg.Collection)
	s.replica.Connect(ctx)

	<-ctx.Done()

	disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Duration)
	defer cancel()
	s.replica.Disconnect(disconnectCtx)

	logger.Info("Replica stopped")
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass and exit",
		Long: `Connect to the DataGate, exchange changes made since the last sync and
disconnect once the pass is acknowledged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncOnce(cmd.Context(), opts, cmd, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "maximum time to wait for the pass")

	return cmd
}

func syncOnce(ctx context.Context, opts *RootOptions, cmd *cobra.Command, wait time.Duration) error {
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := opts.authenticate(&cfg, logger); err != nil {
		return err
	}

	s, err := opts.openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.close()

	// слушатель вызывается синхронно, поэтому канал буферизован и запись неблокирующая
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	// проход завершен, когда подтвержден свой и получен проход DataGate
	var (
		completed, received bool
		mu                  sync.Mutex
	)
	log := logEvent(logger)
	unsubscribe := s.replica.Subscribe(func(event events.Event) {
		log(event)
		mu.Lock()
		defer mu.Unlock()
		switch event.Type {
		case events.Completed:
			completed = true
		case events.Received:
			received = true
		case events.Error:
			if syncerr.IsFatal(event.Err) {
				finish(event.Err)
			}
			return
		default:
			return
		}
		if completed && received {
			finish(nil)
		}
	})
	defer unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	s.replica.Connect(waitCtx)

	select {
	case err = <-done:
	case <-waitCtx.Done():
		err = ErrSyncTimeout
	}

	disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), cfg.Timeout.Duration)
	defer cancelDisconnect()
	s.replica.Disconnect(disconnectCtx)

	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Sync completed")
	return nil
}

// logEvent пишет события репликации в лог
func logEvent(logger *slog.Logger) func(events.Event) {
	return func(event events.Event) {
		switch event.Type {
		case events.Error:
			level := slog.LevelWarn
			if syncerr.IsFatal(event.Err) {
				level = slog.LevelError
			}
			logger.Log(context.Background(), level, "Replication error", "error", event.Err)
		case events.Stopped:
			logger.Info("Replication stopped", "reason", event.Reason)
		default:
			logger.Info("Replication event", "type", string(event.Type))
		}
	}
}
