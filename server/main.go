// Command server is the CollabText sync server: it relays document updates between websocket
// clients and other server instances, keeps a headless replica of every open document, persists
// updates, and serves annotation queries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"collabtext/annotation"
	"collabtext/config"
	"collabtext/persist"
	"collabtext/persist/memory"
	"collabtext/persist/postgres"
	"collabtext/persist/sqlite"
	"collabtext/replica"
	"collabtext/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var noRelay bool
	cmd := &cobra.Command{
		Use:   "collabtext-server",
		Short: "CollabText sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if noRelay {
				cfg.Server.RedisAddr = ""
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "run without the redis relay")
	cmd.AddCommand(newInitCmd())
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Write(args[0], config.Default()); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", args[0])
			return nil
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger()
	slog.SetDefault(logger)

	log, err := openLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logger.Info("update log ready", "store", cfg.Server.Store)

	// A fresh peer id per process keeps replayed updates from looking like our own.
	peer := cfg.Replica + "-" + uuid.NewString()

	var relay Relay
	if cfg.Server.RedisAddr != "" {
		rdb, err := replica.Dial(ctx, cfg.Server.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		relay = replica.NewRedis(rdb, peer, logger)
		logger.Info("connected to redis", "addr", cfg.Server.RedisAddr)
	}

	docs := newDocuments(ctx, log, relay, peer, sessionOptions(cfg, logger))
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           newRouter(docs, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("sync server starting", "addr", cfg.Server.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdown)
}

func openLog(ctx context.Context, cfg config.Config) (persist.Log, error) {
	switch cfg.Server.Store {
	case "postgres":
		return postgres.Open(ctx, cfg.Server.DatabaseURL)
	case "sqlite":
		return sqlite.Open(cfg.Server.SQLitePath)
	default:
		return memory.New(), nil
	}
}

func sessionOptions(cfg config.Config, logger *slog.Logger) session.Options {
	return session.Options{
		Map:    cfg.Annotation.Map,
		Logger: logger,
		Engine: annotation.Options{
			Attributes:      cfg.Annotation.Attributes,
			Replica:         cfg.Replica,
			WriteBackOrigin: cfg.Annotation.WriteBackOrigin,
			Observer: annotation.Observers{
				annotation.LogObserver(logger),
				annotation.MetricsObserver(),
			},
		},
	}
}
