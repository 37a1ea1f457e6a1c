// Command agent is the CollabText local peer. It serves the editor UI, keeps the document and
// its annotations in an embedded log, and syncs with other agents found over mDNS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"collabtext/annotation"
	"collabtext/config"
	"collabtext/crdt"
	"collabtext/persist"
	"collabtext/persist/bolt"
	"collabtext/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath, docID string
	var noDiscovery bool
	cmd := &cobra.Command{
		Use:   "collabtext-agent",
		Short: "CollabText local peer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if docID != "" {
				cfg.Agent.Document = docID
			}
			if noDiscovery {
				cfg.Agent.Discovery = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&docID, "doc", "d", "", "document to open (overrides config)")
	cmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "do not announce or browse over mDNS")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger()
	slog.SetDefault(logger)

	log, err := bolt.Open(cfg.Agent.BoltPath)
	if err != nil {
		return err
	}
	defer log.Close()

	// A fresh peer id per process keeps replayed updates from looking like our own.
	peer := cfg.Replica + "-" + uuid.NewString()
	sess := session.New(crdt.NewDoc(peer), session.Options{
		Map:    cfg.Annotation.Map,
		Logger: logger,
		Engine: annotation.Options{
			Attributes:      cfg.Annotation.Attributes,
			Replica:         cfg.Replica,
			WriteBackOrigin: cfg.Annotation.WriteBackOrigin,
			Observer:        annotation.LogObserver(logger),
		},
	})
	n, err := persist.Replay(ctx, log, cfg.Agent.Document, sess)
	if err != nil {
		return err
	}
	logger.Info("document loaded", "doc", cfg.Agent.Document, "replayed", n, "annotations", len(sess.Overlay()))

	a := newAgent(cfg.Agent.Document, sess, log, logger)
	a.start(ctx)

	ln, err := net.Listen("tcp", cfg.Agent.Listen)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv := &http.Server{Handler: a.router(cfg.Agent.UIDir), ReadHeaderTimeout: 10 * time.Second}

	if cfg.Agent.Discovery {
		port := ln.Addr().(*net.TCPAddr).Port
		host, _ := os.Hostname()
		instance := fmt.Sprintf("CollabText-%s-%s", host, strconv.Itoa(port))
		d := newDiscovery(instance, cfg.Agent.ServiceName, cfg.Agent.Document, port, a.dialPeer, logger)
		go func() {
			if err := d.run(ctx); err != nil {
				logger.Error("discovery stopped", "error", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("agent is running", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func (a *agent) router(uiDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", a.ui.ServeWS)
	r.HandleFunc("/peer", a.peers.ServeWS)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(uiDir)))
	return r
}
