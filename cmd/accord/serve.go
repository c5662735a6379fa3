package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
	"github.com/accordhq/accord/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the estimation server",
	Long: `Run the estimation server: the WebSocket endpoint for clients plus
the /metrics, /health, /ready and /live observability endpoints.

Configuration is read from the optional --config YAML file, then
overridden by ACCORD_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		metrics.SetVersion(Version)

		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open event store: %v", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "")

		srv, err := server.NewServer(cfg, store)
		if err != nil {
			return fmt.Errorf("failed to build server: %v", err)
		}
		metrics.RegisterComponent("engine", true, "")

		collector := metrics.NewCollector(store, srv.Registry(), 15*time.Second)
		collector.Start()
		defer collector.Stop()

		stopEviction := startEvictionLoop(cfg, srv)
		defer stopEviction()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger := log.WithComponent("serve")
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func openStore(cfg *config.Config) (eventstore.Store, error) {
	if cfg.Storage.InMemory {
		return eventstore.NewMemoryStore(), nil
	}
	return eventstore.NewBoltStore(cfg.Storage.DataDir)
}

// startEvictionLoop destroys session actors idle past the configured
// timeout. Their event logs stay in the store; a late command replays
// the session back to life.
func startEvictionLoop(cfg *config.Config, srv *server.Server) func() {
	idle := cfg.Session.IdleTimeout.Std()
	if idle <= 0 {
		return func() {}
	}

	logger := log.WithComponent("eviction")
	ticker := time.NewTicker(idle / 2)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := srv.Registry().EvictIdle(idle); n > 0 {
					logger.Info().Int("evicted", n).Msg("idle sessions evicted")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
}
