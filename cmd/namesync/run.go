package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/namesync/namesync/internal/bridge"
	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/config"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/event"
	"github.com/namesync/namesync/internal/ledger"
	"github.com/namesync/namesync/internal/ledger/rpc"
	"github.com/namesync/namesync/internal/queue"
	"github.com/namesync/namesync/internal/resolver"
	"github.com/namesync/namesync/internal/statsserver"
	"github.com/namesync/namesync/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync bridge and stats server until interrupted",
	Long: `Start the sync bridge: poll the authoritative ledger for domain
events, fetch the referenced record sets from the content store, and
apply them to the cache ledger. A stats server exposes counters and a
websocket event stream while the daemon runs.

Example usage:
  namesync run
  namesync run --config /etc/namesync.yaml

Endpoints while running (default port 8640):
  GET  /stats   counter snapshot
  GET  /health  liveness
  POST /stop    halt the bridge
  GET  /ws      event stream`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.L1Endpoint == "" || cfg.L2Endpoint == "" || cfg.ContentEndpoint == "" {
			return fmt.Errorf("l1_endpoint, l2_endpoint and content_endpoint must be configured")
		}

		l1 := rpc.NewL1(cfg.L1Endpoint)
		l2 := rpc.NewL2(cfg.L2Endpoint, cfg.ConfirmationDepth)
		cs := rpc.NewContent(cfg.ContentEndpoint)

		var fallback ledger.RecordSet
		if cfg.FallbackRecordsPath != "" {
			var err error
			fallback, err = content.LoadFallback(cfg.FallbackRecordsPath)
			if err != nil {
				return fmt.Errorf("failed to load fallback records: %w", err)
			}
		}
		cr := content.NewResolver(cs, nil, fallback, newLogger("content"))

		var journal *store.Store
		if cfg.JournalPath != "" {
			var err error
			journal, err = store.Open(cfg.JournalPath)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer journal.Close()
		}

		bcfg := bridge.DefaultConfig()
		bcfg.PollInterval = cfg.PollInterval
		bcfg.ApplyInterval = cfg.ApplyInterval
		bcfg.SafetyWindow = cfg.SafetyWindow
		bcfg.MaxRetries = cfg.MaxRetries
		bcfg.DefaultTTL = cfg.DefaultTTL
		bcfg.Logger = newLogger("bridge")

		rcfg := resolver.DefaultConfig()
		rcfg.DefaultTTL = cfg.DefaultTTL
		rcfg.VerifyByDefault = cfg.VerifyByDefault
		rcfg.TierTimeout = cfg.TierTimeout
		rcfg.Logger = newLogger("resolver")

		// The stats server is both the event sink and the stats reader, so
		// the engines get a relay that is pointed at it once it exists.
		relay := &event.Relay{}

		b, err := bridge.New(l1, l2, cr, queue.New(), journal, relay, bcfg)
		if err != nil {
			return err
		}
		r, err := resolver.New(l1, l2, cr, cache.New(), relay, rcfg)
		if err != nil {
			return err
		}

		var srv *statsserver.Server
		if cfg.StatsPort > 0 {
			srv = statsserver.New(b, r, &statsserver.Config{
				Port:   cfg.StatsPort,
				Logger: newLogger("stats"),
			})
			if err := srv.Start(); err != nil {
				return err
			}
			relay.SetTarget(srv)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := b.Start(ctx); err != nil {
			return err
		}

		config.Watch(configPath, func() {
			// A changed file is validated but only logged; endpoints and
			// intervals need a restart to take effect.
			if _, err := config.Load(configPath); err != nil {
				bcfg.Logger.Printf("Config file changed but invalid: %v", err)
				return
			}
			bcfg.Logger.Println("Config file changed; restart to apply")
		})

		fmt.Printf("namesync running (poll %s, apply %s)\n", cfg.PollInterval, cfg.ApplyInterval)
		if cfg.StatsPort > 0 {
			fmt.Printf("Stats: http://localhost:%d/stats\n", cfg.StatsPort)
		}
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		b.Stop()
		if srv != nil {
			if err := srv.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
		fmt.Println("Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
