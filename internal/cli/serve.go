package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanscribe/chanscribe/internal/bus"
	"github.com/chanscribe/chanscribe/internal/config"
	"github.com/chanscribe/chanscribe/internal/reconcile"
	"github.com/chanscribe/chanscribe/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror: consume gateway events and reconcile the store",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("📡 chanscribe serve")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	eventBus := bus.NewEventBus()
	engine := reconcile.New(store)

	if cfg.Relay.Enabled {
		r := relay.New(cfg.Relay.Brokers, cfg.Relay.ConsumerGroup, cfg.Relay.Topic, eventBus)
		defer r.Close()
		go func() {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("relay stopped", "error", err)
				cancel()
			}
		}()
		slog.Info("relay consuming", "brokers", cfg.Relay.Brokers, "topic", cfg.Relay.Topic)
	} else {
		slog.Warn("relay disabled; serving with no event source")
	}

	fmt.Println("Reconciling events. Ctrl+C to stop.")
	if err := engine.Run(ctx, eventBus); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
