package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/npms-io/npms-analyzer/bootstrap"
	"github.com/npms-io/npms-analyzer/observer"
)

func init() {
	RootCmd.AddCommand(observeCmd)
	observeCmd.Flags().String("default-seq", "", "upstream change-feed sequence to start from when no checkpoint exists (defaults to \"now\")")

	viper.BindPFlag("observer.default_seq", observeCmd.Flags().Lookup("default-seq"))
}

// observeCmd runs the Realtime and Stale observers side by side, pushing
// every package they decide needs (re-)analysis onto the durable work
// queue rather than analyzing it inline.
var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "watch the registry change feed and stale packages, enqueuing work",
	Long: `observe runs two independent watchers:

  - the Realtime Observer follows the upstream registry's change feed,
    buffering and flushing batches of changed package names
  - the Stale Observer periodically scans for packages whose last
    analysis has aged past a threshold

Both push package names onto the durable work queue for the consume
command to pick up. Either watcher can be disabled via the
ANALYZER_REALTIME_OBSERVER_ENABLED / ANALYZER_STALE_OBSERVER_ENABLED feature flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("observe", cfg)

		defaultSeq, _ := cmd.Flags().GetString("default-seq")
		if defaultSeq == "" {
			defaultSeq = viper.GetString("observer.default_seq")
		}
		if defaultSeq == "" {
			defaultSeq = "now"
		}

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		store, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer store.Close()

		registry, err := bootstrap.WaitForRegistry(ctx, cfg.Registry, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to registry")
		}
		defer registry.Close()

		queue, err := bootstrap.WaitForBroker(ctx, cfg.Broker, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to broker")
		}
		defer queue.Close()

		onPackage := func(priority int) observer.OnPackage {
			return func(ctx context.Context, name string) error {
				return queue.Push(ctx, name, priority)
			}
		}

		g, ctx := errgroup.WithContext(ctx)

		if cfg.Features.RealtimeObserverEnabled {
			realtime := &observer.Realtime{
				Registry: registry,
				Store:    store,
				OnPkg:    onPackage(1),
				Config:   observer.RealtimeConfig{DefaultSeq: defaultSeq},
			}
			g.Go(func() error {
				logger.Info("starting realtime observer")
				return realtime.Run(ctx)
			})
		}

		if cfg.Features.StaleObserverEnabled {
			stale := &observer.Stale{
				Store:  store,
				OnPkg:  onPackage(0),
				Config: observer.StaleConfig{},
			}
			g.Go(func() error {
				logger.Info("starting stale observer")
				return stale.Run(ctx)
			})
		}

		if err := g.Wait(); err != nil && ctx.Err() == nil {
			logger.WithError(err).Fatal("observer stopped unexpectedly")
		}
		logger.Info("observe shut down cleanly")
	},
}
