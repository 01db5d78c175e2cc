package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npms-io/npms-analyzer/analyze"
	"github.com/npms-io/npms-analyzer/bootstrap"
	"github.com/npms-io/npms-analyzer/mqueue"
)

// workDirRoot returns the base directory under which per-package download
// work directories are created and cleaned up.
func workDirRoot() string {
	return os.TempDir()
}

func init() {
	RootCmd.AddCommand(consumeCmd)
	consumeCmd.Flags().Int("concurrency", 0, "number of packages analyzed concurrently (default 10)")

	viper.BindPFlag("consumer.concurrency", consumeCmd.Flags().Lookup("concurrency"))
}

// consumeCmd drains the durable work queue, running one analysis per item
// through analyze.Pipeline. It replaces the teacher's process-state
// consumer: where that command appended ProcessMessage state changes onto
// a ProcessDocument, this one runs the full acquire/download/evaluate/
// persist pipeline per package name and lets Pipeline.Analyze itself
// persist the outcome, successful or degraded.
var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "consume the work queue, analyzing each package",
	Long: `consume connects to the durable work queue and processes each
item by running it through the full analysis pipeline: acquire package
metadata from the registry, download and extract the tarball, run the
quality/popularity/maintenance collectors, and persist the result (or a
degraded failure document) to the document store.

Items that fail are retried up to the broker's configured maximum before
being dead-lettered, per the work queue's retry policy.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("consume", cfg)

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency == 0 {
			concurrency = viper.GetInt("consumer.concurrency")
		}
		if concurrency == 0 {
			concurrency = 10
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

		pipeline := &analyze.Pipeline{
			Registry:    registry,
			Store:       store,
			Download:    cfg.Download,
			BaseWorkDir: filepath.Join(workDirRoot(), "npms-analyzer"),
		}

		opts := mqueue.ConsumeOptions{
			Concurrency: concurrency,
			MaxRetries:  cfg.Broker.MaxRetries,
			OnRetriesExceeded: func(item mqueue.Envelope, cause error) {
				logger.WithFields(map[string]interface{}{
					"package":     item.Name,
					"retry_count": item.RetryCount,
				}).WithError(cause).Error("package exhausted retries, dead-lettering")
			},
		}

		logger.WithField("concurrency", concurrency).Info("starting consumer")
		err = queue.Consume(ctx, opts, func(ctx context.Context, item mqueue.Envelope) error {
			return pipeline.Analyze(ctx, item.Name)
		})
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Fatal("consumer stopped unexpectedly")
		}
		logger.Info("consume shut down cleanly")
	},
}
