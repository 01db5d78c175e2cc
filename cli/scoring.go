package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npms-io/npms-analyzer/bootstrap"
	"github.com/npms-io/npms-analyzer/scoring"
)

func init() {
	RootCmd.AddCommand(scoringCmd)
	scoringCmd.Flags().Int("cycle-delay", 0, "milliseconds between scoring cycles (default 3h)")

	viper.BindPFlag("scoring.cycle_delay_ms", scoringCmd.Flags().Lookup("cycle-delay"))
}

// scoringCmd runs the Prepare → Aggregate → Score → Finalize → Sleep cycle
// against the score-store database and the search index, blocking until
// shut down.
var scoringCmd = &cobra.Command{
	Use:   "scoring",
	Short: "run the scoring cycle against the analysis population",
	Long: `scoring aggregates every persisted analysis document's evaluation
vector into population-wide min/max/mean/median/truncated-mean statistics,
computes a normalized score for each package, and atomically swaps the
result into the search index's "current" alias. It sleeps between cycles
and retries sooner on failure.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("scoring", cfg)

		cycleDelayMS, _ := cmd.Flags().GetInt("cycle-delay")
		if cycleDelayMS == 0 {
			cycleDelayMS = viper.GetInt("scoring.cycle_delay_ms")
		}

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		store, err := bootstrap.WaitForStore(ctx, cfg.ScoreStore, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to score store")
		}
		defer store.Close()

		searchIndex, err := bootstrap.WaitForSearchIndex(ctx, cfg.SearchIndex, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to search index")
		}
		defer searchIndex.Close()

		cycle := &scoring.Cycle{
			Store:       store,
			SearchIndex: searchIndex,
			Config: scoring.CycleConfig{
				CycleDelay: time.Duration(cycleDelayMS) * time.Millisecond,
			},
		}

		logger.Info("starting scoring cycle")
		if err := cycle.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Fatal("scoring cycle stopped unexpectedly")
		}
		logger.Info("scoring shut down cleanly")
	},
}
