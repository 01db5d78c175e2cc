// Package cli wires the analyzer's four long-running/one-shot roles —
// observe, consume, scoring, tasks — onto a single cobra command tree, each
// one bootstrapping its own external dependencies and running until its
// context is cancelled. It keeps the teacher's flag→viper→config-file
// precedence and persistent-flag-binding idiom, generalized from a single
// HTTP-server command to the analyzer's process-per-role shape.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

var cfgFile string

// RootCmd is the base command every subcommand in this package attaches
// itself to via its own init().
var RootCmd = &cobra.Command{
	Use:   "npms-analyzer",
	Short: "continuously analyze and score npm registry packages",
	Long: `npms-analyzer watches a package registry's change feed and
periodically re-checks packages whose analysis has gone stale, pushing
their names onto a durable work queue. A separate consumer drains that
queue, downloading, evaluating and persisting each package's analysis.
A scoring cycle aggregates the population's evaluations and publishes a
normalized score for each package into a search index.`,
}

// Execute runs the command tree, exiting non-zero on any error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.npms-analyzer.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-format", "", "log output format (text, json)")

	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", RootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig discovers an optional YAML config file, the same search path
// the teacher's server command used, generalized to this module's name.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".npms-analyzer")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig builds the base Config from the environment, then applies the
// global log flags common to every subcommand, following the
// flag-then-viper-then-default precedence the teacher's consumeCmd used.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	} else if v := viper.GetString("log.level"); v != "" {
		cfg.LogLevel = v
	}

	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.LogFormat = format
	} else if v := viper.GetString("log.format"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// newLogger builds a ContextLogger for the named role from cfg's log
// settings.
func newLogger(role string, cfg *config.Config) *common.ContextLogger {
	logger := common.NewLogger(common.LoggerConfig{
		Level:  common.LogLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	return common.NewContextLogger(logger, map[string]interface{}{"role": role})
}

// shutdownContext returns a context cancelled the moment SIGINT or SIGTERM
// is received, the same signal pair the teacher's consumer command waited
// on directly, now wired through a cancellable context so every long-running
// subcommand shuts its goroutines down instead of exiting the process
// immediately.
func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx, cancel
}
