package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/npms-io/npms-analyzer/analyze"
	"github.com/npms-io/npms-analyzer/bootstrap"
	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/store"
)

// tasksCmd groups the analyzer's one-shot maintenance operations, each of
// which connects to only the dependencies it needs and exits once done,
// unlike observe/consume/scoring which run until shut down.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "one-shot maintenance operations against the document store",
}

func init() {
	RootCmd.AddCommand(tasksCmd)

	enqueueMissingCmd.Flags().Bool("dry-run", false, "report what would be enqueued without pushing to the queue")
	enqueueViewCmd.Flags().Bool("dry-run", false, "report what would be enqueued without pushing to the queue")
	cleanExtraneousCmd.Flags().Bool("dry-run", false, "report what would be deleted without deleting")
	optimizeDBCmd.Flags().Bool("no-compact", false, "skip the storage-engine compaction step")
	migrateCmd.Flags().Bool("dry-run", false, "report the planned key/field renames without writing")

	tasksCmd.AddCommand(
		enqueueMissingCmd,
		enqueueViewCmd,
		cleanExtraneousCmd,
		reEvaluateCmd,
		reMetadataCmd,
		optimizeDBCmd,
		processPackageCmd,
		migrateCmd,
	)
}

func analysisKeyRange() (string, string) { return "analysis!", "analysis!￰" }

func analysisKey(name string) string { return "analysis!" + name }

// enqueueMissingCmd scans the upstream registry's full package list and
// pushes onto the queue (priority 0, the Stale Observer's lane) any name
// that has no analysis document yet.
var enqueueMissingCmd = &cobra.Command{
	Use:   "enqueue-missing",
	Short: "enqueue every registry package that has never been analyzed",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		s, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		registry, err := bootstrap.WaitForRegistry(ctx, cfg.Registry, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to registry")
		}
		defer registry.Close()

		var queue queuePusher
		if !dryRun {
			queue, err = bootstrap.WaitForBroker(ctx, cfg.Broker, wait)
			if err != nil {
				logger.WithError(err).Fatal("failed to connect to broker")
			}
			defer queue.(interface{ Close() error }).Close()
		}

		page, cont, err := registry.IterateNames(ctx, "", "", 1000)
		if err != nil {
			logger.WithError(err).Fatal("failed to scan registry")
		}

		missing, total := 0, 0
		for {
			for _, name := range page.Names {
				total++
				if _, err := s.Get(ctx, analysisKey(name), new(map[string]interface{})); err == nil {
					continue
				}
				missing++
				if dryRun {
					logger.WithField("package", name).Info("would enqueue")
					continue
				}
				if err := queue.Push(ctx, name, 0); err != nil {
					logger.WithField("package", name).WithError(err).Error("failed to enqueue")
				}
			}
			if page.Done {
				break
			}
			page, err = cont(ctx)
			if err != nil {
				logger.WithError(err).Fatal("failed to scan registry")
			}
		}
		logger.WithFields(map[string]interface{}{"scanned": total, "missing": missing}).Info("enqueue-missing complete")
	},
}

// enqueueViewCmd queries an arbitrary store view and pushes each row's ID
// onto the queue, for operator-driven backfills against ad-hoc views.
var enqueueViewCmd = &cobra.Command{
	Use:   "enqueue-view <design/view>",
	Short: "enqueue every row returned by a store view",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		design, view, ok := strings.Cut(args[0], "/")
		if !ok {
			logger.Fatal("expected <design/view>, e.g. packages/packages-stale")
		}

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		s, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		var queue queuePusher
		if !dryRun {
			queue, err = bootstrap.WaitForBroker(ctx, cfg.Broker, wait)
			if err != nil {
				logger.WithError(err).Fatal("failed to connect to broker")
			}
			defer queue.(interface{ Close() error }).Close()
		}

		result, err := s.QueryView(ctx, design, view, store.ViewOptions{})
		if err != nil {
			logger.WithError(err).Fatal("view query failed")
		}

		for _, row := range result.Rows {
			name := row.ID
			if dryRun {
				logger.WithField("package", name).Info("would enqueue")
				continue
			}
			if err := queue.Push(ctx, name, 0); err != nil {
				logger.WithField("package", name).WithError(err).Error("failed to enqueue")
			}
		}
		logger.WithField("count", len(result.Rows)).Info("enqueue-view complete")
	},
}

// cleanExtraneousCmd deletes analysis documents whose package no longer
// exists upstream, e.g. an unpublished or denylisted package.
var cleanExtraneousCmd = &cobra.Command{
	Use:   "clean-extraneous",
	Short: "delete analysis documents for packages no longer in the registry",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		s, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		registry, err := bootstrap.WaitForRegistry(ctx, cfg.Registry, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to registry")
		}
		defer registry.Close()

		startKey, endKey := analysisKeyRange()
		removed := 0
		err = store.ForEachInKeyRange(ctx, s, startKey, endKey, 1000, func(row store.Row) error {
			name := strings.TrimPrefix(row.ID, "analysis!")
			if _, pkgErr := registry.GetPackage(ctx, name); pkgErr == nil {
				return nil
			} else if common.KindOf(pkgErr) != common.KindUnrecoverable {
				// transient or unexpected failure: don't delete on a guess
				return nil
			}

			removed++
			if dryRun {
				logger.WithField("package", name).Info("would delete")
				return nil
			}

			var doc map[string]interface{}
			rev, err := s.Get(ctx, row.ID, &doc)
			if err != nil {
				return nil
			}
			return s.Delete(ctx, row.ID, rev)
		})
		if err != nil {
			logger.WithError(err).Fatal("clean-extraneous failed")
		}
		logger.WithField("removed", removed).Info("clean-extraneous complete")
	},
}

// reEvaluateCmd re-enqueues every already-analyzed package at realtime
// priority, forcing a fresh acquire/download/evaluate/persist pass.
var reEvaluateCmd = &cobra.Command{
	Use:   "re-evaluate",
	Short: "re-enqueue every analyzed package for a fresh full analysis",
	Run: func(cmd *cobra.Command, args []string) {
		runBulkRequeue(cmd, "re-evaluate")
	},
}

// reMetadataCmd re-enqueues every already-analyzed package the same way
// re-evaluate does. The pipeline here always re-acquires metadata and
// re-runs every collector together (analyze.Pipeline has no partial,
// metadata-only mode), so unlike the upstream tool this doesn't skip the
// download/evaluate stages; it exists as a distinct command only to keep
// the documented CLI surface intact.
var reMetadataCmd = &cobra.Command{
	Use:   "re-metadata",
	Short: "re-enqueue every analyzed package to refresh registry metadata",
	Run: func(cmd *cobra.Command, args []string) {
		runBulkRequeue(cmd, "re-metadata")
	},
}

func runBulkRequeue(cmd *cobra.Command, op string) {
	cfg := loadConfig(cmd)
	logger := newLogger("tasks", cfg)

	ctx, cancel := shutdownContext()
	defer cancel()

	wait := bootstrap.DefaultWaitConfig()
	s, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to document store")
	}
	defer s.Close()

	queue, err := bootstrap.WaitForBroker(ctx, cfg.Broker, wait)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to broker")
	}
	defer queue.Close()

	startKey, endKey := analysisKeyRange()
	count := 0
	err = store.ForEachInKeyRange(ctx, s, startKey, endKey, 1000, func(row store.Row) error {
		name := strings.TrimPrefix(row.ID, "analysis!")
		count++
		return queue.Push(ctx, name, 1)
	})
	if err != nil {
		logger.WithError(err).Fatal(op + " failed")
	}
	logger.WithField("enqueued", count).Info(op + " complete")
}

// optimizeDBCmd compacts the document store's storage engine, reclaiming
// space from superseded document revisions.
var optimizeDBCmd = &cobra.Command{
	Use:   "optimize-db",
	Short: "compact the document store",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		noCompact, _ := cmd.Flags().GetBool("no-compact")
		if noCompact {
			logger.Info("--no-compact set, nothing to do")
			return
		}

		ctx, cancel := shutdownContext()
		defer cancel()

		s, err := bootstrap.WaitForStore(ctx, cfg.Store, bootstrap.DefaultWaitConfig())
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		if err := s.Compact(ctx); err != nil {
			logger.WithError(err).Fatal("compaction failed")
		}
		logger.Info("compaction complete")
	},
}

// processPackageCmd synchronously runs the full pipeline against a single
// package name, for debugging a specific failure without going through the
// queue.
var processPackageCmd = &cobra.Command{
	Use:   "process-package <name>",
	Short: "synchronously analyze a single package",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		name := args[0]

		ctx, cancel := shutdownContext()
		defer cancel()

		wait := bootstrap.DefaultWaitConfig()
		s, err := bootstrap.WaitForStore(ctx, cfg.Store, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		registry, err := bootstrap.WaitForRegistry(ctx, cfg.Registry, wait)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to registry")
		}
		defer registry.Close()

		pipeline := &analyze.Pipeline{
			Registry:    registry,
			Store:       s,
			Download:    cfg.Download,
			BaseWorkDir: workDirRoot(),
		}

		if err := pipeline.Analyze(ctx, name); err != nil {
			logger.WithField("package", name).WithError(err).Fatal("analysis failed")
		}
		logger.WithField("package", name).Info("analysis complete")
	},
}

// migrateCmd renames the legacy `module!`-prefixed documents (and their
// `dependenciesHealth` evaluation field) to this analyzer's current
// `analysis!` prefix and `health` field name, per spec.md's note that
// older and newer source variants disagree on both. It is idempotent:
// once no `module!` documents remain, a second run is a no-op.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "rename legacy document key prefixes and field names",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		logger := newLogger("tasks", cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx, cancel := shutdownContext()
		defer cancel()

		s, err := bootstrap.WaitForStore(ctx, cfg.Store, bootstrap.DefaultWaitConfig())
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to document store")
		}
		defer s.Close()

		migrated := 0
		err = store.ForEachInKeyRange(ctx, s, "module!", "module!￰", 500, func(row store.Row) error {
			name := strings.TrimPrefix(row.ID, "module!")
			newKey := analysisKey(name)

			var doc map[string]interface{}
			if err := json.Unmarshal(row.Doc, &doc); err != nil {
				return nil
			}
			renameHealthField(doc)

			if dryRun {
				logger.WithFields(map[string]interface{}{"from": row.ID, "to": newKey}).Info("would migrate")
				migrated++
				return nil
			}

			delete(doc, "_rev")
			doc["_id"] = newKey
			if _, err := s.Put(ctx, newKey, doc); err != nil {
				return err
			}

			var old map[string]interface{}
			rev, err := s.Get(ctx, row.ID, &old)
			if err != nil {
				return nil
			}
			migrated++
			return s.Delete(ctx, row.ID, rev)
		})
		if err != nil {
			logger.WithError(err).Fatal("migrate failed")
		}
		logger.WithField("migrated", migrated).Info("migrate complete")
	},
}

// renameHealthField renames the older `dependenciesHealth` evaluation
// field to the newer `health` name, in place, for every document this
// migration touches.
func renameHealthField(doc map[string]interface{}) {
	evaluation, ok := doc["evaluation"].(map[string]interface{})
	if !ok {
		return
	}
	quality, ok := evaluation["quality"].(map[string]interface{})
	if !ok {
		return
	}
	if v, ok := quality["dependenciesHealth"]; ok {
		quality["health"] = v
		delete(quality, "dependenciesHealth")
	}
}

// queuePusher is the narrow slice of mqueue.Queue's API the enqueue tasks
// need, so a dry run never has to open a real broker connection.
type queuePusher interface {
	Push(ctx context.Context, name string, priority int) error
}
