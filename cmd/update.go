package cmd

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"rc/internal/depgraph"
	"rc/internal/deptree"
	"rc/internal/rcpath"
	"rc/pkg/logging"
)

var (
	updateForce   bool
	updateWatch   bool
	updateExplain bool
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rebuild the dependency cache from the init-script directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache := deptree.NewCache(cfg)

			if updateWatch {
				return watchAndRebuild(cmd, cfg.InitDir, cache)
			}

			if err := runWithSpinner(cfg, " Rebuilding dependency cache...", func() error {
				return cache.Update(cmd.Context(), updateForce)
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "dependency cache rebuilt")

			if updateExplain {
				return explainUpdate(cmd, cfg, cache)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&updateForce, "force", false, "rebuild even if the cache is fresh")
	cmd.Flags().BoolVar(&updateWatch, "watch", false, "watch the init-script directory and rebuild on change")
	cmd.Flags().BoolVar(&updateExplain, "explain", false, "print per-runlevel ordering diagnostics (unresolved virtuals, broken cycles) after rebuilding")
	return cmd
}

// explainUpdate prints the diagnostics each runlevel's start order produces
// against the freshly rebuilt tree: unresolved virtuals and dropped cycle
// edges are already computed by depgraph.Order, this just surfaces them for
// a human driving rc from a terminal (SPEC_FULL §3).
func explainUpdate(cmd *cobra.Command, cfg rcpath.Config, cache *deptree.Cache) error {
	tree, err := cache.Load()
	if err != nil {
		return err
	}
	reg := newRegistry(cfg)
	runlevels, err := reg.Runlevels()
	if err != nil {
		return err
	}
	graph := depgraph.New(tree, reg)

	for _, rl := range runlevels {
		_, diags, err := graph.Order(rl, depgraph.Start)
		if err != nil {
			return err
		}
		if len(diags) == 0 {
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "runlevel %s:\n", rl)
		printDiagnostics(cmd, diags)
	}
	return nil
}

// watchAndRebuild runs an initial build, then rebuilds the cache whenever
// fsnotify reports a write under the init-script directory, until the
// command's context is cancelled.
func watchAndRebuild(cmd *cobra.Command, initDir string, cache *deptree.Cache) error {
	if err := cache.Update(cmd.Context(), true); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting init-dir watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(initDir); err != nil {
		return fmt.Errorf("watching %s: %w", initDir, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s for changes, ctrl-c to stop\n", initDir)
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			logging.Info("CLI", "init-dir change detected (%s), rebuilding cache", event.Name)
			if err := cache.Update(ctx, true); err != nil {
				logging.Warn("CLI", "rebuild failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("CLI", "watcher error: %v", err)
		}
	}
}
