package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"rc/internal/depgraph"
	"rc/internal/deptree"
	"rc/internal/rcpath"
)

var (
	depgraphExplain bool
	dependsTrace    bool
	dependsStrict   bool
)

func newDepgraphCmd() *cobra.Command {
	depgraphCmd := &cobra.Command{
		Use:   "depgraph",
		Short: "Inspect the dependency graph for a runlevel",
	}
	depgraphCmd.AddCommand(newDepgraphOrderCmd())
	depgraphCmd.AddCommand(newDepgraphDependsCmd())
	return depgraphCmd
}

func newDeptreeCache(cfg rcpath.Config) *deptree.Cache {
	return deptree.NewCache(cfg)
}

func newDepgraphOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <runlevel>",
		Short: "Print the start order for a runlevel (the stop order is its reverse)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := newRegistry(cfg)
			cache := newDeptreeCache(cfg)
			if err := cache.Update(cmd.Context(), false); err != nil {
				return err
			}
			tree, err := cache.Load()
			if err != nil {
				return err
			}
			graph := depgraph.New(tree, reg)

			order, diags, err := graph.Order(args[0], depgraph.Start)
			if err != nil {
				return err
			}
			for _, s := range order {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			if depgraphExplain {
				printDiagnostics(cmd, diags)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&depgraphExplain, "explain", false, "print diagnostics (unresolved virtuals, broken cycles) to stderr")
	return cmd
}

func newDepgraphDependsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depends <runlevel> <service...>",
		Short: "Print the need/after closure of one or more services",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := newRegistry(cfg)
			cache := newDeptreeCache(cfg)
			if err := cache.Update(cmd.Context(), false); err != nil {
				return err
			}
			tree, err := cache.Load()
			if err != nil {
				return err
			}
			graph := depgraph.New(tree, reg)

			var opts depgraph.Options
			if dependsTrace {
				opts |= depgraph.Trace
			}
			if dependsStrict {
				opts |= depgraph.Strict
			}

			result, diags, err := graph.Depends([]deptree.RelationType{deptree.Need, deptree.After}, args[1:], args[0], opts)
			if err != nil {
				return err
			}
			for _, s := range result {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			if depgraphExplain {
				printDiagnostics(cmd, diags)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dependsTrace, "trace", false, "follow the full transitive closure, not just one hop")
	cmd.Flags().BoolVar(&dependsStrict, "strict", false, "restrict results to members of the runlevel's seed set")
	cmd.Flags().BoolVar(&depgraphExplain, "explain", false, "print diagnostics (unresolved virtuals, broken cycles) to stderr")
	return cmd
}

func printDiagnostics(cmd *cobra.Command, diags []depgraph.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", d.Kind, d.Message)
	}
}
