package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"rc/internal/depgraph"
	"rc/internal/deptree"
	"rc/internal/executor"
	"rc/internal/metadata"
	"rc/internal/plugin"
	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/internal/runlevel"
	"rc/internal/state"
	"rc/internal/transition"
)

func newRunlevelCmd() *cobra.Command {
	runlevelCmd := &cobra.Command{
		Use:   "runlevel",
		Short: "Manage runlevel membership and the current runlevel",
	}
	runlevelCmd.AddCommand(newRunlevelListCmd())
	runlevelCmd.AddCommand(newRunlevelAddCmd())
	runlevelCmd.AddCommand(newRunlevelDeleteCmd())
	runlevelCmd.AddCommand(newRunlevelShowCmd())
	runlevelCmd.AddCommand(newRunlevelCurrentCmd())
	runlevelCmd.AddCommand(newRunlevelSetCmd())
	return runlevelCmd
}

func newRegistry(cfg rcpath.Config) *runlevel.Registry {
	return runlevel.New(cfg, resolver.New(cfg))
}

func newRunlevelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known runlevels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			names, err := newRegistry(cfg).Runlevels()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newRunlevelAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <runlevel> <service>",
		Short: "Add a service to a runlevel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return newRegistry(cfg).Add(args[0], args[1])
		},
	}
}

func newRunlevelDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <runlevel> <service>",
		Short: "Remove a service from a runlevel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return newRegistry(cfg).Delete(args[0], args[1])
		},
	}
}

var runlevelShowTree bool

func newRunlevelShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <runlevel>",
		Short: "List the services that are members of a runlevel; add --tree for start order by rank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := newRegistry(cfg)

			if !runlevelShowTree {
				services, err := reg.ServicesInRunlevel(args[0])
				if err != nil {
					return err
				}
				for _, s := range services {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			}

			cache := deptree.NewCache(cfg)
			if err := cache.Update(cmd.Context(), false); err != nil {
				return err
			}
			tree, err := cache.Load()
			if err != nil {
				return err
			}
			graph := depgraph.New(tree, reg)

			ranks, diags, err := graph.Ranks(args[0], depgraph.Start)
			if err != nil {
				return err
			}
			for i, rank := range ranks {
				fmt.Fprintf(cmd.OutOrStdout(), "%d:\n", i)
				for _, s := range rank {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", s)
				}
			}
			printDiagnostics(cmd, diags)
			return nil
		},
	}
	cmd.Flags().BoolVar(&runlevelShowTree, "tree", false, "print the resolved start order as an indented tree by parallel rank")
	return cmd
}

func newRunlevelCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the current runlevel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			current, err := newRegistry(cfg).CurrentRunlevel()
			if err != nil {
				return err
			}
			if current == "" {
				current = "(none)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), current)
			return nil
		},
	}
}

func newRunlevelSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <runlevel>",
		Short: "Transition to a runlevel: stop what it doesn't want, start what it does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := newRegistry(cfg)
			cache := deptree.NewCache(cfg)
			if err := cache.Update(cmd.Context(), false); err != nil {
				return err
			}
			tree, err := cache.Load()
			if err != nil {
				return err
			}

			states := state.New(cfg)
			meta := metadata.New(cfg, nil)
			exec := executor.New(resolver.New(cfg), states, meta)
			graph := depgraph.New(tree, reg)
			plugins := plugin.NewRegistry()

			driver := transition.New(graph, reg, states, exec, plugins)
			if err := runWithSpinner(cfg, fmt.Sprintf(" Transitioning to %s...", args[0]), func() error {
				return driver.Transition(cmd.Context(), args[0])
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "runlevel set to %s\n", args[0])
			return nil
		},
	}
}
