package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"rc/internal/executor"
	"rc/internal/metadata"
	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/internal/state"
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Operate on a single service",
	}
	serviceCmd.AddCommand(newServiceStartCmd())
	serviceCmd.AddCommand(newServiceStopCmd())
	serviceCmd.AddCommand(newServiceStatusCmd())
	return serviceCmd
}

func newExecutor(cfg rcpath.Config) *executor.Executor {
	res := resolver.New(cfg)
	states := state.New(cfg)
	meta := metadata.New(cfg, nil)
	return executor.New(res, states, meta)
}

func newServiceStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <service>",
		Short: "Start a single service, bypassing dependency ordering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			exec := newExecutor(cfg)
			h, err := exec.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := exec.Wait(h); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s started\n", args[0])
			return nil
		},
	}
}

func newServiceStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a single service, bypassing dependency ordering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			exec := newExecutor(cfg)
			h, err := exec.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := exec.Wait(h); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", args[0])
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Print a service's primary state and flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			states := state.New(cfg)
			st, err := states.GetState(args[0])
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"SERVICE", "STATE", "FLAGS"})
			t.AppendRow(table.Row{args[0], string(st.Primary), formatFlags(st, cfg.ColorOutput)})
			t.Render()
			return nil
		},
	}
}

// formatFlags renders a service's flag set as a comma-separated list,
// highlighting "failed" in red when colorOutput is set (rcpath.Config's
// ColorOutput, threaded in from the CLI).
func formatFlags(st state.Status, colorOutput bool) string {
	var flags []string
	for _, f := range []state.Flag{state.FlagColdplugged, state.FlagFailed, state.FlagScheduled, state.FlagWasInactive} {
		if st.Has(f) {
			flags = append(flags, string(f))
		}
	}
	if len(flags) == 0 {
		return "-"
	}
	for i, f := range flags {
		if f == string(state.FlagFailed) && colorOutput {
			flags[i] = text.FgRed.Sprint(f)
		}
	}
	return strings.Join(flags, ",")
}
