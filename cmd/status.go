package cmd

import (
	"fmt"
	"os"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/internal/state"
	"rc/internal/tui"
)

var statusWatch bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [runlevel]",
		Short: "Show service states; add --watch for a live dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg := newRegistry(cfg)
			var services []string
			if len(args) == 1 {
				services, err = reg.ServicesInRunlevel(args[0])
				if err != nil {
					return err
				}
			} else {
				services, err = allScripts(cfg)
				if err != nil {
					return err
				}
			}

			states := state.New(cfg)

			if !statusWatch {
				sort.Strings(services)
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleRounded)
				t.AppendHeader(table.Row{"SERVICE", "STATE", "FLAGS"})
				for _, svc := range services {
					st, err := states.GetState(svc)
					if err != nil {
						return err
					}
					t.AppendRow(table.Row{svc, string(st.Primary), formatFlags(st, cfg.ColorOutput)})
				}
				t.Render()
				return nil
			}

			model := tui.New(states, reg, services, cfg.ColorOutput)
			program := tea.NewProgram(model)
			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&statusWatch, "watch", false, "run the live status dashboard")
	return cmd
}

// allScripts lists every executable init script so `rc status` without a
// runlevel argument reports on everything rc knows how to run, not just
// whatever happens to be enabled.
func allScripts(cfg rcpath.Config) ([]string, error) {
	entries, err := os.ReadDir(cfg.InitDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfg.InitDir, err)
	}

	res := resolver.New(cfg)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if res.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
