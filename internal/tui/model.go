// Package tui is the live status dashboard (spec SPEC_FULL.md §1 "rc status
// --watch"): a bubbletea program over internal/state, refreshed by fsnotify
// events on the state directory and a periodic fallback tick, grounded on
// theRebelliousNerd-codenerd's cmd/nerd/ui status-page pattern (viewport +
// lipgloss-styled header, refreshed on an external signal rather than on
// every keypress) with the service table itself built the way
// giantswarm-muster's internal/formatting/table_formatter.go and cmd/list.go
// build their go-pretty tables.
package tui

import (
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"rc/internal/runlevel"
	"rc/internal/state"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9e9e9e")).Italic(true)
)

type watchEventMsg struct{}
type watcherReadyMsg struct{ ch chan struct{} }
type tickMsg time.Time

// Model is the bubbletea model driving `rc status --watch`.
type Model struct {
	states      *state.Store
	runlevels   *runlevel.Registry
	services    []string
	colorOutput bool

	viewport viewport.Model
	watchCh  chan struct{}
	width    int
	height   int
	err      error
}

// New returns a Model listing every service named in services, sorted.
// colorOutput mirrors rcpath.Config.ColorOutput: when false, the table is
// rendered without ANSI styling (e.g. output piped to a file or a
// non-interactive terminal).
func New(states *state.Store, runlevels *runlevel.Registry, services []string, colorOutput bool) Model {
	sorted := append([]string{}, services...)
	sort.Strings(sorted)
	vp := viewport.New(80, 24)
	return Model{
		states:      states,
		runlevels:   runlevels,
		services:    sorted,
		colorOutput: colorOutput,
		viewport:    vp,
	}
}

// Init starts the fsnotify watcher goroutine and the periodic fallback tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startWatch(), tickEvery(time.Second))
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// startWatch spins up an fsnotify watcher on the state directory; every
// event it sees is collapsed into a single watchEventMsg so a burst of
// marker create/removes (one Mark() call touches several files) only
// triggers one re-render. The channel is handed back via watcherReadyMsg
// rather than mutated on the receiver directly: bubbletea tracks the model
// only through Update's return value, so any field set on this method's
// receiver would be lost the instant Init returns.
func (m Model) startWatch() tea.Cmd {
	stateDir := m.states.StateDir()
	return func() tea.Msg {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil
		}
		if err := watcher.Add(stateDir); err != nil {
			watcher.Close()
			return nil
		}
		ch := make(chan struct{}, 1)
		go func() {
			defer watcher.Close()
			for range watcher.Events {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}()
		return watcherReadyMsg{ch: ch}
	}
}

func (m Model) waitForWatch() tea.Cmd {
	if m.watchCh == nil {
		return nil
	}
	ch := m.watchCh
	return func() tea.Msg {
		<-ch
		return watchEventMsg{}
	}
}

// Update handles bubbletea messages: key presses (q/ctrl+c quit), the
// periodic tick, and watch-triggered refreshes all just re-render the
// viewport from current state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 2
	case tickMsg:
		m.viewport.SetContent(m.render())
		return m, tickEvery(time.Second)
	case watcherReadyMsg:
		m.watchCh = msg.ch
		return m, m.waitForWatch()
	case watchEventMsg:
		m.viewport.SetContent(m.render())
		return m, m.waitForWatch()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the current viewport content.
func (m Model) View() string {
	return m.viewport.View()
}

func (m Model) render() string {
	current, _ := m.runlevels.CurrentRunlevel()
	if current == "" {
		current = "(none)"
	}

	var out strings.Builder
	out.WriteString(styleHeader.Render("rc status") + "  " + styleMuted.Render("runlevel: "+current) + "\n\n")

	t := table.NewWriter()
	var body strings.Builder
	t.SetOutputMirror(&body)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "STATE", "FLAGS"})

	for _, svc := range m.services {
		st, err := m.states.GetState(svc)
		if err != nil {
			t.AppendRow(table.Row{svc, m.colorize(text.FgRed, "error: "+err.Error()), ""})
			continue
		}
		t.AppendRow(table.Row{svc, m.renderPrimary(st.Primary), m.renderFlags(st)})
	}
	t.Render()
	out.WriteString(body.String())
	return out.String()
}

func (m Model) colorize(c text.Color, s string) string {
	if !m.colorOutput {
		return s
	}
	return c.Sprint(s)
}

func (m Model) renderPrimary(p state.Primary) string {
	switch p {
	case state.Started:
		return m.colorize(text.FgGreen, string(p))
	case state.Stopped:
		return m.colorize(text.FgHiBlack, string(p))
	case state.Starting, state.Stopping, state.Inactive:
		return m.colorize(text.FgYellow, string(p))
	default:
		return string(p)
	}
}

func (m Model) renderFlags(st state.Status) string {
	var flags []string
	for _, f := range []state.Flag{state.FlagColdplugged, state.FlagFailed, state.FlagScheduled, state.FlagWasInactive} {
		if st.Has(f) {
			flags = append(flags, string(f))
		}
	}
	if len(flags) == 0 {
		return m.colorize(text.FgHiBlack, "-")
	}
	for i, f := range flags {
		if f == string(state.FlagFailed) {
			flags[i] = m.colorize(text.FgRed, f)
		}
	}
	return strings.Join(flags, ",")
}
