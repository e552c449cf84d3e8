package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/internal/runlevel"
	"rc/internal/state"
)

func newTestModel(t *testing.T, services ...string) (Model, *state.Store) {
	cfg := rcpath.Default()
	cfg.InitDir = t.TempDir()
	cfg.RunlevelsDir = t.TempDir()
	cfg.StateDir = t.TempDir()

	states := state.New(cfg)
	reg := runlevel.New(cfg, resolver.New(cfg))
	return New(states, reg, services, false), states
}

func TestRender_ListsServicesSortedWithState(t *testing.T) {
	m, states := newTestModel(t, "sshd", "cron")
	require.NoError(t, states.Mark("cron", "started"))

	out := m.render()
	require.Contains(t, out, "cron")
	require.Contains(t, out, "sshd")
	require.Contains(t, out, "started")
	require.Contains(t, out, "stopped")
	require.Less(t, strings.Index(out, "cron"), strings.Index(out, "sshd"))
}

func TestRender_ShowsFailedFlag(t *testing.T) {
	m, states := newTestModel(t, "sshd")
	require.NoError(t, states.Mark("sshd", "failed"))

	out := m.render()
	require.Contains(t, out, "failed")
}

func TestUpdate_WatcherReadyStoresChannel(t *testing.T) {
	m, _ := newTestModel(t, "sshd")
	ch := make(chan struct{}, 1)

	updated, cmd := m.Update(watcherReadyMsg{ch: ch})
	model := updated.(Model)
	require.NotNil(t, model.watchCh)
	require.NotNil(t, cmd)
}

func TestUpdate_QuitOnKeyQ(t *testing.T) {
	m, _ := newTestModel(t, "sshd")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
}

func TestUpdate_TickRefreshesViewportContent(t *testing.T) {
	m, states := newTestModel(t, "sshd")
	require.NoError(t, states.Mark("sshd", "started"))

	updated, cmd := m.Update(tickMsg{})
	model := updated.(Model)
	require.NotNil(t, cmd)
	require.Contains(t, model.viewport.View(), "sshd")
}
