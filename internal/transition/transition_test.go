package transition

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"rc/internal/depgraph"
	"rc/internal/deptree"
	"rc/internal/executor"
	"rc/internal/metadata"
	"rc/internal/plugin"
	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/internal/runlevel"
	"rc/internal/state"
)

type testRig struct {
	cfg    rcpath.Config
	reg    *runlevel.Registry
	states *state.Store
	driver *Driver
}

func newTestRig(t *testing.T, tree *deptree.Tree, services ...string) *testRig {
	cfg := rcpath.Default()
	cfg.InitDir = t.TempDir()
	cfg.RunlevelsDir = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.OptionsDir = t.TempDir()
	cfg.DaemonsDir = t.TempDir()

	for _, s := range services {
		require.NoError(t, os.WriteFile(cfg.ScriptPath(s), []byte("#!/bin/sh\n[ \"$1\" = start ] && exit 0\n[ \"$1\" = stop ] && exit 0\n"), 0o755))
	}

	res := resolver.New(cfg)
	reg := runlevel.New(cfg, res)
	states := state.New(cfg)
	meta := metadata.New(cfg, nil)
	exec := executor.New(res, states, meta)
	graph := depgraph.New(tree, reg)
	plugins := plugin.NewRegistry()
	driver := New(graph, reg, states, exec, plugins)

	return &testRig{cfg: cfg, reg: reg, states: states, driver: driver}
}

func TestTransition_StopThenStartSubset(t *testing.T) {
	tree := deptree.NewTree()
	rig := newTestRig(t, tree, "a", "b", "c", "d")

	require.NoError(t, rig.reg.Add("boot1", "a"))
	require.NoError(t, rig.reg.Add("boot1", "b"))
	require.NoError(t, rig.reg.Add("boot1", "c"))
	require.NoError(t, rig.reg.Add("boot2", "b"))
	require.NoError(t, rig.reg.Add("boot2", "c"))
	require.NoError(t, rig.reg.Add("boot2", "d"))

	require.NoError(t, rig.driver.Transition(context.Background(), "boot1"))
	for _, s := range []string{"a", "b", "c"} {
		st, err := rig.states.GetState(s)
		require.NoError(t, err)
		require.Equal(t, state.Started, st.Primary)
	}

	require.NoError(t, rig.driver.Transition(context.Background(), "boot2"))

	stA, err := rig.states.GetState("a")
	require.NoError(t, err)
	require.Equal(t, state.Stopped, stA.Primary)

	for _, s := range []string{"b", "c", "d"} {
		st, err := rig.states.GetState(s)
		require.NoError(t, err)
		require.Equal(t, state.Started, st.Primary)
	}

	current, err := rig.reg.CurrentRunlevel()
	require.NoError(t, err)
	require.Equal(t, "boot2", current)
}

func TestTransition_UnmetNeedIsScheduledNotStarted(t *testing.T) {
	tree := deptree.NewTree()
	tree.Add("dependent", deptree.Need, "gate")
	tree.ExpandBefore()

	rig := newTestRig(t, tree, "dependent")
	require.NoError(t, rig.reg.Add("default", "dependent"))
	// "gate" is intentionally never added as a script/runlevel member, so
	// it can never become Started; dependent must stay scheduled.

	require.NoError(t, rig.driver.Transition(context.Background(), "default"))

	st, err := rig.states.GetState("dependent")
	require.NoError(t, err)
	require.Equal(t, state.Stopped, st.Primary)
	require.True(t, st.Has(state.FlagScheduled))
}

type hookRecorder struct {
	events []string
}

func (h *hookRecorder) Hook(event plugin.Event, name string) error {
	h.events = append(h.events, string(event)+":"+name)
	return nil
}

func TestTransition_HooksFireAroundLifecycle(t *testing.T) {
	tree := deptree.NewTree()
	rig := newTestRig(t, tree, "a")
	require.NoError(t, rig.reg.Add("default", "a"))
	rec := &hookRecorder{}
	rig.driver.plugins = plugin.NewRegistry(rec)

	require.NoError(t, rig.driver.Transition(context.Background(), "default"))

	st, err := rig.states.GetState("a")
	require.NoError(t, err)
	require.Equal(t, state.Started, st.Primary)
	require.Equal(t, []string{
		"runlevel_stop_in:",
		"runlevel_stop_out:",
		"runlevel_start_in:default",
		"service_start_in:a",
		"service_start_now:a",
		"service_start_done:a",
		"service_start_out:a",
		"runlevel_start_out:default",
	}, rec.events)
}
