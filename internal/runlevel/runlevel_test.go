package runlevel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
	"rc/internal/resolver"
)

func newTestRegistry(t *testing.T) (*Registry, rcpath.Config) {
	cfg := rcpath.Default()
	cfg.InitDir = t.TempDir()
	cfg.RunlevelsDir = t.TempDir()
	cfg.StateDir = t.TempDir()
	return New(cfg, resolver.New(cfg)), cfg
}

func writeScript(t *testing.T, cfg rcpath.Config, name string) {
	require.NoError(t, os.WriteFile(cfg.ScriptPath(name), []byte("#!/bin/sh\n"), 0o755))
}

func TestAddDelete_RoundTrip(t *testing.T) {
	reg, cfg := newTestRegistry(t)
	writeScript(t, cfg, "sshd")

	require.NoError(t, reg.Add("default", "sshd"))
	require.True(t, reg.InRunlevel("sshd", "default"))

	members, err := reg.ServicesInRunlevel("default")
	require.NoError(t, err)
	require.Equal(t, []string{"sshd"}, members)

	require.NoError(t, reg.Delete("default", "sshd"))
	require.False(t, reg.InRunlevel("sshd", "default"))

	members, err = reg.ServicesInRunlevel("default")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestAdd_Idempotent(t *testing.T) {
	reg, cfg := newTestRegistry(t)
	writeScript(t, cfg, "sshd")

	require.NoError(t, reg.Add("default", "sshd"))
	require.NoError(t, reg.Add("default", "sshd"))
}

func TestDelete_IdempotentOnMissing(t *testing.T) {
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Delete("default", "sshd"))
}

func TestAdd_UnresolvableServiceFails(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.Add("default", "nope")
	require.Error(t, err)
}

func TestServicesInRunlevel_ExcludesStaleLinks(t *testing.T) {
	reg, cfg := newTestRegistry(t)
	writeScript(t, cfg, "sshd")
	require.NoError(t, reg.Add("default", "sshd"))

	require.NoError(t, os.Remove(cfg.ScriptPath("sshd")))

	members, err := reg.ServicesInRunlevel("default")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestCurrentRunlevel_SetAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)

	current, err := reg.CurrentRunlevel()
	require.NoError(t, err)
	require.Equal(t, "", current)

	require.NoError(t, reg.SetRunlevel("default"))
	current, err = reg.CurrentRunlevel()
	require.NoError(t, err)
	require.Equal(t, "default", current)
}

func TestRunlevels_ListsDirectories(t *testing.T) {
	reg, cfg := newTestRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.RunlevelsDir, "default"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.RunlevelsDir, "boot"), 0o755))

	levels, err := reg.Runlevels()
	require.NoError(t, err)
	require.Equal(t, []string{"boot", "default"}, levels)
	require.True(t, reg.Exists("default"))
	require.False(t, reg.Exists("nope"))
}
