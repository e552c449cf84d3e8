package deptree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
)

func newTestCache(t *testing.T) (*Cache, rcpath.Config) {
	cfg := rcpath.Default()
	cfg.InitDir = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.DeptreeFile = filepath.Join(cfg.StateDir, "deptree")
	return NewCache(cfg), cfg
}

func writeDependScript(t *testing.T, cfg rcpath.Config, name, body string) {
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = depend ]; then\n" +
		body + "\n" +
		"fi\n"
	require.NoError(t, os.WriteFile(cfg.ScriptPath(name), []byte(script), 0o755))
}

func TestCache_UpdateThenLoad(t *testing.T) {
	c, cfg := newTestCache(t)
	writeDependScript(t, cfg, "net", `echo "provide:net" >&3`)
	writeDependScript(t, cfg, "sshd", `echo "need:net" >&3`)

	require.NoError(t, c.Update(context.Background(), false))

	tree, err := c.Load()
	require.NoError(t, err)
	require.Contains(t, tree.Services, "net")
	require.Contains(t, tree.Services, "sshd")
	require.Equal(t, []string{"net"}, tree.Services["sshd"].Need)
	require.Equal(t, []string{"net"}, tree.Providers["net"])
}

func TestCache_StaleWhenMissing(t *testing.T) {
	c, _ := newTestCache(t)
	stale, err := c.Stale()
	require.NoError(t, err)
	require.True(t, stale)
}

func TestCache_UpdateNoForceIsNoOpWhenFresh(t *testing.T) {
	c, cfg := newTestCache(t)
	writeDependScript(t, cfg, "net", `echo "provide:net" >&3`)

	require.NoError(t, c.Update(context.Background(), false))
	info1, err := os.Stat(cfg.DeptreeFile)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Update(context.Background(), false))
	info2, err := os.Stat(cfg.DeptreeFile)
	require.NoError(t, err)

	require.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestCache_RebuildsAfterScriptTouch(t *testing.T) {
	c, cfg := newTestCache(t)
	writeDependScript(t, cfg, "net", `echo "provide:net" >&3`)
	require.NoError(t, c.Update(context.Background(), false))

	info1, err := os.Stat(cfg.DeptreeFile)
	require.NoError(t, err)

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(cfg.ScriptPath("net"), future, future))
	future2 := future.Add(time.Second)
	require.NoError(t, os.Chtimes(cfg.InitDir, future2, future2))

	stale, err := c.Stale()
	require.NoError(t, err)
	require.True(t, stale)

	require.NoError(t, c.Update(context.Background(), false))
	info2, err := os.Stat(cfg.DeptreeFile)
	require.NoError(t, err)
	require.True(t, info2.ModTime().After(info1.ModTime()) || info2.ModTime().Equal(info1.ModTime()))
}

func TestCache_ForceRebuildsEvenWhenFresh(t *testing.T) {
	c, cfg := newTestCache(t)
	writeDependScript(t, cfg, "net", `echo "provide:net" >&3`)
	require.NoError(t, c.Update(context.Background(), false))

	stale, err := c.Stale()
	require.NoError(t, err)
	require.False(t, stale)

	require.NoError(t, c.Update(context.Background(), true))
	tree, err := c.Load()
	require.NoError(t, err)
	require.Contains(t, tree.Services, "net")
}

func TestCache_LoadMissingReturnsNotFound(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Load()
	require.Error(t, err)
}

func TestCache_ExpandsBeforeIntoAfter(t *testing.T) {
	c, cfg := newTestCache(t)
	writeDependScript(t, cfg, "early", `echo "before:late" >&3`)
	writeDependScript(t, cfg, "late", ":")

	require.NoError(t, c.Update(context.Background(), false))
	tree, err := c.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"early"}, tree.Services["late"].After)
}
