package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rc/internal/rcpath"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	dir := t.TempDir()
	cfg := rcpath.Default()
	cfg.InitDir = dir
	return New(cfg), dir
}

func writeScript(t *testing.T, dir, name string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestResolve_RelativeName(t *testing.T) {
	r, dir := newTestResolver(t)
	want := writeScript(t, dir, "sshd")

	require.Equal(t, want, r.Resolve("sshd"))
	require.True(t, r.Exists("sshd"))
}

func TestResolve_MissingScript(t *testing.T) {
	r, _ := newTestResolver(t)
	require.Equal(t, "", r.Resolve("nope"))
	require.False(t, r.Exists("nope"))
}

func TestResolve_NonExecutableIsNotResolved(t *testing.T) {
	r, dir := newTestResolver(t)
	path := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.Equal(t, "", r.Resolve("data"))
}

func TestResolve_AbsolutePath(t *testing.T) {
	r, dir := newTestResolver(t)
	want := writeScript(t, dir, "sshd")
	require.Equal(t, want, r.Resolve(want))
}

func TestResolve_RejectsPathSeparators(t *testing.T) {
	r, _ := newTestResolver(t)
	require.Equal(t, "", r.Resolve("sub/sshd"))
}
