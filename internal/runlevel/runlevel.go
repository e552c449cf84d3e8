// Package runlevel is the runlevel registry (spec §4.E): enumeration of
// runlevels, membership testing, and the single current-runlevel marker
// file. Membership is a symlink from the runlevel directory to the
// resolved script path, exactly as spec §6 describes.
package runlevel

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rc/internal/rcerr"
	"rc/internal/rcpath"
	"rc/internal/resolver"
	"rc/pkg/logging"
)

// Reserved runlevels from spec §3. Boot is the implicit runlevel that
// §4.G folds into every seed set alongside Sysinit, even though it is not
// one of the four formally reserved names.
const (
	Sysinit  = "sysinit"
	Single   = "single"
	Shutdown = "shutdown"
	Reboot   = "reboot"
	Boot     = "boot"
)

// Registry is the filesystem-backed runlevel registry.
type Registry struct {
	cfg rcpath.Config
	res *resolver.Resolver
}

// New returns a Registry.
func New(cfg rcpath.Config, res *resolver.Resolver) *Registry {
	return &Registry{cfg: cfg, res: res}
}

// Runlevels enumerates all runlevel directories.
func (r *Registry) Runlevels() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.RunlevelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerr.Fatal(r.cfg.RunlevelsDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a runlevel directory exists.
func (r *Registry) Exists(runlevelName string) bool {
	info, err := os.Stat(r.cfg.RunlevelDir(runlevelName))
	return err == nil && info.IsDir()
}

// ServicesInRunlevel returns the names of members that resolve to a real
// script, in lexicographic order. Stale symlinks (pointing at a script that
// no longer exists) are silently excluded, per spec §4.E.
func (r *Registry) ServicesInRunlevel(runlevelName string) ([]string, error) {
	entries, err := os.ReadDir(r.cfg.RunlevelDir(runlevelName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerr.Fatal(runlevelName, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if r.res.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// InRunlevel reports whether service is a member of runlevelName.
func (r *Registry) InRunlevel(service, runlevelName string) bool {
	_, err := os.Lstat(r.cfg.RunlevelMembershipPath(runlevelName, service))
	return err == nil
}

// Add adds service to runlevelName by symlinking to its resolved script
// path. Adding an already-present member is idempotent.
func (r *Registry) Add(runlevelName, service string) error {
	script := r.res.Resolve(service)
	if script == "" {
		return rcerr.NotFound(service, errors.New("service does not resolve to a script"))
	}

	link := r.cfg.RunlevelMembershipPath(runlevelName, service)
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return rcerr.Transient(runlevelName, err)
	}

	if existing, err := os.Readlink(link); err == nil {
		if existing == script {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return rcerr.Transient(runlevelName, err)
		}
	}

	if err := os.Symlink(script, link); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return rcerr.Transient(runlevelName, err)
	}

	logging.Info("RunlevelRegistry", "added %s to runlevel %s", service, runlevelName)
	return nil
}

// Delete removes service from runlevelName. It is idempotent.
func (r *Registry) Delete(runlevelName, service string) error {
	link := r.cfg.RunlevelMembershipPath(runlevelName, service)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return rcerr.Transient(runlevelName, err)
	}
	logging.Info("RunlevelRegistry", "removed %s from runlevel %s", service, runlevelName)
	return nil
}

// CurrentRunlevel reads the softlevel file. An empty string means no
// runlevel has ever been set.
func (r *Registry) CurrentRunlevel() (string, error) {
	data, err := os.ReadFile(r.cfg.SoftlevelFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", rcerr.Fatal(r.cfg.SoftlevelFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetRunlevel overwrites the softlevel file. This does not itself trigger a
// transition (spec §4.E); the transition driver calls it between its stop
// and start phases.
func (r *Registry) SetRunlevel(name string) error {
	if err := os.MkdirAll(filepath.Dir(r.cfg.SoftlevelFile), 0o755); err != nil {
		return rcerr.Transient(name, err)
	}
	if err := os.WriteFile(r.cfg.SoftlevelFile, []byte(name+"\n"), 0o644); err != nil {
		return rcerr.Transient(name, err)
	}
	return nil
}
