// Package resolver maps a bare service name to its absolute script path
// (spec §4.B). It does not recurse into subdirectories of the init-script
// directory.
package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"rc/internal/rcpath"
)

// Resolver resolves service names against a single init-script directory.
type Resolver struct {
	cfg rcpath.Config
}

// New returns a Resolver over cfg's InitDir.
func New(cfg rcpath.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the absolute script path for name, or "" if it cannot be
// found. If name is already absolute and names an executable regular file,
// it is returned as-is.
func (r *Resolver) Resolve(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		if isExecutableFile(name) {
			return name
		}
		return ""
	}
	if strings.ContainsRune(name, filepath.Separator) {
		// Names must not contain path separators (spec §3); a relative
		// name with one can never resolve.
		return ""
	}

	candidate := r.cfg.ScriptPath(name)
	if isExecutableFile(candidate) {
		return candidate
	}
	return ""
}

// Exists reports whether name resolves to a real script.
func (r *Resolver) Exists(name string) bool {
	return r.Resolve(name) != ""
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
