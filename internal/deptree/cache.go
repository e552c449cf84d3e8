package deptree

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rc/internal/rcerr"
	"rc/internal/rcpath"
	"rc/pkg/logging"
)

// cacheDocument is the on-disk (YAML) representation of a built Tree. The
// format is versioned per spec §6 ("format is versioned and private");
// bumping cacheVersion invalidates any cache built by an older binary.
type cacheDocument struct {
	Version      int                  `yaml:"version"`
	BuiltAt      time.Time            `yaml:"builtAt"`
	Services     map[string]*Record   `yaml:"services"`
	Providers    map[string][]string  `yaml:"providers"`
	VirtualAfter map[string][]string  `yaml:"virtualAfter"`
	ScriptMtimes map[string]time.Time `yaml:"scriptMtimes"`
	ConfigMtimes map[string]time.Time `yaml:"configMtimes"`
}

const cacheVersion = 1

// Cache owns the on-disk dependency cache described in spec §4.F.
type Cache struct {
	cfg rcpath.Config
}

// NewCache returns a Cache rooted at cfg.DeptreeFile and cfg.InitDir.
func NewCache(cfg rcpath.Config) *Cache {
	return &Cache{cfg: cfg}
}

// Stale reports whether the cache needs rebuilding: any init script, any
// config file referenced by a previously-cached script, or the init
// directory itself has a newer mtime than the cache file (spec §4.F).
func (c *Cache) Stale() (bool, error) {
	cacheInfo, err := os.Stat(c.cfg.DeptreeFile)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, rcerr.Fatal(c.cfg.DeptreeFile, err)
	}
	cacheTime := cacheInfo.ModTime()

	dirInfo, err := os.Stat(c.cfg.InitDir)
	if err != nil {
		return false, rcerr.Configuration(c.cfg.InitDir, err)
	}
	if dirInfo.ModTime().After(cacheTime) {
		return true, nil
	}

	doc, err := c.readDocument()
	if err != nil {
		return true, nil // an unreadable/corrupt cache is treated as stale
	}
	for path, recorded := range doc.ScriptMtimes {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(recorded) || !info.ModTime().Equal(recorded) {
			return true, nil
		}
	}
	for path, recorded := range doc.ConfigMtimes {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Equal(recorded) {
			return true, nil
		}
	}
	return false, nil
}

// Update rebuilds the cache by enumerating scripts and sourcing each in
// depend mode (spec §4.F steps 1-6). If force is false and the cache is
// fresh, Update is a no-op.
func (c *Cache) Update(ctx context.Context, force bool) error {
	if !force {
		stale, err := c.Stale()
		if err != nil {
			return err
		}
		if !stale {
			logging.Debug("DepTree", "cache is fresh, skipping rebuild")
			return nil
		}
	}

	entries, err := os.ReadDir(c.cfg.InitDir)
	if err != nil {
		return rcerr.Configuration(c.cfg.InitDir, err)
	}

	tree := NewTree()
	scriptMtimes := make(map[string]time.Time)
	configMtimes := make(map[string]time.Time)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := c.cfg.ScriptPath(name)
		info, err := e.Info()
		if err != nil {
			logging.Warn("DepTree", "skipping %s: %v", name, err)
			continue
		}
		if info.Mode()&0o111 == 0 {
			logging.Debug("DepTree", "skipping non-executable %s", name)
			continue
		}
		scriptMtimes[path] = info.ModTime()

		lines, err := ParseScript(ctx, path, name)
		if err != nil {
			logging.Warn("DepTree", "skipping %s: %v", name, err)
			continue
		}
		// Every parsed script is a real service, even one that declares
		// no relations.
		tree.recordFor(name)
		for relation, peers := range lines {
			for _, peer := range peers {
				tree.add(name, relation, peer)
			}
		}
	}

	tree.expandBefore()

	for _, r := range tree.Services {
		for _, cfgPath := range r.Config {
			if info, err := os.Stat(cfgPath); err == nil {
				configMtimes[cfgPath] = info.ModTime()
			}
		}
	}

	doc := cacheDocument{
		Version:      cacheVersion,
		BuiltAt:      time.Now(),
		Services:     tree.Services,
		Providers:    tree.Providers,
		VirtualAfter: tree.VirtualAfter,
		ScriptMtimes: scriptMtimes,
		ConfigMtimes: configMtimes,
	}

	return c.writeDocument(doc)
}

// Load parses the cache file into an in-memory Tree. The returned Tree is a
// stable snapshot: it is read-only for this client from here on (spec
// §4.F "Readers call load()").
func (c *Cache) Load() (*Tree, error) {
	doc, err := c.readDocument()
	if err != nil {
		return nil, err
	}
	return &Tree{
		Services:     doc.Services,
		Providers:    doc.Providers,
		VirtualAfter: doc.VirtualAfter,
	}, nil
}

func (c *Cache) readDocument() (cacheDocument, error) {
	data, err := os.ReadFile(c.cfg.DeptreeFile)
	if err != nil {
		return cacheDocument{}, rcerr.NotFound(c.cfg.DeptreeFile, err)
	}
	var doc cacheDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cacheDocument{}, rcerr.Fatal(c.cfg.DeptreeFile, err)
	}
	if doc.Version != cacheVersion {
		return cacheDocument{}, rcerr.Configuration(c.cfg.DeptreeFile, errCacheVersionMismatch(doc.Version))
	}
	return doc, nil
}

// writeDocument serializes doc and renames it into place atomically, so
// readers never observe a partially-written cache.
func (c *Cache) writeDocument(doc cacheDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return rcerr.Fatal(c.cfg.DeptreeFile, err)
	}

	dir := filepath.Dir(c.cfg.DeptreeFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rcerr.Transient(dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".deptree-*")
	if err != nil {
		return rcerr.Transient(dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return rcerr.Transient(c.cfg.DeptreeFile, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return rcerr.Transient(c.cfg.DeptreeFile, err)
	}
	if err := os.Rename(tmpPath, c.cfg.DeptreeFile); err != nil {
		os.Remove(tmpPath)
		return rcerr.Transient(c.cfg.DeptreeFile, err)
	}

	logging.Info("DepTree", "rebuilt dependency cache (%d services)", len(doc.Services))
	return nil
}

type errCacheVersionMismatch int

func (e errCacheVersionMismatch) Error() string {
	return "cache version mismatch (found " + strconv.Itoa(int(e)) + ")"
}
