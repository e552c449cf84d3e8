// Package metadata is the per-service metadata store (spec §4.D): saved
// option key/value pairs and the ordered list of daemon-invocation records
// a service's start script registered.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"rc/internal/rcerr"
	"rc/internal/rcpath"
	"rc/pkg/logging"
)

// DaemonRecord is the four-field tuple of spec §4.D / §3: the command a
// start script invoked, plus enough identifying detail to find it again
// among live processes.
type DaemonRecord struct {
	Exec          string `yaml:"exec"`
	Name          string `yaml:"name,omitempty"`
	PIDFile       string `yaml:"pidfile,omitempty"`
	ArgvSignature string `yaml:"argvSignature,omitempty"`
}

// Equal reports whether two records match on (exec, name, pidfile), the key
// remove_daemon uses to find an exact match (spec §4.D).
func (d DaemonRecord) Equal(other DaemonRecord) bool {
	return d.Exec == other.Exec && d.Name == other.Name && d.PIDFile == other.PIDFile
}

// ProcessQuerier resolves a daemon record to its live PIDs. PID/command
// discovery from /proc is explicitly out of scope for the core (spec §1);
// this interface is the seam a real deployment plugs a /proc-walker into.
type ProcessQuerier interface {
	LivePIDs(record DaemonRecord) ([]int, error)
}

// Store is the filesystem-backed metadata store.
type Store struct {
	cfg     rcpath.Config
	querier ProcessQuerier
}

// New returns a Store. querier may be nil; Crashed then always reports
// false, since there is no way to observe live processes without it.
func New(cfg rcpath.Config, querier ProcessQuerier) *Store {
	return &Store{cfg: cfg, querier: querier}
}

// GetOption reads a saved option value, returning ("", false, nil) if unset.
func (s *Store) GetOption(service, key string) (string, bool, error) {
	data, err := os.ReadFile(s.cfg.OptionPath(service, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, rcerr.Fatal(service, err)
	}
	return string(data), true, nil
}

// SetOption persists an option value.
func (s *Store) SetOption(service, key, value string) error {
	path := s.cfg.OptionPath(service, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rcerr.Transient(service, err)
	}
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return rcerr.Transient(service, err)
	}
	return nil
}

// Options enumerates the option keys saved for a service.
func (s *Store) Options(service string) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.OptionsDirFor(service))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerr.Fatal(service, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// daemonIndices returns the sorted 1-based indices currently recorded.
func (s *Store) daemonIndices(service string) ([]int, error) {
	entries, err := os.ReadDir(s.cfg.DaemonsDirFor(service))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerr.Fatal(service, err)
	}
	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(e.Name()); err == nil {
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// ClearDaemons removes all daemon records for a service. It is called at
// the start of each `start` invocation (spec §3 Lifecycles).
func (s *Store) ClearDaemons(service string) error {
	dir := s.cfg.DaemonsDirFor(service)
	if err := os.RemoveAll(dir); err != nil {
		return rcerr.Transient(service, err)
	}
	return nil
}

// AddDaemon appends a daemon record, returning its 1-based index.
func (s *Store) AddDaemon(service string, record DaemonRecord) (int, error) {
	indices, err := s.daemonIndices(service)
	if err != nil {
		return 0, err
	}
	next := 1
	if len(indices) > 0 {
		next = indices[len(indices)-1] + 1
	}

	data, err := yaml.Marshal(record)
	if err != nil {
		return 0, rcerr.Fatal(service, err)
	}
	path := s.cfg.DaemonRecordPath(service, next)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, rcerr.Transient(service, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, rcerr.Transient(service, err)
	}

	logging.Debug("Metadata", "%s: recorded daemon #%d (%s)", service, next, record.Exec)
	return next, nil
}

// RemoveDaemon finds the daemon record matching (exec, name, pidfile)
// exactly and removes it. It returns rcerr.KindNotFound if no record
// matches.
func (s *Store) RemoveDaemon(service string, record DaemonRecord) error {
	indices, err := s.daemonIndices(service)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		got, err := s.readDaemon(service, idx)
		if err != nil {
			return err
		}
		if got.Equal(record) {
			if err := os.Remove(s.cfg.DaemonRecordPath(service, idx)); err != nil && !os.IsNotExist(err) {
				return rcerr.Transient(service, err)
			}
			return nil
		}
	}
	return rcerr.NotFound(service, fmt.Errorf("no matching daemon record for %s", record.Exec))
}

func (s *Store) readDaemon(service string, index int) (DaemonRecord, error) {
	data, err := os.ReadFile(s.cfg.DaemonRecordPath(service, index))
	if err != nil {
		return DaemonRecord{}, rcerr.Fatal(service, err)
	}
	var rec DaemonRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return DaemonRecord{}, rcerr.Fatal(service, err)
	}
	return rec, nil
}

// Daemons returns all recorded daemon records in index order.
func (s *Store) Daemons(service string) ([]DaemonRecord, error) {
	indices, err := s.daemonIndices(service)
	if err != nil {
		return nil, err
	}
	records := make([]DaemonRecord, 0, len(indices))
	for _, idx := range indices {
		rec, err := s.readDaemon(service, idx)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// StartedDaemon reports whether a recorded daemon is currently live. index
// 0 means "any": true if at least one recorded daemon has a live process.
func (s *Store) StartedDaemon(service string, index int) (bool, error) {
	if s.querier == nil {
		return false, nil
	}

	if index == 0 {
		records, err := s.Daemons(service)
		if err != nil {
			return false, err
		}
		for _, rec := range records {
			pids, err := s.querier.LivePIDs(rec)
			if err != nil {
				return false, err
			}
			if len(pids) > 0 {
				return true, nil
			}
		}
		return false, nil
	}

	rec, err := s.readDaemon(service, index)
	if err != nil {
		if rcerr.Is(err, rcerr.KindFatal) {
			return false, nil
		}
		return false, err
	}
	pids, err := s.querier.LivePIDs(rec)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// Crashed reports whether any recorded daemon's live PID set is empty
// (spec §4.D), i.e. the service claims to be running but nothing backs it.
func (s *Store) Crashed(service string) (bool, error) {
	if s.querier == nil {
		return false, nil
	}
	records, err := s.Daemons(service)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}
	for _, rec := range records {
		pids, err := s.querier.LivePIDs(rec)
		if err != nil {
			return false, err
		}
		if len(pids) == 0 {
			return true, nil
		}
	}
	return false, nil
}
