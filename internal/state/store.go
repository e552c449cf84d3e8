package state

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"rc/internal/rcerr"
	"rc/internal/rcpath"
	"rc/pkg/logging"
)

var allPrimaries = []Primary{Stopped, Starting, Started, Stopping, Inactive}

// Store is the filesystem-backed state store of spec §4.C. Any number of
// readers may call it concurrently; writers serialize through the atomic
// marker operations in rcpath, so the store itself holds no lock across a
// transition.
type Store struct {
	cfg rcpath.Config
}

// New returns a Store rooted at cfg.StateDir.
func New(cfg rcpath.Config) *Store {
	return &Store{cfg: cfg}
}

// GetState returns the current primary state and flag set for service. A
// service with no primary marker present is Stopped (spec §4.C).
func (s *Store) GetState(service string) (Status, error) {
	primary := Stopped
	found := false
	for _, p := range allPrimaries {
		if rcpath.MarkerExists(s.cfg.StatePath(string(p), service)) {
			if found {
				// Two primary markers for the same service is a storage
				// invariant violation (spec §8); surfacing it rather than
				// picking one silently lets the caller notice corruption.
				return Status{}, rcerr.Fatal(service, fmt.Errorf("multiple primary state markers present"))
			}
			primary = p
			found = true
		}
	}

	flags := make(map[Flag]bool, len(allFlags))
	for _, f := range allFlags {
		flags[f] = rcpath.MarkerExists(s.cfg.StatePath(string(f), service))
	}

	return Status{Primary: primary, Flags: flags}, nil
}

// Mark transitions service to the named primary state, or sets a flag, per
// spec §4.C. Primary transitions atomically remove the other primary
// markers before creating the new one; flag transitions leave the primary
// marker untouched. Marking Stopped also clears the flags cleared on a
// fresh attempt (scheduled, failed, was-inactive); so does marking Started.
func (s *Store) Mark(service, name string) error {
	if p := Primary(name); p.valid() {
		return s.markPrimary(service, p)
	}
	if f := Flag(name); f.valid() {
		return rcpath.CreateMarker(s.cfg.StatePath(string(f), service))
	}
	return rcerr.Configuration(service, fmt.Errorf("unknown state %q", name))
}

func (s *Store) markPrimary(service string, target Primary) error {
	for _, p := range allPrimaries {
		if p == target {
			continue
		}
		if err := rcpath.RemoveMarker(s.cfg.StatePath(string(p), service)); err != nil {
			return err
		}
	}
	if err := rcpath.CreateMarker(s.cfg.StatePath(string(target), service)); err != nil {
		return err
	}

	if target == Stopped || target == Started {
		for _, f := range clearedOnStart {
			if err := s.ClearFlag(service, f); err != nil {
				return err
			}
		}
	}

	logging.Debug("StateStore", "%s -> %s", service, target)
	return nil
}

// ClearFlag removes a single flag marker. It is idempotent.
func (s *Store) ClearFlag(service string, f Flag) error {
	return rcpath.RemoveMarker(s.cfg.StatePath(string(f), service))
}

// ServicesInState enumerates all services currently carrying the named
// primary or flag marker (spec §4.C / §8: a service with flag "failed" and
// primary "stopped" is enumerated by both).
func (s *Store) ServicesInState(name string) ([]string, error) {
	names, err := rcpath.ListMarkers(s.cfg.StateDirFor(name))
	if err != nil {
		return nil, err
	}
	return names, nil
}

// WaitOptions configures WaitFor.
type WaitOptions struct {
	// InitialBackoff is the first poll interval; doubles each retry up to
	// MaxBackoff. Defaults to 20ms / 1s per spec §4.C.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds total wall-clock wait. Defaults to 60s.
	Timeout time.Duration
}

// DefaultWaitOptions returns the spec-normative backoff schedule.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		Timeout:        60 * time.Second,
	}
}

// WaitFor blocks until service is no longer in a transitional primary state
// (starting/stopping/inactive) or until the timeout elapses. It returns
// whether the service settled before the timeout; a timed-out wait is not
// an error (spec §5 "expiry yields a boolean, never an error").
func (s *Store) WaitFor(ctx context.Context, service string, opts WaitOptions) (bool, error) {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultWaitOptions().InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultWaitOptions().MaxBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWaitOptions().Timeout
	}

	settled := func() (bool, error) {
		st, err := s.GetState(service)
		if err != nil {
			return false, err
		}
		return !st.Primary.Transitional(), nil
	}

	// Short-circuit: a service already settled returns immediately without
	// entering the polling loop.
	if ok, err := settled(); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	deadline := time.Now().Add(opts.Timeout)
	backoff := opts.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		wait := backoff
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		if ok, err := settled(); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}

		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

// StatePath exposes the marker path for a (state, service) pair, primarily
// for the fsnotify-driven TUI watcher which needs a literal path to watch.
func (s *Store) StatePath(stateName, service string) string {
	return s.cfg.StatePath(stateName, service)
}

// StateDir exposes the root state directory, for the same reason.
func (s *Store) StateDir() string {
	return filepath.Clean(s.cfg.StateDir)
}
