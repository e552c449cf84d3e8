// Package executor spawns service scripts and translates their exit status
// into state transitions (spec §4.H). It does not enforce dependency
// ordering; that is the transition driver's job, fed by internal/depgraph.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"rc/internal/metadata"
	"rc/internal/rcerr"
	"rc/internal/resolver"
	"rc/internal/state"
	"rc/pkg/logging"
)

// Handle is a spawned-but-unwaited script invocation. Spawning and waiting
// are separate operations so a caller can interleave plugin hooks and
// parallel starts between them (spec §4.H).
type Handle struct {
	Service string
	Verb    string

	cmd          *exec.Cmd
	priorPrimary state.Primary
}

// PID returns the spawned child's process ID.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Executor is the filesystem-and-process glue between internal/state,
// internal/metadata, and a resolved script path.
type Executor struct {
	res    *resolver.Resolver
	states *state.Store
	meta   *metadata.Store
}

// New returns an Executor.
func New(res *resolver.Resolver, states *state.Store, meta *metadata.Store) *Executor {
	return &Executor{res: res, states: states, meta: meta}
}

// flagsCleared are reset before each start attempt (spec §4.H).
var flagsCleared = []state.Flag{state.FlagFailed, state.FlagScheduled, state.FlagWasInactive}

// Start spawns service with verb "start" and returns a Handle; it does not
// wait for the child to exit. Before spawning, cleared flags are reset and
// daemon records wiped, and the service is marked starting.
func (e *Executor) Start(ctx context.Context, service string) (*Handle, error) {
	script := e.res.Resolve(service)
	if script == "" {
		return nil, rcerr.NotFound(service, errors.New("no script resolves for service"))
	}

	for _, f := range flagsCleared {
		if err := e.states.ClearFlag(service, f); err != nil {
			return nil, err
		}
	}
	if err := e.meta.ClearDaemons(service); err != nil {
		return nil, err
	}
	if err := e.states.Mark(service, string(state.Starting)); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, script, "start")
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		e.failSpawn(service, state.Stopped)
		return nil, rcerr.ScriptFailure(service, err)
	}

	logging.Info("Executor", "%s: spawned start (pid %d)", service, cmd.Process.Pid)
	return &Handle{Service: service, Verb: "start", cmd: cmd}, nil
}

// Stop spawns service with verb "stop". If the service is currently
// Started it is first marked Stopping; the prior primary state is
// remembered so a spawn or exit failure can restore it (spec §4.H).
func (e *Executor) Stop(ctx context.Context, service string) (*Handle, error) {
	script := e.res.Resolve(service)
	if script == "" {
		return nil, rcerr.NotFound(service, errors.New("no script resolves for service"))
	}

	st, err := e.states.GetState(service)
	if err != nil {
		return nil, err
	}
	prior := st.Primary
	if prior == state.Started {
		if err := e.states.Mark(service, string(state.Stopping)); err != nil {
			return nil, err
		}
	}

	cmd := exec.CommandContext(ctx, script, "stop")
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		e.failSpawn(service, prior)
		return nil, rcerr.ScriptFailure(service, err)
	}

	logging.Info("Executor", "%s: spawned stop (pid %d)", service, cmd.Process.Pid)
	return &Handle{Service: service, Verb: "stop", cmd: cmd, priorPrimary: prior}, nil
}

// failSpawn restores restore as the primary state and sets failed, for the
// "On spawn failure → failed marker" rule (spec §4.H).
func (e *Executor) failSpawn(service string, restore state.Primary) {
	if err := e.states.Mark(service, string(restore)); err != nil {
		logging.Warn("Executor", "%s: failed to restore state after spawn failure: %v", service, err)
	}
	if err := e.states.Mark(service, string(state.FlagFailed)); err != nil {
		logging.Warn("Executor", "%s: failed to mark failed after spawn failure: %v", service, err)
	}
}

// Wait blocks until the spawned child exits and applies the corresponding
// state transition (spec §4.H).
func (e *Executor) Wait(h *Handle) error {
	waitErr := h.cmd.Wait()
	switch h.Verb {
	case "start":
		return e.finishStart(h.Service, waitErr)
	case "stop":
		return e.finishStop(h, waitErr)
	default:
		return rcerr.Fatal(h.Service, fmt.Errorf("unknown verb %q", h.Verb))
	}
}

func (e *Executor) finishStart(service string, waitErr error) error {
	st, err := e.states.GetState(service)
	if err != nil {
		return err
	}
	if st.Primary == state.Inactive {
		// The script self-demoted during its run; spec §4.H leaves that
		// alone regardless of exit status.
		logging.Info("Executor", "%s: start exited, left inactive by script", service)
		return nil
	}

	if waitErr == nil {
		logging.Info("Executor", "%s: started", service)
		return e.states.Mark(service, string(state.Started))
	}

	logging.Warn("Executor", "%s: start failed: %v", service, waitErr)
	if err := e.states.Mark(service, string(state.Stopped)); err != nil {
		return err
	}
	if err := e.states.Mark(service, string(state.FlagFailed)); err != nil {
		return err
	}
	return rcerr.ScriptFailure(service, waitErr)
}

func (e *Executor) finishStop(h *Handle, waitErr error) error {
	if waitErr == nil {
		logging.Info("Executor", "%s: stopped", h.Service)
		return e.states.Mark(h.Service, string(state.Stopped))
	}

	logging.Warn("Executor", "%s: stop failed: %v", h.Service, waitErr)
	if err := e.states.Mark(h.Service, string(h.priorPrimary)); err != nil {
		return err
	}
	if err := e.states.Mark(h.Service, string(state.FlagFailed)); err != nil {
		return err
	}
	return rcerr.ScriptFailure(h.Service, waitErr)
}
