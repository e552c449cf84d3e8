// Package transition is the runlevel transition driver (spec §4.I): given a
// current and target runlevel it computes the stop-then-start plan,
// invokes the executor for each service in order, and emits plugin hooks
// at the defined points.
package transition

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rc/internal/depgraph"
	"rc/internal/executor"
	"rc/internal/plugin"
	"rc/internal/runlevel"
	"rc/internal/state"
	"rc/pkg/logging"
)

// Driver composes depgraph's ordering with the executor and plugin
// registry to walk a runlevel transition end to end.
type Driver struct {
	graph     *depgraph.Graph
	runlevels *runlevel.Registry
	states    *state.Store
	exec      *executor.Executor
	plugins   *plugin.Registry
}

// New returns a Driver.
func New(graph *depgraph.Graph, runlevels *runlevel.Registry, states *state.Store, exec *executor.Executor, plugins *plugin.Registry) *Driver {
	return &Driver{graph: graph, runlevels: runlevels, states: states, exec: exec, plugins: plugins}
}

// Transition walks the current runlevel to target, per spec §4.I steps
// 1-9. It is best-effort: a single service's failure is logged and does
// not abort the rest of the plan. Every log line it emits carries a
// correlation id unique to this call, so a single transition's scattered
// service-level log entries can be grepped back together.
func (d *Driver) Transition(ctx context.Context, target string) error {
	id := uuid.New().String()
	current, err := d.runlevels.CurrentRunlevel()
	if err != nil {
		return err
	}

	logging.Info("Transition", "[%s] %s -> %s", id, current, target)

	if err := d.stopPhase(ctx, id, current, target); err != nil {
		return err
	}

	if err := d.runlevels.SetRunlevel(target); err != nil {
		return err
	}

	return d.startPhase(ctx, id, target)
}

// stopPhase implements spec §4.I steps 1-4: stop every service that was
// running under current but is not wanted by target, in reverse
// dependency order.
func (d *Driver) stopPhase(ctx context.Context, id, current, target string) error {
	d.plugins.Fire(plugin.RunlevelStopIn, current)
	defer d.plugins.Fire(plugin.RunlevelStopOut, current)

	if current == "" {
		return nil
	}

	startCurrent, _, err := d.graph.Order(current, depgraph.Start)
	if err != nil {
		return err
	}
	startTarget, _, err := d.graph.Order(target, depgraph.Start)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(startTarget))
	for _, s := range startTarget {
		keep[s] = true
	}

	for i := len(startCurrent) - 1; i >= 0; i-- {
		s := startCurrent[i]
		if keep[s] {
			continue
		}
		d.stopOne(ctx, id, s)
	}
	return nil
}

func (d *Driver) stopOne(ctx context.Context, id, service string) {
	d.plugins.Fire(plugin.ServiceStopIn, service)
	defer d.plugins.Fire(plugin.ServiceStopOut, service)

	h, err := d.exec.Stop(ctx, service)
	if err != nil {
		logging.Warn("Transition", "[%s] %s: stop failed to spawn: %v", id, service, err)
		return
	}
	if err := d.exec.Wait(h); err != nil {
		logging.Warn("Transition", "[%s] %s: stop exited non-zero: %v", id, service, err)
	}
}

// startPhase implements spec §4.I steps 6-9: start every service wanted by
// target that is not already started, respecting need-gating and
// launching scheduled knock-ons as their gating need completes. Services
// within one dependency rank are spawned concurrently.
func (d *Driver) startPhase(ctx context.Context, id, target string) error {
	d.plugins.Fire(plugin.RunlevelStartIn, target)
	defer d.plugins.Fire(plugin.RunlevelStartOut, target)

	ranks, _, err := d.graph.Ranks(target, depgraph.Start)
	if err != nil {
		return err
	}
	needs, _, err := d.graph.Needs(target)
	if err != nil {
		return err
	}

	sched := &scheduler{
		driver:    d,
		ctx:       ctx,
		id:        id,
		needs:     needs,
		waiters:   make(map[string][]string),
		attempted: make(map[string]bool),
	}

	for _, rank := range ranks {
		if err := sched.runRank(rank); err != nil {
			return err
		}
	}
	return nil
}

// scheduler tracks the scheduled-knock-on graph across the whole start
// phase: which services are waiting on which gating need, and which
// services have already been attempted (so a knock-on launch from one
// rank doesn't double-attempt a service also present in a later rank).
type scheduler struct {
	driver *Driver
	ctx    context.Context
	id     string

	mu        sync.Mutex
	needs     map[string][]string
	waiters   map[string][]string // gating need -> services scheduled on it
	attempted map[string]bool
}

func (s *scheduler) runRank(rank []string) error {
	var ready []string
	for _, svc := range rank {
		if s.markAttempted(svc) {
			continue
		}
		if s.driver.isStarted(svc) {
			continue
		}
		s.driver.plugins.Fire(plugin.ServiceStartIn, svc)
		unmet := s.unmetNeeds(svc)
		if len(unmet) > 0 {
			s.deferService(svc, unmet)
			continue
		}
		ready = append(ready, svc)
	}

	g, gctx := errgroup.WithContext(s.ctx)
	for _, svc := range ready {
		svc := svc
		g.Go(func() error {
			s.launch(gctx, svc)
			return nil
		})
	}
	return g.Wait()
}

func (s *scheduler) markAttempted(svc string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempted[svc] {
		return true
	}
	s.attempted[svc] = true
	return false
}

func (s *scheduler) unmetNeeds(svc string) []string {
	var unmet []string
	for _, need := range s.needs[svc] {
		if !s.driver.isStarted(need) {
			unmet = append(unmet, need)
		}
	}
	return unmet
}

func (s *scheduler) deferService(svc string, unmet []string) {
	if err := s.driver.states.Mark(svc, string(state.FlagScheduled)); err != nil {
		logging.Warn("Transition", "[%s] %s: failed to mark scheduled: %v", s.id, svc, err)
	}
	s.mu.Lock()
	for _, need := range unmet {
		s.waiters[need] = append(s.waiters[need], svc)
	}
	s.mu.Unlock()
	logging.Info("Transition", "[%s] %s: scheduled, waiting on %v", s.id, svc, unmet)
}

// launch performs the "now -> invoke -> wait -> done -> knock-ons -> out"
// sequence for one already-gating-clear service (spec §4.I step 8), then
// recursively launches whatever was scheduled on it.
func (s *scheduler) launch(ctx context.Context, svc string) {
	defer s.driver.plugins.Fire(plugin.ServiceStartOut, svc)

	s.driver.plugins.Fire(plugin.ServiceStartNow, svc)
	h, err := s.driver.exec.Start(ctx, svc)
	if err != nil {
		logging.Warn("Transition", "[%s] %s: start failed to spawn: %v", s.id, svc, err)
		return
	}
	if err := s.driver.exec.Wait(h); err != nil {
		logging.Warn("Transition", "[%s] %s: start exited non-zero: %v", s.id, svc, err)
	}
	s.driver.plugins.Fire(plugin.ServiceStartDone, svc)

	s.mu.Lock()
	waiters := s.waiters[svc]
	delete(s.waiters, svc)
	s.mu.Unlock()

	for _, w := range waiters {
		// w was already marked attempted when it was first deferred; this
		// pass is its knock-on launch, not a rank re-scan, so attempted
		// does not gate it here.
		s.driver.plugins.Fire(plugin.ServiceStartIn, w)
		if unmet := s.unmetNeeds(w); len(unmet) > 0 {
			s.deferService(w, unmet)
			continue
		}
		s.launch(ctx, w)
	}
}

func (d *Driver) isStarted(service string) bool {
	st, err := d.states.GetState(service)
	if err != nil {
		return false
	}
	return st.Primary == state.Started
}
