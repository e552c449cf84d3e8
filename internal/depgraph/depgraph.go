// Package depgraph resolves virtuals and orders services for a runlevel
// (spec §4.G): it builds a DAG over need+after edges, breaks cycles
// deterministically, and produces the authoritative start sequence whose
// reverse is the stop sequence.
package depgraph

import (
	"fmt"
	"sort"

	"rc/internal/deptree"
	"rc/internal/runlevel"
)

// Options is a bitmask selecting Depends traversal behaviour (spec §4.G).
type Options uint8

const (
	// Trace recurses the full transitive closure; without it, only one hop
	// from the seed set is followed.
	Trace Options = 1 << iota
	// Strict restricts results to members of the target runlevel (plus the
	// implicit sysinit/boot runlevels).
	Strict
	// Start selects the need+after (start-direction) relation set.
	Start
	// Stop selects the reverse direction used when computing a stop plan:
	// Order returns the start sequence reversed. Ranks and Depends do not
	// read Start or Stop.
	Stop
)

// Diagnostic is a non-fatal condition surfaced during ordering: an
// unresolved virtual or a cycle that had to be broken (spec §4.F step 4,
// §4.G step 4, §7 "Configuration" errors).
type Diagnostic struct {
	Kind    string // "unresolved-virtual" | "cycle"
	Message string
}

// Graph is the virtual-resolving, cycle-breaking view over a parsed Tree.
type Graph struct {
	tree      *deptree.Tree
	runlevels *runlevel.Registry
}

// New returns a Graph over tree, consulting runlevels for seed-set and
// STRICT-membership queries.
func New(tree *deptree.Tree, runlevels *runlevel.Registry) *Graph {
	return &Graph{tree: tree, runlevels: runlevels}
}

// seedList returns sysinit ∪ boot ∪ runlevelName members, deduplicated
// preserving first occurrence (spec §4.G step 1).
func (g *Graph) seedList(runlevelName string) ([]string, error) {
	var seed []string
	seen := make(map[string]bool)
	for _, rl := range []string{runlevel.Sysinit, runlevel.Boot, runlevelName} {
		members, err := g.runlevels.ServicesInRunlevel(rl)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if !seen[m] {
				seen[m] = true
				seed = append(seed, m)
			}
		}
	}
	return seed, nil
}

// anyRunlevelMembers returns the set of services that are a member of any
// runlevel at all, used for virtual tie-break fallback (b) in spec §4.G
// step 2.
func (g *Graph) anyRunlevelMembers() (map[string]bool, error) {
	all := make(map[string]bool)
	levels, err := g.runlevels.Runlevels()
	if err != nil {
		return nil, err
	}
	for _, rl := range levels {
		members, err := g.runlevels.ServicesInRunlevel(rl)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			all[m] = true
		}
	}
	return all, nil
}

// resolveVirtual picks the provider for a virtual name: priority (a) a
// provider present in priority (the seed set), else (b) the
// lexicographically-first provider present in any runlevel (spec §4.G
// step 2, §3 "provide").
func (g *Graph) resolveVirtual(virtual string, priority map[string]bool, anyMember map[string]bool) (string, bool) {
	providers := g.tree.Providers[virtual]
	if len(providers) == 0 {
		return "", false
	}
	for _, p := range providers {
		if priority[p] {
			return p, true
		}
	}
	var inAnyRunlevel []string
	for _, p := range providers {
		if anyMember[p] {
			inAnyRunlevel = append(inAnyRunlevel, p)
		}
	}
	if len(inAnyRunlevel) == 0 {
		return "", false
	}
	sort.Strings(inAnyRunlevel)
	return inAnyRunlevel[0], true
}

// resolvePeer maps a declared peer name to the literal service it denotes:
// itself if it is a real service, otherwise its resolved virtual provider.
// A name with no Record and no provider still counts as a real service when
// it is in the priority set or a member of some runlevel.
func (g *Graph) resolvePeer(peer string, priority, anyMember map[string]bool) (string, bool) {
	if _, ok := g.tree.Services[peer]; ok {
		return peer, true
	}
	if resolved, ok := g.resolveVirtual(peer, priority, anyMember); ok {
		return resolved, true
	}
	if priority[peer] || anyMember[peer] {
		return peer, true
	}
	return "", false
}

// Depends returns the transitive union over the given relation types
// starting from seeds (spec §4.G `depends`).
func (g *Graph) Depends(types []deptree.RelationType, seeds []string, runlevelName string, opts Options) ([]string, []Diagnostic, error) {
	priority := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		priority[s] = true
	}
	anyMember, err := g.anyRunlevelMembers()
	if err != nil {
		return nil, nil, err
	}

	var allowed map[string]bool
	if opts&Strict != 0 {
		seedList, err := g.seedList(runlevelName)
		if err != nil {
			return nil, nil, err
		}
		allowed = make(map[string]bool, len(seedList))
		for _, s := range seedList {
			allowed[s] = true
		}
	}

	var diagnostics []Diagnostic
	var result []string
	visited := make(map[string]bool)
	queue := append([]string{}, seeds...)
	for _, s := range seeds {
		visited[s] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		rec, ok := g.tree.Services[cur]
		if !ok {
			continue
		}
		for _, t := range types {
			for _, peer := range rec.Peers(t) {
				resolved, ok := g.resolvePeer(peer, priority, anyMember)
				if !ok {
					diagnostics = append(diagnostics, Diagnostic{
						Kind:    "unresolved-virtual",
						Message: fmt.Sprintf("%s: unresolved %s target %q", cur, t, peer),
					})
					continue
				}
				if allowed != nil && !allowed[resolved] {
					continue
				}
				if visited[resolved] {
					continue
				}
				visited[resolved] = true
				result = append(result, resolved)
				if opts&Trace != 0 {
					queue = append(queue, resolved)
				}
			}
		}
	}
	return result, diagnostics, nil
}

// Order produces the authoritative start sequence for runlevelName (spec
// §4.G steps 1-5). Its reverse is the valid stop sequence, which Order
// returns when opts includes Stop.
func (g *Graph) Order(runlevelName string, opts Options) ([]string, []Diagnostic, error) {
	seed, edges, _, seedPos, diagnostics, err := g.buildDependencyEdges(runlevelName)
	if err != nil {
		return nil, nil, err
	}
	order, cycleDiags := topoSort(seed, edges, seedPos)
	diagnostics = append(diagnostics, cycleDiags...)
	if opts&Stop != 0 {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order, diagnostics, nil
}

// Ranks produces the same dependency closure as Order, but grouped into
// parallel-safe levels: every service in a rank has all its prerequisites
// satisfied by an earlier rank, so the transition driver may spawn an
// entire rank concurrently (spec §4.I "within a topological rank, services
// that are mutually independent may be spawned concurrently").
func (g *Graph) Ranks(runlevelName string, opts Options) ([][]string, []Diagnostic, error) {
	seed, edges, _, seedPos, diagnostics, err := g.buildDependencyEdges(runlevelName)
	if err != nil {
		return nil, nil, err
	}
	ranks, cycleDiags := levelSort(seed, edges, seedPos)
	diagnostics = append(diagnostics, cycleDiags...)
	return ranks, diagnostics, nil
}

// Needs returns, for every service reachable from runlevelName's seed set,
// the resolved set of its hard `need` peers — the gating relation the
// transition driver uses to decide whether to defer a service as
// `scheduled` (spec §3 "if need fails, scheduled"; §4.I step 8). A need
// that resolves to no service is kept under its declared name, so it never
// counts as started. Unlike Order/Ranks this deliberately excludes `after`,
// which is ordering-only and carries no scheduling obligation.
func (g *Graph) Needs(runlevelName string) (map[string][]string, []Diagnostic, error) {
	_, _, needs, _, diagnostics, err := g.buildDependencyEdges(runlevelName)
	return needs, diagnostics, err
}

// buildDependencyEdges computes the seed set and the need+after dependency
// edges reachable from it (spec §4.G steps 1-3), resolving virtuals along
// the way. It also returns needEdges, the same closure restricted to pure
// `need` peers, for gating decisions. Shared by Order, Ranks and Needs so
// all three walk identical graphs.
func (g *Graph) buildDependencyEdges(runlevelName string) (seed []string, edges map[string][]string, needEdges map[string][]string, seedPos map[string]int, diagnostics []Diagnostic, err error) {
	seed, err = g.seedList(runlevelName)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	priority := make(map[string]bool, len(seed))
	for _, s := range seed {
		priority[s] = true
	}
	anyMember, err := g.anyRunlevelMembers()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	seedPos = make(map[string]int, len(seed))
	for i, s := range seed {
		seedPos[s] = i
	}
	edges = make(map[string][]string)     // node -> need+after prerequisites (ordering)
	needEdges = make(map[string][]string) // node -> need-only prerequisites (gating)
	visited := make(map[string]bool, len(seed))
	queue := append([]string{}, seed...)
	for _, s := range seed {
		visited[s] = true
	}
	nextPos := len(seed)

	resolve := func(cur, peer string, into map[string][]string, diagKind string) {
		resolved, ok := g.resolvePeer(peer, priority, anyMember)
		if !ok {
			if diagKind != "" {
				diagnostics = append(diagnostics, Diagnostic{
					Kind:    diagKind,
					Message: fmt.Sprintf("%s: unresolved target %q, dropped", cur, peer),
				})
			}
			return
		}
		into[cur] = appendUniqueString(into[cur], resolved)
		if !visited[resolved] {
			visited[resolved] = true
			seedPos[resolved] = nextPos
			nextPos++
			queue = append(queue, resolved)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		// VirtualAfter entries filed under cur's own name (cur had no Record
		// when the tree was expanded) order their declarers before cur.
		for _, s := range g.tree.VirtualAfter[cur] {
			resolve(cur, s, edges, "unresolved-virtual")
		}
		rec, ok := g.tree.Services[cur]
		if !ok {
			continue
		}
		// `before V` edges for a virtual V land on V's chosen provider.
		for _, v := range rec.Provide {
			if p, ok := g.resolveVirtual(v, priority, anyMember); ok && p == cur {
				for _, s := range g.tree.VirtualAfter[v] {
					resolve(cur, s, edges, "unresolved-virtual")
				}
			}
		}
		for _, peer := range rec.OrderingPeers() {
			resolve(cur, peer, edges, "unresolved-virtual")
		}
		for _, peer := range rec.Need {
			if _, ok := g.resolvePeer(peer, priority, anyMember); !ok {
				needEdges[cur] = appendUniqueString(needEdges[cur], peer)
				continue
			}
			resolve(cur, peer, needEdges, "")
		}
	}

	return seed, edges, needEdges, seedPos, diagnostics, nil
}

// topoSort runs Kahn's algorithm over edges (node -> prerequisites),
// breaking ties by seedPos and breaking cycles by dropping the edge whose
// dependent (source) name is lexicographically earliest among the cycle's
// edges (spec §4.G step 4).
func topoSort(roots []string, edges map[string][]string, seedPos map[string]int) ([]string, []Diagnostic) {
	nodes := make(map[string]bool)
	for n := range seedPos {
		nodes[n] = true
	}
	for n := range edges {
		nodes[n] = true
	}

	var diagnostics []Diagnostic
	var result []string

	for len(nodes) > 0 {
		indegree := make(map[string]int, len(nodes))
		forward := make(map[string][]string, len(nodes))
		for n := range nodes {
			indegree[n] = 0
		}
		for n := range nodes {
			for _, prereq := range edges[n] {
				if !nodes[prereq] {
					continue
				}
				indegree[n]++
				forward[prereq] = append(forward[prereq], n)
			}
		}

		ready := readyNodes(nodes, indegree)
		progressed := false
		for len(ready) > 0 {
			sort.Slice(ready, func(i, j int) bool { return seedPos[ready[i]] < seedPos[ready[j]] })
			n := ready[0]
			ready = ready[1:]
			result = append(result, n)
			delete(nodes, n)
			progressed = true
			for _, succ := range forward[n] {
				indegree[succ]--
				if indegree[succ] == 0 {
					ready = append(ready, succ)
				}
			}
		}

		if len(nodes) == 0 {
			break
		}
		if !progressed {
			// pure deadlock with no ready nodes at all: break the
			// lexicographically earliest remaining edge to make progress.
		}

		broke, diag := breakOneCycleEdge(nodes, edges)
		if !broke {
			// Nothing left to break; emit remaining nodes in seedPos order
			// rather than looping forever.
			remaining := make([]string, 0, len(nodes))
			for n := range nodes {
				remaining = append(remaining, n)
			}
			sort.Slice(remaining, func(i, j int) bool { return seedPos[remaining[i]] < seedPos[remaining[j]] })
			result = append(result, remaining...)
			break
		}
		diagnostics = append(diagnostics, diag)
	}

	return result, diagnostics
}

// levelSort groups the same DAG into parallel-safe ranks: each round takes
// every currently-zero-indegree node as one rank (sorted by seedPos for a
// deterministic start_in firing order), rather than draining them one at a
// time, so callers can spawn a whole rank concurrently.
func levelSort(roots []string, edges map[string][]string, seedPos map[string]int) ([][]string, []Diagnostic) {
	nodes := make(map[string]bool)
	for n := range seedPos {
		nodes[n] = true
	}
	for n := range edges {
		nodes[n] = true
	}

	var diagnostics []Diagnostic
	var ranks [][]string

	for len(nodes) > 0 {
		indegree := make(map[string]int, len(nodes))
		for n := range nodes {
			indegree[n] = 0
		}
		for n := range nodes {
			for _, prereq := range edges[n] {
				if nodes[prereq] {
					indegree[n]++
				}
			}
		}

		rank := readyNodes(nodes, indegree)
		if len(rank) == 0 {
			broke, diag := breakOneCycleEdge(nodes, edges)
			if !broke {
				remaining := make([]string, 0, len(nodes))
				for n := range nodes {
					remaining = append(remaining, n)
				}
				sort.Slice(remaining, func(i, j int) bool { return seedPos[remaining[i]] < seedPos[remaining[j]] })
				ranks = append(ranks, remaining)
				break
			}
			diagnostics = append(diagnostics, diag)
			continue
		}

		sort.Slice(rank, func(i, j int) bool { return seedPos[rank[i]] < seedPos[rank[j]] })
		ranks = append(ranks, rank)
		for _, n := range rank {
			delete(nodes, n)
		}
	}

	return ranks, diagnostics
}

func readyNodes(nodes map[string]bool, indegree map[string]int) []string {
	var ready []string
	for n := range nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	return ready
}

// breakOneCycleEdge finds a cycle among the remaining nodes and drops the
// edge whose source (the dependent service) is lexicographically
// earliest, per spec §4.G step 4's cycle-break rule.
func breakOneCycleEdge(nodes map[string]bool, edges map[string][]string) (bool, Diagnostic) {
	cycle := findCycle(nodes, edges)
	if cycle == nil {
		return false, Diagnostic{}
	}

	// cycle is in path order: each node's next entry (wrapping) is one of
	// its prerequisites, so the dropped edge always lies on the cycle.
	src := 0
	for i, n := range cycle {
		if n < cycle[src] {
			src = i
		}
	}
	dropSource := cycle[src]
	dropTarget := cycle[(src+1)%len(cycle)]
	sort.Strings(cycle)
	newPrereqs := make([]string, 0, len(edges[dropSource]))
	for _, p := range edges[dropSource] {
		if p != dropTarget {
			newPrereqs = append(newPrereqs, p)
		}
	}
	edges[dropSource] = newPrereqs

	return true, Diagnostic{
		Kind:    "cycle",
		Message: fmt.Sprintf("cycle detected involving %v; dropped edge %s -> %s", cycle, dropSource, dropTarget),
	}
}

// findCycle returns the node names participating in some cycle among
// nodes using edges as prerequisite lists, or nil if none remain.
func findCycle(nodes map[string]bool, edges map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var path []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		path = append(path, n)
		for _, p := range edges[n] {
			if !nodes[p] {
				continue
			}
			switch color[p] {
			case white:
				if visit(p) {
					return true
				}
			case gray:
				// found the cycle: path from p's occurrence to end
				for i, v := range path {
					if v == p {
						cycle = append([]string{}, path[i:]...)
						break
					}
				}
				return true
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

func appendUniqueString(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
