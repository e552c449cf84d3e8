// Package deptree is the dependency parser & cache (spec §4.F): it extracts
// declared relations from each init script by sourcing it in a sandboxed
// "depend" mode, and caches the aggregated tree keyed by script mtimes.
package deptree

// RelationType is one of the relation kinds a script's depend-mode
// primitives can declare (spec §3).
type RelationType string

const (
	Need    RelationType = "need"
	Use     RelationType = "use"
	Want    RelationType = "want"
	After   RelationType = "after"
	Before  RelationType = "before"
	Provide RelationType = "provide"
	Keyword RelationType = "keyword"
	// Config is not an ordering relation; scripts declare extra files they
	// depend on (rc.h's per-script config-file list) so the cache can treat
	// them as staleness triggers alongside the script itself.
	Config RelationType = "config"
)

// Record is the per-service set of declared relations. After is the
// *ordering-ready* after-list: it starts as the service's own declared
// `after` peers and gains one entry per `before` declaration another
// service made naming this one (spec §4.F step 5, §3 "before X on S is
// equivalent to after S on X"). Before keeps the raw declared-before list,
// for diagnostics and for the SPEC_FULL §3 "what was declared vs. what was
// resolved" supplement.
type Record struct {
	Need    []string
	Use     []string
	Want    []string
	After   []string
	Before  []string
	Provide []string
	Keyword []string
	Config  []string
}

// Peers returns the declared peers for relation t.
func (r *Record) Peers(t RelationType) []string {
	return r.peers(t)
}

// OrderingPeers returns the peers that participate in start-order
// construction: need (which implies after, per spec §3) plus the
// already-before-expanded after list, deduplicated, need first.
func (r *Record) OrderingPeers() []string {
	out := make([]string, 0, len(r.Need)+len(r.After))
	out = append(out, r.Need...)
	for _, p := range r.After {
		out = appendUnique(out, p)
	}
	return out
}

func (r *Record) peers(t RelationType) []string {
	switch t {
	case Need:
		return r.Need
	case Use:
		return r.Use
	case Want:
		return r.Want
	case After:
		return r.After
	case Before:
		return r.Before
	case Provide:
		return r.Provide
	case Keyword:
		return r.Keyword
	case Config:
		return r.Config
	}
	return nil
}

func (r *Record) appendPeer(t RelationType, peer string) {
	switch t {
	case Need:
		r.Need = appendUnique(r.Need, peer)
	case Use:
		r.Use = appendUnique(r.Use, peer)
	case Want:
		r.Want = appendUnique(r.Want, peer)
	case After:
		r.After = appendUnique(r.After, peer)
	case Before:
		r.Before = appendUnique(r.Before, peer)
	case Provide:
		r.Provide = appendUnique(r.Provide, peer)
	case Keyword:
		r.Keyword = appendUnique(r.Keyword, peer)
	case Config:
		r.Config = appendUnique(r.Config, peer)
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// Tree is the aggregated dependency graph data for every service the parser
// saw, plus the raw provider declarations used for virtual resolution.
type Tree struct {
	// Services maps a real service name to its declared relations.
	Services map[string]*Record
	// Providers maps a virtual name to the services that `provide` it, in
	// first-declared order (spec §3: "first-in-runlevel wins with a
	// deterministic tie-break"; the tie-break itself is applied by
	// internal/depgraph at order time, using seed-set membership then this
	// slice's lexicographic order).
	Providers map[string][]string
	// VirtualAfter holds `after` edges created by a `before` declaration
	// whose target is a virtual name rather than a literal service (spec
	// §4.F step 5): depgraph merges these into whichever provider it picks
	// for that virtual.
	VirtualAfter map[string][]string
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{
		Services:     make(map[string]*Record),
		Providers:    make(map[string][]string),
		VirtualAfter: make(map[string][]string),
	}
}

func (t *Tree) recordFor(service string) *Record {
	r, ok := t.Services[service]
	if !ok {
		r = &Record{}
		t.Services[service] = r
	}
	return r
}

// Add ingests one declared relation for service. It is exported so callers
// that build a Tree from something other than scripts (a declarative
// manifest, or a test) can populate one the same way the parser does.
func (t *Tree) Add(service string, relation RelationType, peer string) {
	t.add(service, relation, peer)
}

// add ingests one declared relation line from a script's depend-mode output.
func (t *Tree) add(service string, relation RelationType, peer string) {
	r := t.recordFor(service)
	if relation == Provide {
		r.appendPeer(Provide, peer)
		t.Providers[peer] = appendUnique(t.Providers[peer], service)
		return
	}
	r.appendPeer(relation, peer)
}

// ExpandBefore runs expandBefore; exported so callers assembling a Tree
// outside the script-parsing path (manifests, tests) can finish it the
// same way Cache.Update does.
func (t *Tree) ExpandBefore() {
	t.expandBefore()
}

// expandBefore implements spec §4.F step 5: `before X` on S becomes `after
// S` on X, whether X is a literal service (mutate its Record.After
// directly) or a virtual (accumulate in VirtualAfter for depgraph to merge
// once it knows which provider X resolved to).
func (t *Tree) expandBefore() {
	for service, r := range t.Services {
		for _, target := range r.Before {
			if targetRecord, ok := t.Services[target]; ok {
				targetRecord.After = appendUnique(targetRecord.After, service)
				continue
			}
			t.VirtualAfter[target] = appendUnique(t.VirtualAfter[target], service)
		}
	}
}
