package jsaction

import (
	"sync"

	"github.com/anwerso/jsaction/domtree"
)

// installedHandler is one (eventType, listener) pair installed on a
// container, kept so removal is exact (spec §3 "Installer"). The
// listener itself lives in package browserbridge — a Go library has
// no addEventListener to hold a reference to — so registry only
// tracks which event types are currently wired per container;
// browserbridge consults Contract.Handler(eventType, root) for the
// invocable closure and Contract.ActiveContainers for which roots
// currently carry handlers at all.
type installedHandler struct {
	eventType string
}

// container is the §3 Container pair: a root plus its installed
// listeners.
type container struct {
	root     *domtree.Node
	handlers []installedHandler
	active   bool
}

// ContainerHandle identifies a registered container for later removal.
type ContainerHandle struct {
	root *domtree.Node
}

// registry implements C7: the active/nested partition and the
// install/remove bookkeeping.
type registry struct {
	mu sync.RWMutex

	// byRoot indexes every registered container (active or nested) by
	// its root node, so namespace/lookup code can answer "is this a
	// container" in O(1) (used by namespace.go's containerOf).
	byRoot map[*domtree.Node]*container

	order []*domtree.Node // registration order, for deterministic repartitioning
}

func newRegistry() *registry {
	return &registry{byRoot: make(map[*domtree.Node]*container)}
}

func (r *registry) containers() []*container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*container, len(r.order))
	for i, root := range r.order {
		out[i] = r.byRoot[root]
	}
	return out
}

// isAncestor reports whether anc is an ancestor of (or identical to)
// n, following the same Owner-aware chain the walker uses.
func isAncestor(anc, n *domtree.Node) bool {
	for cur := n; cur != nil; cur = parentFor(cur) {
		if cur == anc {
			return true
		}
	}
	return false
}

// repartition recomputes which containers are active vs nested under
// STOP_PROPAGATION-off semantics (spec §4.7): a container is active
// unless some other registered container is its ancestor. It returns
// the containers that must gain handlers (newly active) and those
// that must lose them (newly nested), so the caller (Contract) can
// install/uninstall exactly those.
func (r *registry) repartition(stopPropagation bool) (becameActive, becameNested []*container) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stopPropagation {
		// Nesting is harmless: every container is active.
		for _, root := range r.order {
			c := r.byRoot[root]
			if !c.active {
				c.active = true
				becameActive = append(becameActive, c)
			}
		}
		return becameActive, nil
	}

	for _, root := range r.order {
		c := r.byRoot[root]
		nested := false
		for _, otherRoot := range r.order {
			if otherRoot == root {
				continue
			}
			if isAncestor(otherRoot, root) {
				nested = true
				break
			}
		}
		wasActive := c.active
		c.active = !nested
		switch {
		case c.active && !wasActive:
			becameActive = append(becameActive, c)
		case !c.active && wasActive:
			becameNested = append(becameNested, c)
		}
	}
	return becameActive, becameNested
}

func (r *registry) add(root *domtree.Node) *container {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &container{root: root}
	r.byRoot[root] = c
	r.order = append(r.order, root)
	return c
}

func (r *registry) remove(root *domtree.Node) *container {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byRoot[root]
	if !ok {
		return nil
	}
	delete(r.byRoot, root)
	for i, n := range r.order {
		if n == root {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return c
}
