package jsaction

import (
	"strings"
	"sync"

	"github.com/anwerso/jsaction/domtree"
)

// nsCache is the per-node namespace cache of spec §3/§4.2: it must
// distinguish "queried, found no namespace" from "never queried", so
// the value type is *string rather than string — nil means unasked.
type nsCache struct {
	mu sync.Mutex
	m  map[*domtree.Node]*string
}

func newNSCache() *nsCache {
	return &nsCache{m: make(map[*domtree.Node]*string)}
}

// resolveNamespace implements spec §4.2. If name already contains a
// ".", it is returned unchanged. Otherwise the ancestor chain from
// start up to and including container is walked for a jsnamespace
// attribute; absence qualifies as global (name returned unchanged).
func (c *Contract) resolveNamespace(name string, start *domtree.Node) string {
	if strings.Contains(name, ".") {
		return name
	}

	ns := c.namespaceOf(start)
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// namespaceOf returns the jsnamespace in scope for node, walking
// ancestors once per node and caching the result (possibly "") so
// repeat resolutions cost nothing.
func (c *Contract) namespaceOf(node *domtree.Node) string {
	if node == nil {
		return ""
	}

	c.ns.mu.Lock()
	if cached, ok := c.ns.m[node]; ok {
		c.ns.mu.Unlock()
		if cached == nil {
			return ""
		}
		return *cached
	}
	c.ns.mu.Unlock()

	var found string
	for n := node; n != nil; n = parentFor(n) {
		if v, ok := n.Attr("jsnamespace"); ok {
			found = v
			break
		}
		if n == c.containerOf(node) {
			break
		}
	}

	v := found
	c.ns.mu.Lock()
	c.ns.m[node] = &v
	c.ns.mu.Unlock()
	return found
}

// parentFor advances toward the document root, preferring a node's
// logical Owner over its physical Parent — the same DOM-parent
// traversal the ancestor walker uses (spec §4.3).
func parentFor(n *domtree.Node) *domtree.Node {
	if n.Owner != nil {
		return n.Owner
	}
	return n.Parent
}

// containerOf returns the nearest registered container that is node
// or an ancestor of node, used only to bound the namespace walk so it
// never escapes past a container boundary (spec §4.2 "until ... the
// walk exits the container"). Returns nil if node is not inside any
// known container, in which case the walk runs to the root.
func (c *Contract) containerOf(node *domtree.Node) *domtree.Node {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()
	for n := node; n != nil; n = parentFor(n) {
		if _, ok := c.registry.byRoot[n]; ok {
			return n
		}
	}
	return nil
}
