package jsaction

import (
	"strings"
	"sync"

	"github.com/anwerso/jsaction/domtree"
)

// ActionMap is a parsed jsaction attribute: eventType -> actionName.
// At most one action per event type; unknown event types are simply
// absent, never an error (spec §3, §7).
type ActionMap map[string]string

// emptyActionMap is the process-wide immutable sentinel for elements
// with no (or an empty) jsaction attribute, so attribute-less nodes
// share one allocation instead of each carrying an empty map
// (spec §3, §9).
var emptyActionMap = ActionMap{}

// attrCache owns the two caches spec §3 describes: a per-node cache
// (here, keyed by *domtree.Node identity, since Go has no expando
// properties to hang a cache on the element itself) and a per-raw-
// string cache shared across all nodes with the same attribute text.
//
// Both caches are monotonic: once a node or raw string has been
// parsed, the entry is never invalidated, matching spec §3's
// "invalidated only by node replacement" — a replaced node is simply
// a different *domtree.Node and gets its own cache slot.
type attrCache struct {
	mu        sync.Mutex
	byNode     map[*domtree.Node]ActionMap
	byRawAttr  map[string]ActionMap
}

func newAttrCache() *attrCache {
	return &attrCache{
		byNode:    make(map[*domtree.Node]ActionMap),
		byRawAttr: make(map[string]ActionMap),
	}
}

// actionsFor returns the Action Map for node, computing and caching
// it on first use (spec §4.1). When Options.JSNamespaceSupport is set
// (the JSNAMESPACE_SUPPORT flag, spec §6), bare action names are
// qualified through c.resolveNamespace per spec §4.2; otherwise the
// parsed map is bound unqualified.
func (c *Contract) actionsFor(node *domtree.Node) ActionMap {
	c.attrs.mu.Lock()
	if m, ok := c.attrs.byNode[node]; ok {
		c.attrs.mu.Unlock()
		return m
	}
	c.attrs.mu.Unlock()

	raw, ok := node.Attr("jsaction")
	if !ok || strings.TrimSpace(raw) == "" {
		c.bindNode(node, emptyActionMap)
		return emptyActionMap
	}

	c.attrs.mu.Lock()
	cached, ok := c.attrs.byRawAttr[raw]
	c.attrs.mu.Unlock()
	if !ok {
		cached = parseJSAction(raw, c.DefaultEventType)
		c.attrs.mu.Lock()
		c.attrs.byRawAttr[raw] = cached
		c.attrs.mu.Unlock()
	}

	final := cached
	if c.Options.JSNamespaceSupport {
		final = c.qualifyNamespaces(cached, node)
	}
	c.bindNode(node, final)
	return final
}

func (c *Contract) bindNode(node *domtree.Node, m ActionMap) {
	c.attrs.mu.Lock()
	c.attrs.byNode[node] = m
	c.attrs.mu.Unlock()
}

// qualifyNamespaces clones m and rewrites every value through the
// namespace resolver, per spec §4.1 step 6: "the cached map is
// cloned before qualification — the shared cached map stays
// unqualified."
func (c *Contract) qualifyNamespaces(m ActionMap, node *domtree.Node) ActionMap {
	clone := make(ActionMap, len(m))
	for eventType, action := range m {
		clone[eventType] = c.resolveNamespace(action, node)
	}
	return clone
}

// parseJSAction parses a raw jsaction attribute string into an
// ActionMap, per the grammar in spec §6:
//
//	jsaction-attr := clause (';' clause)* ';'?
//	clause        := (event-type ':')? action-name
//
// Duplicate event types resolve last-wins; empty clauses are skipped;
// whitespace around clauses and around ':' is trimmed.
func parseJSAction(raw, defaultEventType string) ActionMap {
	m := make(ActionMap)
	for _, clause := range strings.Split(raw, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if i := strings.Index(clause, ":"); i >= 0 {
			eventType := strings.TrimSpace(clause[:i])
			action := strings.TrimSpace(clause[i+1:])
			if eventType == "" {
				eventType = defaultEventType
			}
			m[eventType] = action
		} else {
			m[defaultEventType] = clause
		}
	}
	return m
}
