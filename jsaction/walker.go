package jsaction

import "github.com/anwerso/jsaction/domtree"

// ancestorSeq returns an iterator-like slice of nodes from target up
// to and including container, in walk order. Spec §4.3 describes two
// interchangeable iteration strategies (DOM-parent mode and
// event-path mode); modeling both as a plain slice keeps the
// resolver in resolveAction agnostic to which one produced it
// (spec §9, "Walker abstraction").
func (c *Contract) ancestorSeq(ev RawEvent, container *domtree.Node) []*domtree.Node {
	if c.Options.UseEventPath && len(ev.Path) > 0 {
		return pathUpTo(ev.Path, container)
	}
	return domParentChainUpTo(ev.Target, container)
}

func domParentChainUpTo(start, container *domtree.Node) []*domtree.Node {
	var seq []*domtree.Node
	for n := start; n != nil; n = parentFor(n) {
		seq = append(seq, n)
		if n == container {
			break
		}
	}
	return seq
}

func pathUpTo(path []*domtree.Node, container *domtree.Node) []*domtree.Node {
	var seq []*domtree.Node
	for _, n := range path {
		seq = append(seq, n)
		if n == container {
			break
		}
	}
	return seq
}

// resolveAction walks ancestors from the event's target toward
// container looking for an ActionMap entry bound to one of matchKeys
// (tried in order at each ancestor before advancing), implementing
// spec §4.3. ignore aborts the walk with no match outright (spec
// §4.3, used while a fast-click sequence is pending). matchedKey
// reports which of matchKeys actually hit, so callers that pass more
// than one key (the click/clickonly pair) can tell them apart; it is
// "" when nothing matched.
func (c *Contract) resolveAction(ev RawEvent, matchKeys []string, container *domtree.Node, ignore bool) (action string, actionElement *domtree.Node, matchedKey string) {
	if ignore {
		return "", nil, ""
	}
	for _, n := range c.ancestorSeq(ev, container) {
		actions := c.actionsFor(n)
		for _, key := range matchKeys {
			if a, ok := actions[key]; ok {
				return a, n, key
			}
		}
	}
	return "", nil, ""
}
