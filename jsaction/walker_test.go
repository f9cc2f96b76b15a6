package jsaction

import (
	"testing"

	"github.com/anwerso/jsaction/domtree"
	"github.com/stretchr/testify/assert"
)

// TestResolveActionWalksPastNonMatchingAncestor is scenario 3 from
// spec §8: two candidates, the inner has no "click" binding so the
// walk continues to the outer, which does.
func TestResolveActionWalksPastNonMatchingAncestor(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", nil)
	c.registry.add(container)

	outer := nodeWithAttrs("div", map[string]string{"jsaction": "click:outer.act"})
	outer.Parent = container
	inner := nodeWithAttrs("span", map[string]string{"jsaction": "mouseover:inner.hover"})
	inner.Parent = outer

	ev := RawEvent{Type: eventTypeClick, Target: inner}
	action, elem, matchedKey := c.resolveAction(ev, []string{eventTypeClick, eventTypeClickOnly}, container, false)
	assert.Equal(t, "outer.act", action)
	assert.Same(t, outer, elem)
	assert.Equal(t, eventTypeClick, matchedKey)
}

// TestResolveActionReportsClickOnlyAsMatchedKey ensures a binding that
// only exists under "clickonly" is reported as such, so callers can
// tell it apart from a real "click" binding (spec §4.4/§6).
func TestResolveActionReportsClickOnlyAsMatchedKey(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", nil)
	c.registry.add(container)

	target := nodeWithAttrs("span", map[string]string{"jsaction": "clickonly:target.act"})
	target.Parent = container

	ev := RawEvent{Type: eventTypeClick, Target: target}
	action, elem, matchedKey := c.resolveAction(ev, []string{eventTypeClick, eventTypeClickOnly}, container, false)
	assert.Equal(t, "target.act", action)
	assert.Same(t, target, elem)
	assert.Equal(t, eventTypeClickOnly, matchedKey)
}

func TestResolveActionNoMatchBeforeContainerReturnsNil(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", nil)
	c.registry.add(container)
	target := nodeWithAttrs("span", nil)
	target.Parent = container

	ev := RawEvent{Type: eventTypeClick, Target: target}
	action, elem, _ := c.resolveAction(ev, []string{eventTypeClick}, container, false)
	assert.Equal(t, "", action)
	assert.Nil(t, elem)
}

func TestResolveActionIgnoreAbortsWalk(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", map[string]string{"jsaction": "click:shouldnotmatch"})
	target := nodeWithAttrs("span", nil)
	target.Parent = container

	ev := RawEvent{Type: eventTypeClick, Target: target}
	action, elem, _ := c.resolveAction(ev, []string{eventTypeClick}, container, true)
	assert.Equal(t, "", action)
	assert.Nil(t, elem)
}

func TestAncestorSeqEventPathMode(t *testing.T) {
	c := New(Options{UseEventPath: true})
	container := nodeWithAttrs("div", nil)
	outer := nodeWithAttrs("div", nil)
	target := nodeWithAttrs("span", nil)

	ev := RawEvent{Target: target, Path: []*domtree.Node{target, outer, container, nodeWithAttrs("body", nil)}}
	seq := c.ancestorSeq(ev, container)
	assert.Equal(t, []*domtree.Node{target, outer, container}, seq)
}

func TestAncestorSeqDOMParentModePrefersOwnerOverParent(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", nil)
	host := nodeWithAttrs("div", nil)
	host.Parent = container
	shadowed := nodeWithAttrs("span", nil)
	shadowed.Owner = host
	shadowed.Parent = nodeWithAttrs("template", nil) // physical parent must be ignored

	ev := RawEvent{Target: shadowed}
	seq := c.ancestorSeq(ev, container)
	assert.Equal(t, []*domtree.Node{shadowed, host, container}, seq)
}
