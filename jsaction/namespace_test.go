package jsaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveNamespaceAlreadyQualifiedUnchanged(t *testing.T) {
	c := New(DefaultOptions())
	assert.Equal(t, "ns.go", c.resolveNamespace("ns.go", nil))
}

func TestResolveNamespaceWalksAncestorsToFindJsnamespace(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", map[string]string{"jsnamespace": "ns"})
	c.registry.add(container)
	child := nodeWithAttrs("button", nil)
	child.Parent = container

	assert.Equal(t, "ns.go", c.resolveNamespace("go", child))
}

func TestResolveNamespaceNoneFoundReturnsUnchanged(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", nil)
	c.registry.add(container)
	child := nodeWithAttrs("button", nil)
	child.Parent = container

	assert.Equal(t, "go", c.resolveNamespace("go", child))
}

func TestResolveNamespaceIdempotent(t *testing.T) {
	c := New(DefaultOptions())
	container := nodeWithAttrs("div", map[string]string{"jsnamespace": "ns"})
	c.registry.add(container)
	child := nodeWithAttrs("button", nil)
	child.Parent = container

	once := c.resolveNamespace("go", child)
	twice := c.resolveNamespace(once, child)
	assert.Equal(t, once, twice)
}

func TestNamespaceOfCachesUnqueriedVersusEmpty(t *testing.T) {
	c := New(DefaultOptions())
	n := nodeWithAttrs("div", nil)

	_, queried := c.ns.m[n]
	assert.False(t, queried)

	assert.Equal(t, "", c.namespaceOf(n))

	cached, queried := c.ns.m[n]
	assert.True(t, queried)
	assert.NotNil(t, cached)
	assert.Equal(t, "", *cached)
}
