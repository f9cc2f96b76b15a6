package browserbridge

import (
	"strconv"
	"testing"

	"github.com/anwerso/jsaction/domtree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html/atom"
)

func treeWithOneNode(t *testing.T, backendID string, name string) *domtree.Tree {
	t.Helper()
	tree := domtree.New(0)
	id, err := strconv.Atoi(backendID)
	require.NoError(t, err)
	_, err = tree.LoadInitialDOM(domtree.RawNode{
		"nodeId":        float64(id),
		"backendNodeId": float64(id),
		"nodeName":      name,
	})
	require.NoError(t, err)
	return tree
}

func TestDecodeForwardedEventResolvesTargetByBackendID(t *testing.T) {
	tree := treeWithOneNode(t, "42", "A")

	payload := `{"type":"click","targetBackendNodeId":42,"x":10,"y":20,"ctrl":true,"button":0,"key":"","defaultPrevented":false,"targetTouches":0}`
	ev, eventType, err := decodeForwardedEvent(payload, tree)
	require.NoError(t, err)
	assert.Equal(t, "click", eventType)
	assert.Equal(t, "click", ev.Type)
	require.NotNil(t, ev.Target)
	assert.Equal(t, "a", ev.Target.NodeName)
	assert.Equal(t, float64(10), ev.X)
	assert.Equal(t, float64(20), ev.Y)
	assert.True(t, ev.Ctrl)
}

func TestDecodeForwardedEventUnknownBackendIDLeavesTargetNil(t *testing.T) {
	tree := domtree.New(0)
	payload := `{"type":"click","targetBackendNodeId":999}`
	ev, _, err := decodeForwardedEvent(payload, tree)
	require.NoError(t, err)
	assert.Nil(t, ev.Target)
}

func TestDecodeForwardedEventRejectsMissingType(t *testing.T) {
	_, _, err := decodeForwardedEvent(`{"x":1}`, domtree.New(0))
	assert.Error(t, err)
}

func TestDecodeForwardedEventRejectsMalformedJSON(t *testing.T) {
	_, _, err := decodeForwardedEvent(`not json`, domtree.New(0))
	assert.Error(t, err)
}

func TestDecodeForwardedEventCarriesCustomEventFields(t *testing.T) {
	payload := `{"type":"custom","customType":"my-widget-opened","hasCustomType":true}`
	ev, eventType, err := decodeForwardedEvent(payload, domtree.New(0))
	require.NoError(t, err)
	assert.Equal(t, "custom", eventType)
	assert.True(t, ev.HasCustomType)
	assert.Equal(t, "my-widget-opened", ev.CustomType)
}

func TestIsIOSUserAgentMatchesKnownDevices(t *testing.T) {
	assert.True(t, isIOSUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)"))
	assert.True(t, isIOSUserAgent("Mozilla/5.0 (iPad; CPU OS 14_0 like Mac OS X)"))
	assert.False(t, isIOSUserAgent("Mozilla/5.0 (Linux; Android 10)"))
	assert.False(t, isIOSUserAgent(""))
}

func TestTagNameEqualsIsCaseInsensitive(t *testing.T) {
	assert.True(t, tagNameEquals("SCRIPT", atom.Script))
	assert.True(t, tagNameEquals("script", atom.Script))
	assert.False(t, tagNameEquals("div", atom.Script))
}
