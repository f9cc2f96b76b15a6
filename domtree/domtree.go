// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package domtree mirrors a page's DOM, as reported by the Chrome
// DevTools Protocol, into an addressable node tree. Unlike a one-shot
// parse, the tree is built incrementally from the same insert /
// remove / attribute-modify / set-child-nodes events DevTools sends,
// and it keeps real parent pointers so the jsaction engine's ancestor
// walk (see package jsaction) is a pointer chase rather than a lookup
// through backend node ids.
package domtree

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/anwerso/jsaction/domtree/domjson"
	"golang.org/x/net/html"
)

// RawNode is the JSON-decoded shape of a node as DevTools reports it:
// DOM.getDocument, DOM.setChildNodes, and the various DOM.*
// notifications all nest this shape.
type RawNode map[string]interface{}

// Field names used by DevTools DOM domain payloads.
const (
	fieldNodeID         = "nodeId"
	fieldBackendNodeID  = "backendNodeId"
	fieldNodeName       = "nodeName"
	fieldNodeValue      = "nodeValue"
	fieldChildren       = "children"
	fieldParentNodeID   = "parentNodeId"
	fieldPreviousNodeID = "previousNodeId"
	fieldNodeField      = "node"
	fieldAttributes     = "attributes"
	fieldNodes          = "nodes"
	fieldParentID       = "parentId"
	fieldName           = "name"
	fieldValue          = "value"
)

// Node is one element (or text node) in the mirrored tree.
//
// Owner models the spec's logical re-parenting hook: a node slotted
// into a shadow host walks through its Owner, not its Parent, when
// the jsaction ancestor walker resolves an action (see the DOM-parent
// mode in package jsaction). It is nil for ordinary nodes.
type Node struct {
	NodeID        string
	BackendNodeID string
	NodeName      string
	Text          string
	Attrs         map[string]string

	Parent   *Node
	Owner    *Node
	Children []*Node
}

// Attr returns the value of the named attribute and whether it was
// present. Mirrors the DOM's getAttribute in the one respect the
// jsaction engine depends on: a missing attribute is absence, not an
// error.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil || n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[name]
	return v, ok
}

// Tree is a mirrored DOM tree plus the bookkeeping needed to apply
// incremental CDP mutations to it.
type Tree struct {
	mu sync.RWMutex

	root        *Node
	byNodeID    map[string]*Node
	byBackendID map[string]*Node

	// updates, when non-nil, is the buffered channel Updates returns.
	// emit sends to it and drops the update when the channel is full.
	// LoadInitialDOM and the Process* methods return their updates to
	// the caller and do not call emit.
	updates chan *domjson.DOMUpdate
}

// New creates an empty Tree. updatesBuffer sized 0 disables update
// emission entirely.
func New(updatesBuffer int) *Tree {
	t := &Tree{
		byNodeID:    make(map[string]*Node),
		byBackendID: make(map[string]*Node),
	}
	if updatesBuffer > 0 {
		t.updates = make(chan *domjson.DOMUpdate, updatesBuffer)
	}
	return t
}

// Updates returns the channel of wire-format mutations, or nil if
// update emission was disabled.
func (t *Tree) Updates() <-chan *domjson.DOMUpdate {
	return t.updates
}

func (t *Tree) emit(u *domjson.DOMUpdate) {
	if t.updates == nil {
		return
	}
	select {
	case t.updates <- u:
	default:
	}
}

// Lookup returns the node with the given DevTools nodeId.
func (t *Tree) Lookup(nodeID string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byNodeID[nodeID]
	return n, ok
}

// LookupBackend returns the node with the given DevTools backendNodeId.
func (t *Tree) LookupBackend(backendNodeID string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byBackendID[backendNodeID]
	return n, ok
}

// Root returns the document root node, if one has been established.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// SetOwner establishes logical ownership of node by owner, for shadow
// re-parenting. Either id may be absent, in which case the call is a
// no-op — DevTools event ordering occasionally reports a shadow
// relationship before both sides exist.
func (t *Tree) SetOwner(nodeID, ownerNodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byNodeID[nodeID]
	if !ok {
		return
	}
	owner, ok := t.byNodeID[ownerNodeID]
	if !ok {
		return
	}
	n.Owner = owner
}

// LoadInitialDOM populates the tree from a DOM.getDocument response
// and returns the insert updates for the whole subtree, in
// depth-first order, matching the teacher's GenerateInitialDOM.
func (t *Tree) LoadInitialDOM(rootNode RawNode) ([]*domjson.DOMUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var result []*domjson.DOMUpdate
	n, err := t.insertHelper(rootNode, nil, &result)
	if err != nil {
		return nil, err
	}
	t.root = n
	return result, nil
}

// ProcessSetChildNodes applies a DOM.setChildNodes notification.
func (t *Tree) ProcessSetChildNodes(params RawNode) ([]*domjson.DOMUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentNodeID, err := nodeIDStr(params, fieldParentID)
	if err != nil {
		return nil, err
	}
	parent, ok := t.byNodeID[parentNodeID]
	if !ok {
		return nil, fmt.Errorf("domtree: parent node %s does not exist", parentNodeID)
	}

	rawChildren, _ := params[fieldNodes].([]interface{})
	var result []*domjson.DOMUpdate
	for _, raw := range rawChildren {
		child := RawNode(raw.(map[string]interface{}))
		if _, err := t.insertHelper(child, parent, &result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ProcessNodeInsertion applies a DOM.childNodeInserted notification.
func (t *Tree) ProcessNodeInsertion(params RawNode) (*domjson.DOMUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodeDetails, ok := params[fieldNodeField].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("domtree: insertion notification missing %q", fieldNodeField)
	}

	parentNodeID, err := nodeIDStr(params, fieldParentNodeID)
	if err != nil {
		return nil, err
	}
	var parent *Node
	if parentNodeID != "" {
		parent, ok = t.byNodeID[parentNodeID]
		if !ok {
			return nil, fmt.Errorf("domtree: parent node %s does not exist", parentNodeID)
		}
	}

	n, err := t.buildNode(RawNode(nodeDetails))
	if err != nil {
		return nil, err
	}
	t.attach(n, parent)
	return t.insertUpdate(n, parent), nil
}

// ProcessNodeRemoval applies a DOM.childNodeRemoved notification.
func (t *Tree) ProcessNodeRemoval(params RawNode) (*domjson.DOMUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodeID, err := nodeIDStr(params, "nodeId")
	if err != nil {
		return nil, err
	}
	n, ok := t.byNodeID[nodeID]
	if !ok {
		return nil, fmt.Errorf("domtree: node %s does not exist", nodeID)
	}

	var parentID string
	if n.Parent != nil {
		parentID = n.Parent.NodeID
		n.Parent.Children = removeChild(n.Parent.Children, n)
	}
	t.detachSubtree(n)

	return &domjson.DOMUpdate{
		Action: domjson.Remove,
		Node: domjson.Node{
			NodeID:       n.BackendNodeID,
			ParentNodeID: parentID,
		},
	}, nil
}

// ProcessNodeAttributeModification applies a DOM.attributeModified
// notification.
func (t *Tree) ProcessNodeAttributeModification(params RawNode) (*domjson.DOMUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodeID, err := nodeIDStr(params, "nodeId")
	if err != nil {
		return nil, err
	}
	n, ok := t.byNodeID[nodeID]
	if !ok {
		return nil, fmt.Errorf("domtree: node %s does not exist", nodeID)
	}
	name, _ := params[fieldName].(string)
	value, _ := params[fieldValue].(string)
	value = html.UnescapeString(value)
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[name] = value

	return &domjson.DOMUpdate{
		Action: domjson.Modify,
		Node: domjson.Node{
			NodeID:     n.BackendNodeID,
			Attributes: map[string]string{name: value},
		},
	}, nil
}

func (t *Tree) insertHelper(raw RawNode, parent *Node, result *[]*domjson.DOMUpdate) (*Node, error) {
	n, err := t.buildNode(raw)
	if err != nil {
		return nil, err
	}
	t.attach(n, parent)
	*result = append(*result, t.insertUpdate(n, parent))

	if childrenRaw, ok := raw[fieldChildren].([]interface{}); ok {
		for _, c := range childrenRaw {
			if _, err := t.insertHelper(RawNode(c.(map[string]interface{})), n, result); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

func (t *Tree) buildNode(raw RawNode) (*Node, error) {
	nodeID, err := nodeIDStr(raw, fieldNodeID)
	if err != nil {
		return nil, err
	}
	backendID, err := nodeIDStr(raw, fieldBackendNodeID)
	if err != nil {
		return nil, err
	}
	name, _ := raw[fieldNodeName].(string)
	text, _ := raw[fieldNodeValue].(string)

	n := &Node{
		NodeID:        nodeID,
		BackendNodeID: backendID,
		NodeName:      strings.ToLower(name),
		Text:          text,
		Attrs:         parseAttributePairs(raw),
	}
	return n, nil
}

func (t *Tree) attach(n, parent *Node) {
	n.Parent = parent
	if parent != nil {
		parent.Children = append(parent.Children, n)
	}
	t.byNodeID[n.NodeID] = n
	t.byBackendID[n.BackendNodeID] = n
}

func (t *Tree) detachSubtree(n *Node) {
	delete(t.byNodeID, n.NodeID)
	delete(t.byBackendID, n.BackendNodeID)
	for _, c := range n.Children {
		t.detachSubtree(c)
	}
}

func (t *Tree) insertUpdate(n, parent *Node) *domjson.DOMUpdate {
	var parentID, prevID string
	if parent != nil {
		parentID = parent.BackendNodeID
		if idx := len(parent.Children) - 1; idx > 0 {
			prevID = parent.Children[idx-1].BackendNodeID
		}
	}
	attrs := n.Attrs
	if n.NodeName == "script" {
		attrs = nil
	}
	return &domjson.DOMUpdate{
		Action: domjson.Insert,
		Node: domjson.Node{
			NodeID:         n.BackendNodeID,
			ParentNodeID:   parentID,
			PreviousNodeID: prevID,
			ElementType:    n.NodeName,
			Attributes:     attrs,
			Text:           n.Text,
		},
	}
}

func removeChild(children []*Node, target *Node) []*Node {
	out := children[:0]
	for _, c := range children {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// nodeIDStr extracts a DevTools node/backend id, which DevTools
// serializes as a JSON number. An id of 0 means "no node" and is
// reported as "", matching the teacher's convention.
func nodeIDStr(node RawNode, field string) (string, error) {
	idInterface, ok := node[field]
	if !ok {
		return "", fmt.Errorf("domtree: node %v missing field %s", node, field)
	}
	idFloat, ok := idInterface.(float64)
	if !ok {
		return "", fmt.Errorf("domtree: field %s in node %v is not a number", field, node)
	}
	if idFloat == 0 {
		return "", nil
	}
	return strconv.Itoa(int(idFloat)), nil
}

// parseAttributePairs turns DevTools' flat [k0, v0, k1, v1, ...]
// attribute list into a map. Values are run through html.UnescapeString
// since jsaction and jsnamespace attribute text can carry the same
// entity-encoded characters (`&amp;`, `&#59;`) any other attribute can,
// and the parsers in package jsaction expect the resolved text, not
// the source markup.
func parseAttributePairs(node RawNode) map[string]string {
	attrs := make(map[string]string)
	pairs, ok := node[fieldAttributes].([]interface{})
	if !ok {
		return attrs
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		attrs[k] = html.UnescapeString(v)
	}
	return attrs
}
