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

// Package domjson defines the wire representation of DOM mutations
// mirrored from a live page. A domtree.Tree returns one of these for
// every insert, removal, or attribute change it applies, so that a
// client mirroring the page (for example a dispatcher UI) does not
// need to re-derive tree structure from the jsaction engine itself.
package domjson

// DOMUpdates is a batch of DOM mutation updates.
type DOMUpdates struct {
	Updates []*DOMUpdate
}

// DOMUpdate describes a single mutation applied to the mirrored tree.
type DOMUpdate struct {
	Action Action
	Node   Node
}

// Node is the serializable projection of a domtree.Node.
type Node struct {
	NodeID         string
	ParentNodeID   string // Can be "" if removing or modifying a node.
	PreviousNodeID string // Can be "" if inserting at beginning of level, removing, or modifying a node.
	ElementType    string
	Attributes     map[string]string
	Text           string // The content in the text node, if any.
}

// Action identifies the kind of mutation a DOMUpdate carries.
type Action int

// Values for Action.
const (
	Invalid Action = iota
	Insert
	Remove
	Modify
)
