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

// Package browserbridge wires a live Chrome instance, over the
// DevTools Protocol, into the jsaction engine: it mirrors the page's
// DOM into a domtree.Tree, injects a forwarding snippet that turns
// raw browser events into CDP binding calls, and translates those
// calls into jsaction.RawEvent values run through the Contract's
// installed handlers. None of the resolution logic lives here — this
// package is a dumb, swappable transport, exactly as spec.md §1
// scopes "the core" to exclude transport and §6 names CDP-style
// collaborators as external.
package browserbridge

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/anwerso/jsaction/chrome"
	"github.com/anwerso/jsaction/devtools"
	"github.com/anwerso/jsaction/domtree"
	"github.com/anwerso/jsaction/jsaction"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/atom"
)

// CDP DOM domain notification methods this bridge consumes, named the
// same way the teacher's stream.go names them.
const (
	domDocumentUpdated       = "DOM.documentUpdated"
	domChildNodeCountUpdated = "DOM.childNodeCountUpdated"
	domSetChildNodes         = "DOM.setChildNodes"
	domChildNodeInserted     = "DOM.childNodeInserted"
	domChildNodeRemoved      = "DOM.childNodeRemoved"
	domAttributeModified     = "DOM.attributeModified"
	runtimeBindingCalled     = "Runtime.bindingCalled"
)

// forwardBindingName is the CDP binding the injected page script calls
// for every raw DOM event it observes. Kept short since the binding
// name round-trips through every page's global scope.
const forwardBindingName = "__jsactionForward"

// forwarderSnippet is injected via Page.addScriptToEvaluateOnNewDocument.
// It performs no resolution — it only serializes event fields and
// calls the bound function, matching spec §1's framing of the page-side
// half as "a dumb pipe".
const forwarderSnippet = `(() => {
  const send = (type, e) => {
    const detail = e.detail || {};
    window.` + forwardBindingName + `(JSON.stringify({
      type: type,
      targetBackendNodeId: e.__jsactionBackendNodeId || 0,
      x: e.clientX || 0,
      y: e.clientY || 0,
      ctrl: !!e.ctrlKey, meta: !!e.metaKey, shift: !!e.shiftKey, alt: !!e.altKey,
      button: e.button || 0,
      key: e.key || '',
      defaultPrevented: !!e.defaultPrevented,
      targetTouches: (e.targetTouches && e.targetTouches.length) || 0,
      customType: detail._type || '',
      hasCustomType: detail._type !== undefined,
    }));
  };
  ['click','mousedown','mouseup','mouseover','mouseout','touchstart','touchmove',
   'touchend','keydown','keypress','focus','blur','focusin','focusout'].forEach((t) => {
    document.addEventListener(t, (e) => send(t, e), true);
  });
})();`

// iOS user agent substrings that trigger the cursor:pointer workaround
// (spec §4.7).
var iosUserAgentMarkers = []string{"iPhone", "iPad", "iPod"}

// Bridge owns one Chrome instance's connection and feeds its events
// into a jsaction.Contract via a mirrored domtree.Tree.
type Bridge struct {
	Logger logrus.FieldLogger

	instance *chrome.Instance
	tree     *domtree.Tree
	contract *jsaction.Contract

	userAgent string
}

// New constructs a Bridge over an already-connected chrome.Instance.
// tree is typically fresh (domtree.New(0) if wire updates are not
// needed downstream).
func New(instance *chrome.Instance, tree *domtree.Tree, contract *jsaction.Contract, logger logrus.FieldLogger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{Logger: logger, instance: instance, tree: tree, contract: contract}
}

// Attach enables the DOM/Page/Runtime domains, installs the
// forwarding snippet and binding, and loads the current DOM into the
// mirrored tree. Run Pump afterward to process CDP events.
func (b *Bridge) Attach() error {
	b.instance.EnableDomains("DOM", "Page", "Runtime")

	dc := b.instance.Conn()
	dc.InvokeMethod("Page.addScriptToEvaluateOnNewDocument", devtools.Params{"source": forwarderSnippet})
	dc.InvokeMethod("Runtime.addBinding", devtools.Params{"name": forwardBindingName})

	root, err := b.instance.GetDOMInstance()
	if err != nil {
		return errors.Wrap(err, "browserbridge: fetching initial DOM")
	}
	if _, err := b.tree.LoadInitialDOM(domtree.RawNode(root)); err != nil {
		return errors.Wrap(err, "browserbridge: loading initial DOM")
	}
	return nil
}

// SetUserAgent records the connected page's user agent, so the iOS
// bubbling workaround (spec §4.7) can decide whether it applies.
func (b *Bridge) SetUserAgent(ua string) {
	b.userAgent = ua
}

// Pump runs the CDP event loop until the connection closes, mirroring
// DOM mutations into the tree and forwarding binding calls into the
// jsaction Contract. It is the adapted equivalent of the teacher's
// stream.Handler.ServeHTTP event loop, generalized from "emit a wire
// DOM update" to "mutate the tree and dispatch a RawEvent".
func (b *Bridge) Pump() error {
	for {
		event, err := b.instance.NextEvent()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "browserbridge: reading CDP event")
		}

		switch event.Method {
		case domDocumentUpdated:
			root, err := b.instance.GetDOMInstance()
			if err != nil {
				b.Logger.WithError(err).Warn("browserbridge: failed to refetch DOM on documentUpdated")
				continue
			}
			if _, err := b.tree.LoadInitialDOM(domtree.RawNode(root)); err != nil {
				b.Logger.WithError(err).Warn("browserbridge: failed to reload DOM")
			}

		case domChildNodeCountUpdated:
			if nodeID, ok := event.Params.Float("nodeId"); ok {
				b.instance.RequestChildNodes(nodeID)
			}

		case domSetChildNodes:
			if _, err := b.tree.ProcessSetChildNodes(domtree.RawNode(event.Params)); err != nil {
				b.Logger.WithError(err).Warn("browserbridge: setChildNodes")
			}

		case domChildNodeInserted:
			update, err := b.tree.ProcessNodeInsertion(domtree.RawNode(event.Params))
			if err != nil {
				b.Logger.WithError(err).Warn("browserbridge: childNodeInserted")
				break
			}
			if update != nil && tagNameEquals(update.Node.ElementType, atom.Script) {
				// Mirrors the teacher's script-tag awareness in its page
				// rendering path; here it is purely informational, since
				// this tree is a read model, not something re-rendered.
				b.Logger.WithField("nodeId", update.Node.NodeID).Debug("browserbridge: mirrored a script element insertion")
			}

		case domChildNodeRemoved:
			if _, err := b.tree.ProcessNodeRemoval(domtree.RawNode(event.Params)); err != nil {
				b.Logger.WithError(err).Warn("browserbridge: childNodeRemoved")
			}

		case domAttributeModified:
			if _, err := b.tree.ProcessNodeAttributeModification(domtree.RawNode(event.Params)); err != nil {
				b.Logger.WithError(err).Warn("browserbridge: attributeModified")
			}

		case runtimeBindingCalled:
			b.handleBindingCalled(event.Params)
		}
	}
}

// handleBindingCalled decodes one forwarded raw event and runs it
// through the matching active container's handler. Malformed payloads
// are dropped, per spec §7's "the core must never throw into the
// browser event loop" — there is no browser event loop here, but the
// same defensiveness applies to the CDP event loop.
func (b *Bridge) handleBindingCalled(params devtools.Params) {
	name, _ := params.String("name")
	if name != forwardBindingName {
		return
	}
	payload, ok := params.String("payload")
	if !ok {
		return
	}
	ev, eventType, err := decodeForwardedEvent(payload, b.tree)
	if err != nil {
		b.Logger.WithError(err).Debug("browserbridge: dropping malformed forwarded event")
		return
	}
	if ev.Target == nil {
		return
	}

	container := b.contract.ContainerFor(ev.Target)
	if container == nil {
		return
	}

	decisions := b.contract.Handler(eventType, container)(ev)
	b.applyDecisions(ev, decisions)
}

// applyDecisions logs the engine's requested Decisions at debug level
// and applies none of them to the page: the forwarder snippet is
// one-way (its capture-phase listener never waits for a verdict before
// the real event finishes its own bubble), so there is no page-side
// event left to stop or prevent by the time Go decides.
func (b *Bridge) applyDecisions(ev jsaction.RawEvent, d jsaction.Decisions) {
	if !d.StopPropagation && !d.PreventDefault {
		return
	}
	b.Logger.WithFields(logrus.Fields{
		"stopPropagation": d.StopPropagation,
		"preventDefault":  d.PreventDefault,
	}).Debug("browserbridge: handler decision (informational; forwarder listener already ran in capture phase)")
}

// ApplyIOSBubblingWorkaround sets style.cursor=pointer on every active
// container root via DOM.setAttributeValue when the connected page's
// user agent matches an iPhone/iPad/iPod string (spec §4.7).
func (b *Bridge) ApplyIOSBubblingWorkaround() {
	if !isIOSUserAgent(b.userAgent) {
		return
	}
	dc := b.instance.Conn()
	for _, root := range b.contract.ActiveContainers() {
		if root.BackendNodeID == "" {
			continue
		}
		dc.InvokeMethod("DOM.setAttributeValue", devtools.Params{
			"nodeId": root.BackendNodeID,
			"name":   "style",
			"value":  "cursor:pointer",
		})
	}
}

func isIOSUserAgent(ua string) bool {
	for _, marker := range iosUserAgentMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// tagNameEquals uses golang.org/x/net/html/atom the same way the
// teacher's script-stripping code does, to compare a forwarded DOM
// node name against a known tag without allocating on every call.
func tagNameEquals(nodeName string, a atom.Atom) bool {
	return atom.Lookup([]byte(strings.ToLower(nodeName))) == a
}

// forwardedPayload is the JSON shape forwarderSnippet's send() builds.
type forwardedPayload struct {
	Type                string  `json:"type"`
	TargetBackendNodeID float64 `json:"targetBackendNodeId"`
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	Ctrl                bool    `json:"ctrl"`
	Meta                bool    `json:"meta"`
	Shift               bool    `json:"shift"`
	Alt                 bool    `json:"alt"`
	Button              int     `json:"button"`
	Key                 string  `json:"key"`
	DefaultPrevented    bool    `json:"defaultPrevented"`
	TargetTouches       int     `json:"targetTouches"`
	CustomType          string  `json:"customType"`
	HasCustomType       bool    `json:"hasCustomType"`
}

// decodeForwardedEvent turns one forwarded payload into a
// jsaction.RawEvent, resolving its target through the mirrored tree
// by backend node ID. The returned string is the raw DOM event type,
// for Contract.Handler's lookup; the same type is also set as the
// RawEvent's Type (the Contract's dispatch later sets ev.Type again
// from its eventType argument).
func decodeForwardedEvent(payload string, tree *domtree.Tree) (jsaction.RawEvent, string, error) {
	var p forwardedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return jsaction.RawEvent{}, "", errors.Wrap(err, "browserbridge: decoding forwarded event payload")
	}
	if p.Type == "" {
		return jsaction.RawEvent{}, "", errors.New("browserbridge: forwarded event missing a type")
	}

	var target *domtree.Node
	if p.TargetBackendNodeID != 0 {
		target, _ = tree.LookupBackend(strconv.Itoa(int(p.TargetBackendNodeID)))
	}

	ev := jsaction.RawEvent{
		Type:             p.Type,
		Target:           target,
		X:                p.X,
		Y:                p.Y,
		Ctrl:             p.Ctrl,
		Meta:             p.Meta,
		Shift:            p.Shift,
		Alt:              p.Alt,
		Button:           p.Button,
		Key:              p.Key,
		DefaultPrevented: p.DefaultPrevented,
		TargetTouches:    p.TargetTouches,
		CustomType:       p.CustomType,
		HasCustomType:    p.HasCustomType,
	}
	return ev, p.Type, nil
}
