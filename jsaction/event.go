package jsaction

import "github.com/anwerso/jsaction/domtree"

// RawEvent is the engine's abstraction of a DOM event: whatever
// delivers events (package browserbridge, or a test) constructs one
// of these from the real thing. It deliberately carries only the
// fields the engine's algorithms consult — spec §4.4's classifier,
// §4.5's fast-click machine, and §4.3's ancestor walk.
type RawEvent struct {
	Type   string // raw DOM event type: "click", "touchstart", "keydown", ...
	Target *domtree.Node

	// Path, when non-empty, is the event's composed propagation path
	// from target to (at least) the container, for event-path mode
	// (spec §4.3). Index 0 is the target itself.
	Path []*domtree.Node

	X, Y float64 // viewport coordinates, used by the fast-click machine

	Ctrl, Meta, Shift, Alt bool
	Button                 int // 0 = primary/left, 1 = middle, 2 = right

	Key string // for keydown/keypress: "Enter", "Space", etc.

	// RelatedTarget is the mouseover/mouseout event's relatedTarget,
	// used to emulate mouseenter/mouseleave (spec §4.4).
	RelatedTarget *domtree.Node

	DefaultPrevented bool

	// TargetTouches is len(event.targetTouches) for touch events; the
	// fast-click machine disables itself when more than one touch is
	// active (spec §9 open questions).
	TargetTouches int

	// CustomType is the inner `_type` carried by a CustomEvent's
	// detail payload (spec §4.4, §6). Empty for non-custom events.
	CustomType string
	HasCustomType bool

	// synthetic marks a click RawEvent the fast-click machine itself
	// produced, so the suppression sweep can recognize and let it
	// through rather than re-suppressing its own synthesis (spec §4.5
	// "tagged with a sentinel field").
	synthetic bool

	TimeStamp float64
}

// Modified reports whether the event carries a modifier key or was a
// non-primary-button click, per spec §4.4's click/clickmod split.
func (e RawEvent) Modified() bool {
	return e.Ctrl || e.Meta || e.Shift || e.Alt || e.Button != 0
}
