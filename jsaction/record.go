// Package jsaction implements the declarative event-delegation
// contract: parsing jsaction attributes, resolving namespaces,
// walking ancestors to find a bound action, classifying raw DOM
// events into semantic types, synthesizing fast clicks from touch
// sequences, and queueing or dispatching the resulting Event Records.
//
// The package never touches a browser directly. It operates on
// *domtree.Node and RawEvent values, so it is fully testable without
// Chrome; package browserbridge is what feeds it real events.
package jsaction

import "github.com/anwerso/jsaction/domtree"

// Record is the structured value the engine produces for each
// resolved (or unresolved) event, handed off to a Dispatcher.
type Record struct {
	EventType     string // semantic type, e.g. "click", "clickmod"
	Raw           RawEvent
	TargetElement *domtree.Node
	Action        string        // resolved action name; "" if none
	ActionElement *domtree.Node // ancestor bearing the action; nil if none
	TimeStamp     float64       // captured once at record construction
}

// global returns a copy of r suitable for the global pre-dispatch
// pass: action and actionElement cleared, and clickonly rewritten
// back to click so dispatch-wide listeners see the DOM's own idea of
// the event type rather than the engine's internal refinement.
func (r Record) global() Record {
	g := r
	g.Action = ""
	g.ActionElement = nil
	if g.EventType == eventTypeClickOnly {
		g.EventType = eventTypeClick
	}
	return g
}

// Dispatcher receives Event Records. isGlobal is true only for the
// pre-dispatch copy described in spec §4.6 step 3. isBatch is true
// only for the initial queued-records replay on attach (spec §6); a
// dispatcher must not infer batch-vs-live framing from len(recs), since
// a real initial batch can legitimately hold exactly one record.
type Dispatcher func(recs []Record, isGlobal, isBatch bool)
