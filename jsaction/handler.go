package jsaction

import (
	"github.com/anwerso/jsaction/domtree"
)

// dispatch implements C6, the delegated handler (spec §4.6), for one
// (eventType, container) pair. It is what Contract.Handler closes
// over and what AddEvent's installer records for replay across
// containers.
func (c *Contract) dispatch(container *domtree.Node, eventType string, ev RawEvent) Decisions {
	ev.Type = eventType

	switch eventType {
	case eventTypeTouchStart:
		// spec §4.5 IDLE->PENDING: a fast-click-eligible touchstart
		// aborts its own ancestor walk ("return ignore from the
		// classifier", spec §4.3) rather than resolving an action.
		ignore := c.onTouchStart(ev)
		class := classification{matchKeys: []string{eventTypeTouchStart}, finalEventType: eventTypeTouchStart, ignore: ignore}
		return c.runWithClassification(container, ev, class)

	case eventTypeTouchMove:
		c.onTouchMove(ev)
		return Decisions{}

	case eventTypeTouchEnd:
		outcome := c.onTouchEnd(ev, c.now())
		if outcome.Synthesize {
			synth := ev
			synth.Type = eventTypeClick
			synth.synthetic = true
			c.runDelegated(container, synth)
		}
		var d Decisions
		if outcome.SuppressRaw {
			// spec §4.5 PENDING->SUPPRESSING: stopPropagation+
			// preventDefault on the raw touchend itself.
			d = Decisions{StopPropagation: true, PreventDefault: true}
		} else {
			d = c.runDelegated(container, ev)
		}
		d.PreventMouseEvents = true // spec §4.6 step 7: always attached on touchend
		return d

	case eventTypeMouseDown, eventTypeMouseUp, eventTypeClick:
		if c.Options.FastClickSupport && c.shouldSuppressMouse(ev, c.now()) {
			// spec §4.5 SUPPRESSING table: stop the emulated mouse
			// cascade that follows a synthesized fast click.
			return Decisions{StopPropagation: true, PreventDefault: true}
		}
	}

	return c.runDelegated(container, ev)
}

// runDelegated classifies ev and runs it through the common
// resolve/emit/decide path (spec §4.6 steps 1-7).
func (c *Contract) runDelegated(container *domtree.Node, ev RawEvent) Decisions {
	return c.runWithClassification(container, ev, c.classify(ev))
}

func (c *Contract) runWithClassification(container *domtree.Node, ev RawEvent, class classification) Decisions {
	if class.ignore {
		return Decisions{}
	}

	action, actionElement, matchedKey := c.resolveAction(ev, class.matchKeys, container, false)

	eventType := class.finalEventType
	if actionElement != nil && matchedKey != "" {
		// The matched ActionMap key, not the classifier's a-priori type,
		// is what the record carries (spec §4.4/§6): a click resolved
		// via a "clickonly" binding is reported as "clickonly".
		eventType = matchedKey
	}

	rec := Record{
		EventType:     eventType,
		Raw:           ev,
		TargetElement: ev.Target,
		Action:        action,
		ActionElement: actionElement,
		TimeStamp:     c.timeStamp(ev),
	}

	c.emit(rec)

	d := Decisions{PreventDefault: class.preventDefault}

	if actionElement != nil && (class.finalEventType == eventTypeClick || class.finalEventType == eventTypeClickMod) && actionElement.NodeName == "a" {
		// spec §4.6 step 6: suppress navigation on an anchor bound to
		// the matched click.
		d.PreventDefault = true
	}

	if c.StopPropagation && !geckoFocusException(rec.EventType, ev.Target) {
		d.StopPropagation = true
	}

	return d
}

// geckoFocusException implements spec §4.6 step 5's one exception to
// always stopping propagation: Gecko + focus event + input/textarea,
// which breaks the caret. The browser engine is not checked: the
// exception applies to every focus/focusin event whose target is an
// input or textarea, whatever browser forwarded it.
func geckoFocusException(eventType string, target *domtree.Node) bool {
	if eventType != eventTypeFocus && eventType != eventTypeFocusIn {
		return false
	}
	if target == nil {
		return false
	}
	return target.NodeName == "input" || target.NodeName == "textarea"
}

// timeStamp captures the Event Record's timestamp once at record
// construction (spec §3, §9 open question resolution) rather than
// trusting the raw event's own, possibly broken-on-synthetic-events,
// timestamp, unless the caller already supplied one.
func (c *Contract) timeStamp(ev RawEvent) float64 {
	if ev.TimeStamp != 0 {
		return ev.TimeStamp
	}
	return float64(c.now().UnixNano()) / 1e6
}

// emit implements spec §4.6 steps 2-4: emit the global pre-dispatch
// record first when a dispatcher is attached, then the matched
// record either live or, absent a dispatcher, onto the queue.
func (c *Contract) emit(rec Record) {
	c.mu.Lock()
	dispatcher := c.dispatcher
	c.mu.Unlock()

	if dispatcher != nil {
		dispatcher([]Record{rec.global()}, true, false)
		if rec.ActionElement != nil {
			dispatcher([]Record{rec}, false, false)
		}
		return
	}

	if rec.ActionElement != nil {
		c.queue.enqueue(rec)
	}
}
