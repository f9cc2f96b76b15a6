package jsaction

import "github.com/anwerso/jsaction/domtree"

// classification is the classifier's tagged output (spec §9,
// "Polymorphism over event kinds"): which ActionMap keys to try, what
// the resulting Record's EventType should be once resolved, whether
// resolution must be aborted outright (ignore), and whether
// PreventDefault is mandatory independent of whether an action
// matched (the Space-key/native-control case, spec §4.4).
type classification struct {
	matchKeys      []string
	finalEventType string
	ignore         bool
	preventDefault bool
}

// classify implements spec §4.4: map a raw DOM event to the semantic
// event type(s) used to look up an ActionMap entry. It consults the
// event's own fields only — touch-sequence state lives in fastclick.go
// and is applied by the delegated handler before classify is reached
// for touch-derived clicks.
func (c *Contract) classify(ev RawEvent) classification {
	switch ev.Type {
	case eventTypeClick:
		if ev.Modified() {
			return classification{matchKeys: []string{eventTypeClickMod}, finalEventType: eventTypeClickMod}
		}
		// A real click matches a "click" binding first; an element
		// that binds only "clickonly" still receives it (spec §4.4,
		// §4.5's FROM IDLE transition guard references this same
		// pair of keys).
		return classification{matchKeys: []string{eventTypeClick, eventTypeClickOnly}, finalEventType: eventTypeClick}

	case eventTypeKeyDown:
		if !c.Options.A11yClickSupport {
			return classification{ignore: true}
		}
		if !isActivationKey(ev.Key) {
			return classification{ignore: true}
		}
		if ev.Target != nil && !isFocusableNonForm(ev.Target) {
			return classification{ignore: true}
		}
		// clickkey is internal only (spec §6): a keyboard activation
		// is matched solely against the element's "click" binding
		// (never "clickonly", per spec §4.4) and, once resolved, is
		// indistinguishable from a real click.
		preventDefault := ev.Key == "Space" || ev.Key == " " || (ev.Target != nil && focusableFormControls[ev.Target.NodeName])
		return classification{matchKeys: []string{eventTypeClick}, finalEventType: eventTypeClick, preventDefault: preventDefault}

	case eventTypeMouseOver:
		if !c.Options.MouseSpecialSupport {
			return classification{matchKeys: []string{eventTypeMouseOver}, finalEventType: eventTypeMouseOver}
		}
		if relatedTargetLeftSubtree(ev) {
			return classification{matchKeys: []string{eventTypeMouseEnter}, finalEventType: eventTypeMouseEnter}
		}
		return classification{ignore: true}

	case eventTypeMouseOut:
		if !c.Options.MouseSpecialSupport {
			return classification{matchKeys: []string{eventTypeMouseOut}, finalEventType: eventTypeMouseOut}
		}
		if relatedTargetLeftSubtree(ev) {
			return classification{matchKeys: []string{eventTypeMouseLeave}, finalEventType: eventTypeMouseLeave}
		}
		return classification{ignore: true}

	case eventTypeCustom:
		if !c.Options.CustomEventSupport || !ev.HasCustomType || ev.CustomType == "" {
			// Spec §4.4/§7: a custom event without an inner _type is
			// silently dropped.
			return classification{ignore: true}
		}
		return classification{matchKeys: []string{ev.CustomType}, finalEventType: ev.CustomType}

	default:
		return classification{matchKeys: []string{ev.Type}, finalEventType: ev.Type}
	}
}

func isActivationKey(key string) bool {
	return key == "Enter" || key == "Space" || key == " "
}

func isFocusableNonForm(n *domtree.Node) bool {
	if focusableFormControls[n.NodeName] {
		return false
	}
	if n.NodeName == "a" {
		_, hasHref := n.Attr("href")
		return hasHref
	}
	if _, ok := n.Attr("tabindex"); ok {
		return true
	}
	return false
}

// relatedTargetLeftSubtree approximates the browser's relatedTarget
// check used to emulate mouseenter/mouseleave from mouseover/mouseout
// (spec §4.4): true when the related element is not a descendant of
// the event's target — i.e. the pointer actually crossed the
// target's boundary rather than moving between its children.
func relatedTargetLeftSubtree(ev RawEvent) bool {
	related := ev.RelatedTarget
	if related == nil {
		return true
	}
	for n := related; n != nil; n = parentFor(n) {
		if n == ev.Target {
			return false
		}
	}
	return true
}
