package jsaction

import (
	"math"
	"sync"
	"time"

	"github.com/anwerso/jsaction/domtree"
)

// Fast-click timing constants (spec §4.5, §9: "empirical ... treat as
// tunable constants, not contract").
const (
	fastClickPendingTimeout     = 400 * time.Millisecond
	fastClickMoveThresholdPx    = 4.0
	fastClickSuppressionWindow  = 800 * time.Millisecond
	fastClickSuppressionDistPx  = 4.0
)

type fastClickPhase int

const (
	fastClickIdle fastClickPhase = iota
	fastClickPending
	fastClickSuppressing
)

// fastClickState is the process-wide (per-Contract) record described
// in spec §3: at most one in-flight sequence; a new touchstart always
// resets prior state. Owning it per-Contract rather than as a package
// global is the spec §9 encapsulation this repository adopts.
type fastClickState struct {
	mu sync.Mutex

	phase fastClickPhase

	node     *domtree.Node
	x, y     float64
	timer    *time.Timer

	suppressTarget *domtree.Node
	suppressX      float64
	suppressY      float64
	suppressAt     time.Time
}

func newFastClickState() *fastClickState {
	return &fastClickState{phase: fastClickIdle}
}

// reset returns the state to IDLE, stopping any pending timer. Called
// with fc.mu already held.
func (fc *fastClickState) reset() {
	if fc.timer != nil {
		fc.timer.Stop()
		fc.timer = nil
	}
	fc.phase = fastClickIdle
	fc.node = nil
}

func manhattan(x0, y0, x1, y1 float64) float64 {
	return math.Abs(x1-x0) + math.Abs(y1-y0)
}

// eligibleForFastClick reports whether ev's target may start a
// fast-click sequence (spec §4.5 IDLE->PENDING guard): not a native
// form control, and bound to "click" but not directly to
// "touchstart"/"touchend" (an element that handles touch itself opts
// out of the synthetic-click machinery).
func (c *Contract) eligibleForFastClick(ev RawEvent) bool {
	if ev.Target == nil || fastClickIneligible[ev.Target.NodeName] {
		return false
	}
	if ev.TargetTouches > 1 {
		// Multi-touch disables the machine for this event (spec §9
		// open questions).
		return false
	}
	actions := c.actionsFor(ev.Target)
	_, hasClick := actions[eventTypeClick]
	_, hasTouchStart := actions[eventTypeTouchStart]
	_, hasTouchEnd := actions[eventTypeTouchEnd]
	return hasClick && !hasTouchStart && !hasTouchEnd
}

// onTouchStart implements the IDLE->PENDING transition (and the
// "new touchstart always resets" rule from any state). Returns true
// if the raw touchstart should be ignored by the normal resolution
// path (spec §4.3 step on ignore).
func (c *Contract) onTouchStart(ev RawEvent) (ignore bool) {
	fc := c.fastclick
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.reset()
	fc.suppressTarget = nil

	if !c.eligibleForFastClick(ev) {
		return false
	}

	fc.phase = fastClickPending
	fc.node = ev.Target
	fc.x, fc.y = ev.X, ev.Y
	fc.timer = time.AfterFunc(fastClickPendingTimeout, func() {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		if fc.phase == fastClickPending {
			fc.reset()
		}
	})
	return true
}

// onTouchMove implements PENDING's move-beyond-threshold transition
// back to IDLE.
func (c *Contract) onTouchMove(ev RawEvent) {
	fc := c.fastclick
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.phase != fastClickPending {
		return
	}
	if manhattan(fc.x, fc.y, ev.X, ev.Y) > fastClickMoveThresholdPx {
		fc.reset()
	}
}

// fastClickOutcome tells the delegated handler what to do after a
// touchend has been run through the state machine.
type fastClickOutcome struct {
	// Synthesize is set when a synthetic click should be built and
	// run through the normal resolution/dispatch path.
	Synthesize bool
	// SuppressRaw is set when the raw touchend itself must be
	// stopped (stopPropagation+preventDefault) because it completed a
	// fast-click sequence.
	SuppressRaw bool
}

// onTouchEnd implements PENDING's touchend transitions (spec §4.5
// table). now is injected so tests can control timing deterministically.
func (c *Contract) onTouchEnd(ev RawEvent, now time.Time) fastClickOutcome {
	fc := c.fastclick
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.phase != fastClickPending {
		return fastClickOutcome{}
	}

	if ev.Target != fc.node || ev.DefaultPrevented || manhattan(fc.x, fc.y, ev.X, ev.Y) > fastClickMoveThresholdPx {
		fc.reset()
		return fastClickOutcome{}
	}

	if fc.timer != nil {
		fc.timer.Stop()
		fc.timer = nil
	}
	fc.phase = fastClickSuppressing
	fc.suppressTarget = ev.Target
	fc.suppressX, fc.suppressY = ev.X, ev.Y
	fc.suppressAt = now
	return fastClickOutcome{Synthesize: true, SuppressRaw: true}
}

// shouldSuppressMouse implements the SUPPRESSING state's mouse-event
// table (spec §4.5). ev.synthetic events (the fast-click machine's
// own synthesized click) are always let through so the sweep doesn't
// suppress its own synthesis. A "click" mouse event that is
// suppressed also closes out the SUPPRESSING state.
func (c *Contract) shouldSuppressMouse(ev RawEvent, now time.Time) bool {
	if ev.synthetic {
		return false
	}
	fc := c.fastclick
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.phase != fastClickSuppressing {
		return false
	}

	elapsed := now.Sub(fc.suppressAt)
	near := ev.Target == fc.suppressTarget || manhattan(fc.suppressX, fc.suppressY, ev.X, ev.Y) <= fastClickSuppressionDistPx
	if elapsed > fastClickSuppressionWindow || !near {
		fc.reset()
		fc.suppressTarget = nil
		return false
	}

	if ev.Type == eventTypeClick {
		fc.reset()
		fc.suppressTarget = nil
	}
	return true
}
