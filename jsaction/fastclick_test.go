package jsaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestFastClickSynthesizesClick is spec §8 scenario 6: a touchstart/
// touchend pair within 400ms and 4px produces exactly one synthesized
// click.
func TestFastClickSynthesizesClick(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})

	ignore := c.onTouchStart(RawEvent{Target: target, X: 100, Y: 100})
	assert.True(t, ignore)

	outcome := c.onTouchEnd(RawEvent{Target: target, X: 101, Y: 101}, time.Now())
	assert.True(t, outcome.Synthesize)
	assert.True(t, outcome.SuppressRaw)
}

// TestFastClickAbortsOnMovement is spec §8 scenario 7.
func TestFastClickAbortsOnMovement(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})

	c.onTouchStart(RawEvent{Target: target, X: 100, Y: 100})
	c.onTouchMove(RawEvent{Target: target, X: 110, Y: 110})
	assert.Equal(t, fastClickIdle, c.fastclick.phase)

	outcome := c.onTouchEnd(RawEvent{Target: target, X: 110, Y: 110}, time.Now())
	assert.False(t, outcome.Synthesize)
}

func TestFastClickIneligibleOnFormControl(t *testing.T) {
	c := New(DefaultOptions())
	input := nodeWithAttrs("input", map[string]string{"jsaction": "click:tap"})
	ignore := c.onTouchStart(RawEvent{Target: input, X: 0, Y: 0})
	assert.False(t, ignore)
	assert.Equal(t, fastClickIdle, c.fastclick.phase)
}

func TestFastClickIneligibleWhenElementHandlesTouchDirectly(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("div", map[string]string{"jsaction": "click:tap;touchstart:ownTouch"})
	ignore := c.onTouchStart(RawEvent{Target: target, X: 0, Y: 0})
	assert.False(t, ignore)
}

func TestFastClickMultiTouchDisablesMachine(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	ignore := c.onTouchStart(RawEvent{Target: target, X: 0, Y: 0, TargetTouches: 2})
	assert.False(t, ignore)
}

func TestFastClickNewTouchstartResetsPriorState(t *testing.T) {
	c := New(DefaultOptions())
	first := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	second := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap2"})

	c.onTouchStart(RawEvent{Target: first, X: 0, Y: 0})
	assert.Equal(t, first, c.fastclick.node)

	c.onTouchStart(RawEvent{Target: second, X: 5, Y: 5})
	assert.Equal(t, second, c.fastclick.node)
}

func TestFastClickTimeoutAgesOutPending(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	c.onTouchStart(RawEvent{Target: target, X: 0, Y: 0})

	c.fastclick.mu.Lock()
	c.fastclick.reset()
	c.fastclick.mu.Unlock()

	outcome := c.onTouchEnd(RawEvent{Target: target, X: 0, Y: 0}, time.Now())
	assert.False(t, outcome.Synthesize)
}

func TestShouldSuppressMouseWithinWindowAndDistance(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	base := time.Now()

	c.onTouchStart(RawEvent{Target: target, X: 100, Y: 100})
	outcome := c.onTouchEnd(RawEvent{Target: target, X: 100, Y: 100}, base)
	assert.True(t, outcome.Synthesize)

	assert.True(t, c.shouldSuppressMouse(RawEvent{Type: eventTypeMouseDown, Target: target, X: 100, Y: 100}, base.Add(10*time.Millisecond)))
	assert.True(t, c.shouldSuppressMouse(RawEvent{Type: eventTypeMouseUp, Target: target, X: 100, Y: 100}, base.Add(20*time.Millisecond)))
	assert.True(t, c.shouldSuppressMouse(RawEvent{Type: eventTypeClick, Target: target, X: 100, Y: 100}, base.Add(30*time.Millisecond)))

	// SUPPRESSING closed out by the click above; a later mousedown is let through.
	assert.False(t, c.shouldSuppressMouse(RawEvent{Type: eventTypeMouseDown, Target: target, X: 100, Y: 100}, base.Add(40*time.Millisecond)))
}

func TestShouldSuppressMouseExpiresAfterWindow(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	base := time.Now()

	c.onTouchStart(RawEvent{Target: target, X: 100, Y: 100})
	c.onTouchEnd(RawEvent{Target: target, X: 100, Y: 100}, base)

	assert.False(t, c.shouldSuppressMouse(RawEvent{Type: eventTypeMouseDown, Target: target, X: 100, Y: 100}, base.Add(900*time.Millisecond)))
}

func TestShouldSuppressMouseLetsSyntheticEventThrough(t *testing.T) {
	c := New(DefaultOptions())
	target := nodeWithAttrs("a", map[string]string{"jsaction": "click:tap"})
	base := time.Now()

	c.onTouchStart(RawEvent{Target: target, X: 100, Y: 100})
	c.onTouchEnd(RawEvent{Target: target, X: 100, Y: 100}, base)

	ev := RawEvent{Type: eventTypeClick, Target: target, X: 100, Y: 100}
	ev.synthetic = true
	assert.False(t, c.shouldSuppressMouse(ev, base.Add(10*time.Millisecond)))
}
