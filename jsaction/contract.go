package jsaction

import (
	"sync"
	"time"

	"github.com/anwerso/jsaction/domtree"
	"github.com/sirupsen/logrus"
)

// Options mirrors spec §6's compile-time configuration flags as
// runtime struct fields — Go has no preprocessor to elide a disabled
// subsystem's code, so disabling a flag here instead skips wiring
// that subsystem's extra listeners (see AddEvent) and short-circuits
// its classification branch (see classify.go). This tradeoff is
// recorded as an Open Question resolution in DESIGN.md.
type Options struct {
	UseEventPath        bool
	JSNamespaceSupport  bool
	A11yClickSupport    bool
	MouseSpecialSupport bool
	FastClickSupport    bool
	StopPropagation     bool
	CustomEventSupport  bool

	Logger logrus.FieldLogger
}

// DefaultOptions returns the options the source system ships with:
// stop-propagation on, everything else on except event-path mode
// (DOM-parent mode is the default per spec §4.3).
func DefaultOptions() Options {
	return Options{
		JSNamespaceSupport:  true,
		A11yClickSupport:    true,
		MouseSpecialSupport: true,
		FastClickSupport:    true,
		StopPropagation:     true,
		CustomEventSupport:  true,
	}
}

// handlerFunc is what Contract.Handler returns: the C6 delegated
// handler for one semantic event type, bound to a specific container.
type handlerFunc func(ev RawEvent) Decisions

// Decisions is what the delegated handler asks the transport (package
// browserbridge) to apply back to the real DOM event — the Go
// process never touches the browser directly, so these are requests,
// not actions (spec §4.6 steps 5-7).
type Decisions struct {
	StopPropagation      bool
	PreventDefault       bool
	PreventMouseEvents   bool // attached to touchend (spec §4.6 step 7)
}

// Contract is the C8 facade: one independent instance per document
// (or per test), each with its own caches, fast-click state, and
// event queue — exactly the "multiple independent contracts in the
// same runtime" spec §9 invites.
type Contract struct {
	Options
	DefaultEventType string

	attrs      *attrCache
	ns         *nsCache
	registry   *registry
	fastclick  *fastClickState
	queue      *eventQueue

	mu          sync.Mutex
	dispatcher  Dispatcher
	eventTypes  map[string]bool
	installers  map[string]func(*container)

	now func() time.Time // injected for deterministic tests
}

// New constructs a Contract. A zero Options produces every subsystem
// disabled; use DefaultOptions() for the source system's defaults.
func New(opts Options) *Contract {
	c := &Contract{
		Options:          opts,
		DefaultEventType: eventTypeClick,
		attrs:            newAttrCache(),
		ns:               newNSCache(),
		registry:         newRegistry(),
		fastclick:        newFastClickState(),
		queue:            newEventQueue(),
		eventTypes:       make(map[string]bool),
		installers:       make(map[string]func(*container)),
		now:              time.Now,
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// AddEvent registers a semantic event type for delegation, per spec
// §4.8. Idempotent. Registering "click" transitively registers
// "keydown" (when A11yClickSupport is on) and "touchstart" /
// "touchmove" / "touchend" (when FastClickSupport is on), matching
// the source system's bundling.
func (c *Contract) AddEvent(name string) {
	c.mu.Lock()
	if c.eventTypes[name] {
		c.mu.Unlock()
		return
	}
	c.eventTypes[name] = true
	installer := func(ct *container) {
		ct.handlers = append(ct.handlers, installedHandler{eventType: name})
	}
	c.installers[name] = installer
	c.mu.Unlock()

	for _, ct := range c.registry.containers() {
		if ct.active {
			installer(ct)
		}
	}

	if name == eventTypeClick {
		if c.A11yClickSupport {
			c.AddEvent(eventTypeKeyDown)
		}
		if c.FastClickSupport {
			c.AddEvent(eventTypeTouchStart)
			c.AddEvent(eventTypeTouchEnd)
			c.AddEvent(eventTypeTouchMove)
		}
	}
}

// Handler returns the installed listener closure for name, bound to
// container, for reuse by replay code (spec §4.8). browserbridge
// calls the returned func for every forwarded raw event of that type
// on that container.
func (c *Contract) Handler(name string, container *domtree.Node) handlerFunc {
	return func(ev RawEvent) Decisions {
		return c.dispatch(container, name, ev)
	}
}

// ActiveContainers returns the roots currently carrying handlers, for
// browserbridge to know which forwarded events it should run through
// Handler at all (spec §4.7: nested containers carry no listeners
// when stop-propagation is off).
func (c *Contract) ActiveContainers() []*domtree.Node {
	var out []*domtree.Node
	for _, ct := range c.registry.containers() {
		if ct.active {
			out = append(out, ct.root)
		}
	}
	return out
}

// ContainerFor returns the nearest active container that is target or
// an ancestor of target, or nil if target is not inside any active
// container. browserbridge uses this to route a forwarded RawEvent to
// the right Handler.
func (c *Contract) ContainerFor(target *domtree.Node) *domtree.Node {
	for n := target; n != nil; n = parentFor(n) {
		c.registry.mu.RLock()
		ct, ok := c.registry.byRoot[n]
		c.registry.mu.RUnlock()
		if ok && ct.active {
			return n
		}
	}
	return nil
}

// EventTypes returns the semantic event types currently registered
// via AddEvent, for browserbridge to know which raw DOM events to
// enable forwarding for.
func (c *Contract) EventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.eventTypes))
	for t := range c.eventTypes {
		out = append(out, t)
	}
	return out
}

// AddContainer registers root as a container (spec §4.7/§4.8).
func (c *Contract) AddContainer(root *domtree.Node) ContainerHandle {
	c.registry.add(root)
	active, nested := c.registry.repartition(c.StopPropagation)
	c.installAll(active)
	c.uninstallAll(nested)
	return ContainerHandle{root: root}
}

// RemoveContainer uninstalls root's handlers and repartitions the
// remaining containers (spec §4.8).
func (c *Contract) RemoveContainer(h ContainerHandle) {
	ct := c.registry.remove(h.root)
	if ct == nil {
		return
	}
	ct.handlers = nil
	active, nested := c.registry.repartition(c.StopPropagation)
	c.installAll(active)
	c.uninstallAll(nested)
}

func (c *Contract) installAll(cts []*container) {
	c.mu.Lock()
	installers := make([]func(*container), 0, len(c.installers))
	for _, fn := range c.installers {
		installers = append(installers, fn)
	}
	c.mu.Unlock()
	for _, ct := range cts {
		ct.handlers = nil
		for _, install := range installers {
			install(ct)
		}
	}
}

func (c *Contract) uninstallAll(cts []*container) {
	for _, ct := range cts {
		ct.handlers = nil
	}
}

// DispatchTo attaches the dispatcher (spec §4.8, §6). If the queue is
// non-empty it is delivered as a single batch, with no isGlobal flag;
// every subsequent event is delivered individually.
func (c *Contract) DispatchTo(fn Dispatcher) {
	c.mu.Lock()
	c.dispatcher = fn
	c.mu.Unlock()

	if queued, _ := c.queue.drain(); len(queued) > 0 {
		fn(queued, false, true)
	}
}
