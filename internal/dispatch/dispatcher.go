// Package dispatch moves inbound frames from the connection goroutines to the
// simulation goroutine and routes each decoded packet to its handler.
package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/core"
	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
)

var ErrDuplicateHandler = errors.New("a handler is already registered for this tag")

// Handler processes one packet received from origin.
type Handler func(p packets.Packet, origin *session.Conn)

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Registry *packets.Registry
	Logger   logrus.FieldLogger
	Metrics  *core.Metrics
	// Trace, if set, sees every decoded packet before its handler runs.
	Trace func(origin *session.Conn, r packets.Resolved)
}

// item is either a frame payload to decode or a control closure.
type item struct {
	payload []byte
	origin  *session.Conn
	fn      func()
}

// Dispatcher is a multi-producer, single-consumer queue of inbound frames.
// Enqueue and Post may be called from any goroutine; handlers are registered
// before the first Drain and Drain is only ever called from the simulation goroutine.
type Dispatcher struct {
	registry *packets.Registry
	logger   logrus.FieldLogger
	metrics  *core.Metrics
	trace    func(*session.Conn, packets.Resolved)

	handlers map[packets.Tag]Handler
	draining atomic.Bool

	mu      sync.Mutex
	queue   []item
	pending map[*session.Conn]int
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		trace:    cfg.Trace,
		handlers: make(map[packets.Tag]Handler),
		pending:  make(map[*session.Conn]int),
	}
}

// OnPacket registers h for every packet arriving under tag.
func (d *Dispatcher) OnPacket(tag packets.Tag, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for tag %d", tag)
	}
	if _, ok := d.handlers[tag]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateHandler, tag)
	}
	d.handlers[tag] = h
	return nil
}

// Handle registers fn for the packet type T, looking its tag up in the
// dispatcher's registry. T must be the pointer type the registry decodes to.
func Handle[T packets.Packet](d *Dispatcher, fn func(T, *session.Conn)) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	tag, ok := d.registry.TagOf(typ)
	if !ok {
		return fmt.Errorf("%w: %v", packets.ErrUnregisteredType, typ)
	}
	return d.OnPacket(tag, func(p packets.Packet, origin *session.Conn) {
		fn(p.(T), origin)
	})
}

// Enqueue queues a frame payload received from origin. It never blocks on
// processing and the queue is unbounded.
func (d *Dispatcher) Enqueue(payload []byte, origin *session.Conn) {
	d.push(item{payload: payload, origin: origin})
}

// Post queues fn to run on the simulation goroutine in order with the packets
// already queued from origin.
func (d *Dispatcher) Post(origin *session.Conn, fn func()) {
	d.push(item{origin: origin, fn: fn})
}

func (d *Dispatcher) push(it item) {
	d.mu.Lock()
	d.queue = append(d.queue, it)
	d.pending[it.origin]++
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.SetQueueDepth(depth)
}

// Pending returns the number of queued items not yet processed.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// PendingFrom returns the number of items from c that have been queued but not
// yet processed, including any in the batch currently being drained.
func (d *Dispatcher) PendingFrom(c *session.Conn) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending[c]
}

// Drain processes every item that was queued when it was called and returns
// how many there were. Items queued while it runs wait for the next call.
func (d *Dispatcher) Drain() int {
	if !d.draining.CompareAndSwap(false, true) {
		d.logger.Errorf("[DISPATCH] refusing reentrant Drain")
		return 0
	}
	defer d.draining.Store(false)

	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()
	d.metrics.SetQueueDepth(0)

	for _, it := range batch {
		if it.fn != nil {
			d.runControl(it)
		} else {
			d.dispatchFrame(it)
		}
		d.done(it.origin)
	}
	return len(batch)
}

func (d *Dispatcher) done(origin *session.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[origin]--; d.pending[origin] <= 0 {
		delete(d.pending, origin)
	}
}

func (d *Dispatcher) runControl(it item) {
	defer d.recoverHandler(it.origin, "control function")
	it.fn()
}

func (d *Dispatcher) dispatchFrame(it item) {
	decoded := d.registry.DecodeFrame(it.payload)

	for _, err := range decoded.Dropped {
		reason := "decode"
		if errors.Is(err, packets.ErrUnknownTag) {
			reason = "unknown_tag"
		}
		d.metrics.PacketDropped(reason)
		d.logger.Warnf("[DISPATCH] dropped packet from %s: %v", it.origin, err)
	}
	if decoded.Trailing > 0 {
		d.logger.Debugf("[DISPATCH] ignored %d trailing bytes in frame from %s", decoded.Trailing, it.origin)
	}

	for _, r := range decoded.Packets {
		d.dispatchPacket(r, it.origin)
	}
}

func (d *Dispatcher) dispatchPacket(r packets.Resolved, origin *session.Conn) {
	if d.trace != nil {
		d.trace(origin, r)
	}

	h, ok := d.handlers[r.Tag]
	if !ok {
		d.metrics.PacketDropped("no_handler")
		d.logger.Debugf("[DISPATCH] no handler for %s (tag %d) from %s", r.Name, r.Tag, origin)
		return
	}

	defer d.recoverHandler(origin, r.Name)
	h(r.Packet, origin)
	d.metrics.PacketDispatched(r.Name)
}

// recoverHandler keeps a panicking handler from taking down the simulation goroutine.
func (d *Dispatcher) recoverHandler(origin *session.Conn, what string) {
	if err := recover(); err != nil {
		d.metrics.PacketDropped("panic")
		d.logger.Errorf("[DISPATCH] panic handling %s from %s: error=%v, trace: %s",
			what, origin, err, debug.Stack())
	}
}
