package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// RequestKind partitions the id space by request category. Each kind
// owns a disjoint numeric range so a captured log line identifies the
// operation at a glance and two categories can never collide.
type RequestKind int

// Request categories.
const (
	KindQuote RequestKind = iota
	KindChain
	KindContract
	KindRoll
	KindOrder
	numKinds
)

// kindSpan is the width of each kind's id range. A session would need
// ten million in-flight allocations of one kind to wrap.
const kindSpan = 10_000_000

func (k RequestKind) String() string {
	switch k {
	case KindQuote:
		return "quote"
	case KindChain:
		return "chain"
	case KindContract:
		return "contract"
	case KindRoll:
		return "roll"
	case KindOrder:
		return "order"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k RequestKind) base() int64 {
	return int64(k+1) * kindSpan
}

// kindOf recovers the category from an issued id.
func kindOf(id int64) RequestKind {
	return RequestKind(id/kindSpan - 1)
}

// Handler consumes events routed to one pending request. Handlers run
// on the dispatch goroutine and must not block; hand data off through a
// buffered channel or a guarded map and return.
type Handler func(Event)

// pendingRequest tracks one in-flight operation. Owned exclusively by
// the Correlator; destroyed on completion or timeout, whichever first.
type pendingRequest struct {
	id        int64
	kind      RequestKind
	createdAt time.Time
	handler   Handler
	timer     *time.Timer
}

// Correlator issues request ids and routes inbound events to whichever
// pending operation owns them. Completion is single-fire: once an id is
// completed or timed out it is gone, and completing it again is a no-op.
// Callers that need to wait create their own channel and send to it from
// the handler; the correlator never blocks on delivery.
type Correlator struct {
	logger *log.Logger

	mu        sync.Mutex
	pending   map[int64]*pendingRequest
	next      [numKinds]int64
	broadcast []Handler
}

// NewCorrelator creates a correlator. A nil logger falls back to a
// stderr logger.
func NewCorrelator(logger *log.Logger) *Correlator {
	if logger == nil {
		logger = log.New(os.Stderr, "gateway: ", log.LstdFlags)
	}
	return &Correlator{
		logger:  logger,
		pending: make(map[int64]*pendingRequest),
	}
}

// NextID returns the next id in the kind's range. Ids are strictly
// increasing within a kind and wrap inside their own range, never into a
// neighbor's.
func (c *Correlator) NextID(kind RequestKind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next[kind] + 1
	if n >= kindSpan {
		n = 1
	}
	c.next[kind] = n
	return kind.base() + n
}

// Register attaches a handler to an issued id. Every registration must
// carry a positive timeout: when it expires before Complete, the
// correlator removes the entry and delivers a synthesized ErrorEvent
// with CodeLocalTimeout to the handler, so a silent gateway can never
// leak a permanently pending operation.
func (c *Correlator) Register(id int64, timeout time.Duration, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %d: handler is nil", id)
	}
	if timeout <= 0 {
		return fmt.Errorf("register %d: timeout must be positive, got %s", id, timeout)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return fmt.Errorf("register %d: id already registered", id)
	}
	p := &pendingRequest{
		id:        id,
		kind:      kindOf(id),
		createdAt: time.Now(),
		handler:   h,
	}
	p.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	c.pending[id] = p
	return nil
}

// Complete removes the pending entry for id and stops its deadline
// timer. Returns false when the id was already completed or timed out;
// that is a normal race, not an error.
func (c *Correlator) Complete(id int64) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	return true
}

// expire fires when a registration's deadline passes. It removes the
// entry first, then notifies the handler, so the notification itself
// observes the completed state.
func (c *Correlator) expire(id int64, timeout time.Duration) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.logger.Printf("%s request %d timed out after %s", p.kind, id, timeout)
	p.handler(ErrorEvent{ID: id, Code: CodeLocalTimeout, Msg: "deadline exceeded"})
}

// Subscribe registers a handler for connection-scoped events (managed
// accounts, aliases, connectivity notices). Subscribers are never
// removed; wire them once at startup.
func (c *Correlator) Subscribe(h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.broadcast = append(c.broadcast, h)
	c.mu.Unlock()
}

// PendingCount reports how many operations are currently in flight.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run drains the event stream and routes each event until ctx is
// cancelled or the stream closes. Pending requests left behind by a
// closed stream are reaped by their own deadline timers.
func (c *Correlator) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.logger.Printf("gateway event stream closed")
				return
			}
			c.dispatch(ev)
		}
	}
}

func (c *Correlator) dispatch(ev Event) {
	id := ev.ReqID()
	if id <= 0 {
		if errEv, isErr := ev.(ErrorEvent); isErr {
			c.logger.Printf("gateway notice %d: %s", errEv.Code, errEv.Msg)
		}
		c.mu.Lock()
		subs := append([]Handler(nil), c.broadcast...)
		c.mu.Unlock()
		for _, h := range subs {
			h(ev)
		}
		return
	}

	c.mu.Lock()
	p := c.pending[id]
	c.mu.Unlock()
	if p == nil {
		// Ticks routinely trail a completed or cancelled request while
		// the cancel crosses the wire. Drop them silently.
		return
	}
	p.handler(ev)
}
