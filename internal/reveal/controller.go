// Package reveal paces how many messages of a session a viewer sees.
//
// Opening a session replays its history one message at a time (bulk mode).
// Once caught up, or once the user submits, new messages appear immediately
// (live mode).
package reveal

import (
	"sync"
	"time"
)

// DefaultBulkDelay is the pause between messages while catching up.
const DefaultBulkDelay = 20 * time.Millisecond

// Scroll is the scroll behavior a step asks the viewer to use.
type Scroll string

const (
	ScrollInstant Scroll = "instant"
	ScrollSmooth  Scroll = "smooth"
)

// Step reports one increment of the visible count.
type Step struct {
	SessionID string `json:"session_id"`
	Visible   int    `json:"visible"`
	Total     int    `json:"total"`
	Scroll    Scroll `json:"scroll"`
}

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Controller is the cursor state machine for one viewer.
type Controller struct {
	emit      func(Step)
	afterFunc AfterFunc
	bulkDelay time.Duration

	mu        sync.Mutex
	sessionID string
	visible   int
	total     int
	live      bool
	timer     Timer
	gen       uint64
	stopped   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithBulkDelay sets the catch-up delay.
func WithBulkDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.bulkDelay = d
		}
	}
}

// WithAfterFunc replaces the timer source.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Controller) { c.afterFunc = f }
}

// New creates a controller that reports every increment to emit. emit is
// called from timer goroutines, one call at a time, in order.
func New(emit func(Step), opts ...Option) *Controller {
	c := &Controller{
		emit:      emit,
		afterFunc: stdAfterFunc,
		bulkDelay: DefaultBulkDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// View switches to a session with total messages and replays it from zero.
func (c *Controller) View(sessionID string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	c.sessionID = sessionID
	c.visible = 0
	c.total = max(total, 0)
	// An empty session is caught up from the start.
	c.live = c.visible >= c.total
	c.scheduleLocked()
}

// SetTotal reports the current message count. Only a change has an effect.
func (c *Controller) SetTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total = max(total, 0)
	if total == c.total {
		return
	}
	c.total = total
	if c.visible > total {
		c.visible = total
	}
	c.scheduleLocked()
}

// Submit switches to live mode so the user's own message shows at once.
func (c *Controller) Submit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live {
		return
	}
	c.live = true
	if c.timer != nil {
		// Reschedule the pending bulk step with the live delay.
		c.cancelLocked()
		c.scheduleLocked()
	}
}

// State returns the session, visible count, total and mode.
func (c *Controller) State() (sessionID string, visible, total int, live bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.visible, c.total, c.live
}

// Stop cancels pending work. The controller ignores later calls.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.stopped = true
}

func (c *Controller) cancelLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) scheduleLocked() {
	if c.stopped || c.timer != nil || c.visible >= c.total {
		return
	}
	delay := c.bulkDelay
	if c.live {
		delay = 0
	}
	gen := c.gen
	c.timer = c.afterFunc(delay, func() { c.tick(gen) })
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.visible >= c.total {
		c.mu.Unlock()
		return
	}

	scroll := ScrollInstant
	if c.live {
		scroll = ScrollSmooth
	}
	c.visible++
	step := Step{SessionID: c.sessionID, Visible: c.visible, Total: c.total, Scroll: scroll}
	if c.visible >= c.total {
		c.live = true
	}
	// Hold off the next increment until this one is delivered.
	c.timer = pendingEmit{}
	c.mu.Unlock()

	if c.emit != nil {
		c.emit(step)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.timer = nil
	c.scheduleLocked()
}

// pendingEmit marks a step that is being delivered.
type pendingEmit struct{}

func (pendingEmit) Stop() bool { return false }
