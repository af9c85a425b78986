package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

const dayLayout = "2006-01-02"

// DailyCounter tracks messages sent against a per-day cap. One counter is
// shared by every Limiter in the process.
//
// A slot is pending from Reserve until the send settles. Only confirmed sends
// count against the cap: a caller that finds every free slot pending waits for
// one to settle instead of giving up.
type DailyCounter struct {
	mu      sync.Mutex
	settled *sync.Cond
	clock   crawler.Clock
	max     int
	day     string
	sent    int
	pending int
}

// NewDailyCounter creates a counter allowing limit sends per calendar day.
func NewDailyCounter(limit int, clock crawler.Clock) *DailyCounter {
	if limit < 0 {
		limit = 0
	}
	c := &DailyCounter{clock: clock, max: limit}
	c.settled = sync.NewCond(&c.mu)
	return c
}

// Reservation is a claimed send slot. Confirm it when the send succeeds and
// Release it when the send fails. Only the first call has any effect.
type Reservation struct {
	counter *DailyCounter
	day     string
	done    bool
}

// Reserve claims one send slot for today. It returns false once confirmed
// sends reach the cap or ctx is done.
func (c *DailyCounter) Reserve(ctx context.Context) (*Reservation, bool) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.settled.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		c.rollover()
		if ctx.Err() != nil || c.sent >= c.max {
			return nil, false
		}
		if c.sent+c.pending < c.max {
			c.pending++
			return &Reservation{counter: c, day: c.day}, true
		}
		c.settled.Wait()
	}
}

// Confirm counts the slot as a completed send.
func (r *Reservation) Confirm() {
	r.settle(true)
}

// Release returns the slot. Slots claimed on a previous day are dropped.
func (r *Reservation) Release() {
	r.settle(false)
}

func (r *Reservation) settle(sent bool) {
	if r == nil || r.counter == nil {
		return
	}
	c := r.counter
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	c.rollover()
	if c.day == r.day {
		if c.pending > 0 {
			c.pending--
		}
		if sent {
			c.sent++
		}
	}
	c.settled.Broadcast()
}

// Sent returns the number of confirmed sends today.
func (c *DailyCounter) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.sent
}

// Pending returns the number of slots claimed but not yet settled today.
func (c *DailyCounter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.pending
}

// Remaining returns how many slots are free to claim right now.
func (c *DailyCounter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.max - c.sent - c.pending
}

// Max returns the daily cap.
func (c *DailyCounter) Max() int {
	return c.max
}

func (c *DailyCounter) rollover() {
	now := time.Now()
	if c.clock != nil {
		now = c.clock.Now()
	}
	today := now.Format(dayLayout)
	if today != c.day {
		c.day = today
		c.sent = 0
		c.pending = 0
	}
}
