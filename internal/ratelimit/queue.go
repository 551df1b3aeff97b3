package ratelimit

import (
	"context"
	"time"
)

// Work is one unit submitted to the limiter
type Work func(ctx context.Context) error

type entry struct {
	id        string
	priority  Priority
	work      Work
	ctx       context.Context
	retries   int
	created   time.Time
	notBefore time.Time
	done      chan error
	cancelled bool
}

// core is the limiter's queue and sliding admission log. It is not safe for
// concurrent use; the limiter loop is its only caller.
type core struct {
	cfg      Config
	queue    []*entry
	admitted []time.Time
	inflight map[string]*entry
	stats    Stats
}

func newCore(cfg Config) *core {
	return &core{cfg: cfg, inflight: make(map[string]*entry)}
}

// enqueue inserts e behind every entry of the same or higher priority
func (c *core) enqueue(e *entry, now time.Time) error {
	if len(c.queue) >= c.cfg.MaxQueueDepth {
		c.stats.Rejected++
		return ErrQueueFull
	}
	if e.created.IsZero() {
		e.created = now
	}

	pos := len(c.queue)
	for i, q := range c.queue {
		if q.priority < e.priority {
			pos = i
			break
		}
	}
	c.queue = append(c.queue, nil)
	copy(c.queue[pos+1:], c.queue[pos:])
	c.queue[pos] = e
	c.stats.Submitted++
	return nil
}

// requeue puts a throttled entry back at the front, not eligible until its backoff elapses
func (c *core) requeue(e *entry, now time.Time, retryAfter time.Duration) {
	delete(c.inflight, e.id)
	e.retries++
	wait := c.backoff(e.retries)
	if retryAfter > wait {
		wait = retryAfter
	}
	e.notBefore = now.Add(wait)
	c.queue = append([]*entry{e}, c.queue...)
	c.stats.Retried++
}

// backoff is base * 2^(retries-1), capped at the configured maximum
func (c *core) backoff(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	wait := c.cfg.BaseBackoff
	for i := 1; i < retries; i++ {
		wait *= 2
		if wait >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if wait > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return wait
}

// prune drops admissions that have left the rolling window
func (c *core) prune(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	i := 0
	for i < len(c.admitted) && !c.admitted[i].After(cutoff) {
		i++
	}
	c.admitted = c.admitted[i:]
}

// tick admits eligible entries, in queue order, while the window has capacity
func (c *core) tick(now time.Time) []*entry {
	c.prune(now)

	var ready []*entry
	for len(c.admitted) < c.cfg.MaxRequests {
		idx := -1
		for i, e := range c.queue {
			if !e.notBefore.After(now) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		e := c.queue[idx]
		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		c.admitted = append(c.admitted, now)
		c.inflight[e.id] = e
		ready = append(ready, e)
	}
	return ready
}

// cancel releases the queue slot of a timed-out entry
func (c *core) cancel(id string) bool {
	for i, e := range c.queue {
		if e.id == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.stats.TimedOut++
			return true
		}
	}
	if e, ok := c.inflight[id]; ok {
		e.cancelled = true
		c.stats.TimedOut++
		return true
	}
	return false
}

// complete records the end of an in-flight attempt
func (c *core) complete(id string) {
	delete(c.inflight, id)
}

func (c *core) snapshot(now time.Time) Stats {
	c.prune(now)
	s := c.stats
	s.QueueDepth = len(c.queue)
	s.InFlight = len(c.inflight)
	s.AdmittedInWindow = len(c.admitted)
	s.MaxRequests = c.cfg.MaxRequests
	s.Window = c.cfg.Window.String()
	return s
}
