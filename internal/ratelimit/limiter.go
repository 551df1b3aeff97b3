package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

var (
	// ErrQueueFull is returned when a submission arrives at max queue depth
	ErrQueueFull = errors.New("rate limiter queue is full")
	// ErrLimiterStopped is returned once the limiter loop has exited
	ErrLimiterStopped = errors.New("rate limiter stopped")
)

// Config bounds calls to an external service
type Config struct {
	MaxRequests   int
	Window        time.Duration
	TickInterval  time.Duration
	MaxQueueDepth int
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	Timeout       time.Duration
}

// Stats is a point-in-time view of the limiter
type Stats struct {
	QueueDepth       int    `json:"queueDepth"`
	InFlight         int    `json:"inFlight"`
	AdmittedInWindow int    `json:"admittedInWindow"`
	MaxRequests      int    `json:"maxRequests"`
	Window           string `json:"window"`
	Submitted        int64  `json:"submitted"`
	Completed        int64  `json:"completed"`
	Failed           int64  `json:"failed"`
	Retried          int64  `json:"retried"`
	Exhausted        int64  `json:"exhausted"`
	Rejected         int64  `json:"rejected"`
	TimedOut         int64  `json:"timedOut"`
}

type submitRequest struct {
	entry *entry
	reply chan error
}

type result struct {
	entry *entry
	err   error
}

// Limiter schedules work under a rolling-window ceiling. All queue state is
// owned by the goroutine running Run.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	logger logger.Logger

	core     *core
	submitCh chan submitRequest
	resultCh chan result
	cancelCh chan string
	statsCh  chan chan Stats
	stopped  chan struct{}
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter; call Run to start scheduling
func New(cfg Config, log logger.Logger, opts ...Option) (*Limiter, error) {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 || cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("rate limiter requires a positive ceiling, window and tick")
	}
	if cfg.MaxQueueDepth <= 0 {
		return nil, fmt.Errorf("rate limiter requires a positive queue depth")
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if log == nil {
		log = logger.NewNoop()
	}

	l := &Limiter{
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithFields(map[string]interface{}{"component": "ratelimit"}),
		core:     newCore(cfg),
		submitCh: make(chan submitRequest),
		resultCh: make(chan result),
		cancelCh: make(chan string),
		statsCh:  make(chan chan Stats),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run drives the scheduler until ctx is cancelled
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	defer close(l.stopped)

	l.logger.Info(ctx, "Rate limiter started", map[string]interface{}{
		"max_requests": l.cfg.MaxRequests,
		"window":       l.cfg.Window.String(),
		"tick":         l.cfg.TickInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			for _, e := range l.core.queue {
				e.done <- ErrLimiterStopped
			}
			l.core.queue = nil
			l.logger.Info(context.Background(), "Rate limiter stopped", nil)
			return nil

		case req := <-l.submitCh:
			req.reply <- l.core.enqueue(req.entry, l.now())

		case <-ticker.C:
			for _, e := range l.core.tick(l.now()) {
				go l.dispatch(e)
			}

		case res := <-l.resultCh:
			l.handleResult(ctx, res)

		case id := <-l.cancelCh:
			l.core.cancel(id)

		case reply := <-l.statsCh:
			reply <- l.core.snapshot(l.now())
		}
	}
}

func (l *Limiter) dispatch(e *entry) {
	err := e.work(e.ctx)
	select {
	case l.resultCh <- result{entry: e, err: err}:
	case <-l.stopped:
		e.done <- err
	}
}

func (l *Limiter) handleResult(ctx context.Context, res result) {
	e := res.entry
	var throttled *ports.RateLimitError

	switch {
	case res.err == nil:
		l.core.complete(e.id)
		l.core.stats.Completed++
		e.done <- nil

	case errors.As(res.err, &throttled) && !e.cancelled:
		if e.retries >= l.cfg.MaxRetries {
			l.core.complete(e.id)
			l.core.stats.Exhausted++
			l.logger.Warn(ctx, "Rate limit retries exhausted", map[string]interface{}{
				"entry_id": e.id,
				"retries":  e.retries,
			})
			e.done <- domain.NewCommandError(domain.KindRateLimited,
				"the AI service is over its request limit", res.err,
				"wait a minute and try again")
			return
		}
		l.core.requeue(e, l.now(), throttled.RetryAfter)
		l.logger.Debug(ctx, "Provider throttled, requeued", map[string]interface{}{
			"entry_id":   e.id,
			"retries":    e.retries,
			"not_before": e.notBefore.Format(time.RFC3339Nano),
		})

	default:
		l.core.complete(e.id)
		l.core.stats.Failed++
		e.done <- res.err
	}
}

// Submit queues work at the priority carried by ctx and waits for it to finish
func (l *Limiter) Submit(ctx context.Context, work Work) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tctx := ctx
	cancel := context.CancelFunc(func() {})
	if l.cfg.Timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
	}
	defer cancel()

	e := &entry{
		id:       uuid.NewString(),
		priority: PriorityFrom(ctx),
		work:     work,
		ctx:      tctx,
		done:     make(chan error, 1),
	}

	reply := make(chan error, 1)
	select {
	case l.submitCh <- submitRequest{entry: e, reply: reply}:
	case <-l.stopped:
		return ErrLimiterStopped
	case <-tctx.Done():
		return l.waitError(ctx, tctx)
	}

	if err := <-reply; err != nil {
		return err
	}

	select {
	case err := <-e.done:
		return err
	case <-tctx.Done():
		select {
		case l.cancelCh <- e.id:
		case <-l.stopped:
		}
		return l.waitError(ctx, tctx)
	}
}

func (l *Limiter) waitError(parent, tctx context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return domain.NewCommandError(domain.KindTimeout, "service busy", tctx.Err(),
		"the assistant is handling many requests, try again shortly")
}

// Stats returns a snapshot of queue and window state
func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case l.statsCh <- reply:
	case <-l.stopped:
		return Stats{}, ErrLimiterStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}
