package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/log"
	"github.com/CZERTAINLY/jqplay/internal/model"
)

const (
	DefaultMinWorkers  = 2
	DefaultMaxWorkers  = 4
	DefaultIdleTimeout = 30 * time.Second
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	c.MinWorkers = min(c.MinWorkers, c.MaxWorkers)
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

type slot struct {
	worker    Worker
	state     WorkerState
	requestID string
	idleSince time.Time
}

// grant is handed to the oldest waiter: either a worker or the right to
// spawn one.
type grant struct {
	slot   *slot
	spawn  bool
	closed bool
}

type Pool struct {
	spawner Spawner
	cfg     Config
	now     func() time.Time

	mx      sync.Mutex
	slots   map[string]*slot // idle and busy workers
	dying   map[string]*slot
	idle    []*slot // LIFO, oldest first
	live    int     // len(slots) plus spawns in progress
	waiters list.List
	closed  bool

	reapers sync.WaitGroup
}

// New returns an empty pool, workers are spawned on demand or by Maintain.
func New(spawner Spawner, cfg Config) *Pool {
	return &Pool{
		spawner: spawner,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		slots:   make(map[string]*slot),
		dying:   make(map[string]*slot),
	}
}

type reply struct {
	text string
	err  error
}

// Submit evaluates req on a worker and returns its outcome. It blocks until
// the reply arrives, req.Timeout elapses after dispatch, the worker faults
// or ctx is done.
func (p *Pool) Submit(ctx context.Context, req model.ExecutionRequest) model.Outcome {
	if req.Timeout <= 0 {
		return model.Failed("timeout must be positive")
	}
	ctx = log.ContextAttrs(ctx, slog.String("request_id", req.ID))

	s, err := p.acquire(ctx)
	if err != nil {
		slog.DebugContext(ctx, "no worker acquired", "error", err)
		return model.Failed(err.Error())
	}
	ctx = log.ContextAttrs(ctx, slog.String("worker_id", s.worker.ID()))

	p.mx.Lock()
	s.requestID = req.ID
	p.mx.Unlock()

	// ends on its own once the worker replies or is killed
	done := make(chan reply, 1)
	go func() {
		out, err := s.worker.Evaluate(context.WithoutCancel(ctx), req)
		done <- reply{text: out.Text(), err: err}
	}()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			slog.WarnContext(ctx, "worker failed", "error", r.err)
			p.discard(s)
			return model.Failed(r.err.Error())
		}
		p.release(s)
		return model.Success(r.text)
	case <-timer.C:
		slog.InfoContext(ctx, "query timed out: killing worker", "timeout", req.Timeout)
		p.discard(s)
		return model.TimedOut()
	case <-ctx.Done():
		slog.DebugContext(ctx, "caller gone: killing worker", "error", ctx.Err())
		p.discard(s)
		return model.Failed(ctx.Err().Error())
	}
}

func (p *Pool) acquire(ctx context.Context) (*slot, error) {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return nil, ErrClosed
	}
	if s := p.popIdleLocked(); s != nil {
		p.mx.Unlock()
		return s, nil
	}
	if p.live < p.cfg.MaxWorkers {
		p.live++
		p.mx.Unlock()
		return p.spawn(ctx)
	}
	ch := make(chan grant, 1)
	el := p.waiters.PushBack(ch)
	p.mx.Unlock()

	select {
	case g := <-ch:
		return p.take(ctx, g)
	case <-ctx.Done():
		p.mx.Lock()
		select {
		case g := <-ch:
			// granted while giving up, pass it on
			p.mx.Unlock()
			p.giveBack(g)
		default:
			p.waiters.Remove(el)
			p.mx.Unlock()
		}
		return nil, ctx.Err()
	}
}

func (p *Pool) take(ctx context.Context, g grant) (*slot, error) {
	switch {
	case g.closed:
		return nil, ErrClosed
	case g.spawn:
		return p.spawn(ctx)
	default:
		return g.slot, nil
	}
}

func (p *Pool) giveBack(g grant) {
	switch {
	case g.slot != nil:
		p.release(g.slot)
	case g.spawn:
		p.mx.Lock()
		p.live--
		p.passPermitLocked()
		p.mx.Unlock()
	}
}

// popIdleLocked returns the most recently parked worker still alive.
func (p *Pool) popIdleLocked() *slot {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		s := p.idle[n]
		p.idle = p.idle[:n]
		select {
		case <-s.worker.Done():
			// died while idle
			s.state = StateTerminating
			delete(p.slots, s.worker.ID())
			p.live--
			continue
		default:
		}
		s.state = StateBusy
		return s
	}
	return nil
}

// spawn creates a worker for a live slot already reserved by the caller.
func (p *Pool) spawn(ctx context.Context) (*slot, error) {
	w, err := p.spawner.Spawn(ctx)
	if err != nil {
		p.mx.Lock()
		p.live--
		p.passPermitLocked()
		p.mx.Unlock()
		return nil, fmt.Errorf("spawning worker: %w", err)
	}

	p.mx.Lock()
	if p.closed {
		p.live--
		p.mx.Unlock()
		w.Kill()
		<-w.Done()
		return nil, ErrClosed
	}
	s := &slot{worker: w, state: StateBusy}
	p.slots[w.ID()] = s
	p.mx.Unlock()
	slog.DebugContext(ctx, "worker spawned", "worker_id", w.ID())
	return s, nil
}

// release returns a healthy worker: to the oldest waiter if any, otherwise
// to the idle set.
func (p *Pool) release(s *slot) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if s.state == StateTerminating {
		return
	}
	s.requestID = ""
	if front := p.waiters.Front(); front != nil {
		ch := p.waiters.Remove(front).(chan grant)
		s.state = StateBusy
		ch <- grant{slot: s}
		return
	}
	s.state = StateIdle
	s.idleSince = p.now()
	p.idle = append(p.idle, s)
}

// discard kills the worker without waiting and frees its place in the pool.
func (p *Pool) discard(s *slot) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if s.state == StateTerminating {
		return
	}
	s.state = StateTerminating
	delete(p.slots, s.worker.ID())
	p.live--
	p.reapLocked(s)
	p.passPermitLocked()
}

// reapLocked kills s in the background and tracks it until it is gone.
func (p *Pool) reapLocked(s *slot) {
	id := s.worker.ID()
	p.dying[id] = s
	p.reapers.Go(func() {
		s.worker.Kill()
		<-s.worker.Done()
		p.mx.Lock()
		delete(p.dying, id)
		p.mx.Unlock()
		slog.Debug("worker reaped", "worker_id", id)
	})
}

// passPermitLocked lets the oldest waiter spawn a replacement when there is
// room for it.
func (p *Pool) passPermitLocked() {
	if p.closed || p.live >= p.cfg.MaxWorkers {
		return
	}
	front := p.waiters.Front()
	if front == nil {
		return
	}
	ch := p.waiters.Remove(front).(chan grant)
	p.live++
	ch <- grant{spawn: true}
}

// Maintain kills workers idle for longer than IdleTimeout while more than
// MinWorkers are alive, and spawns workers until MinWorkers are alive.
func (p *Pool) Maintain(ctx context.Context) error {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return ErrClosed
	}
	now := p.now()
	keep := make([]*slot, 0, len(p.idle))
	reaped := 0
	for _, s := range p.idle {
		if p.live > p.cfg.MinWorkers && now.Sub(s.idleSince) >= p.cfg.IdleTimeout {
			s.state = StateTerminating
			delete(p.slots, s.worker.ID())
			p.live--
			p.reapLocked(s)
			reaped++
			continue
		}
		keep = append(keep, s)
	}
	p.idle = keep
	missing := max(p.cfg.MinWorkers-p.live, 0)
	p.live += missing
	p.mx.Unlock()

	if reaped > 0 {
		slog.DebugContext(ctx, "idle workers terminated", "count", reaped)
	}

	var errs []error
	for range missing {
		s, err := p.spawn(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.release(s)
	}
	return errors.Join(errs...)
}

type WorkerStats struct {
	ID        string
	State     WorkerState
	RequestID string
}

func (w WorkerStats) String() string {
	if w.State == StateBusy && w.RequestID != "" {
		return fmt.Sprintf("%s:busy(%s)", w.ID, w.RequestID)
	}
	return w.ID + ":" + w.State.String()
}

type Stats struct {
	Live        int
	Idle        int
	Busy        int
	Spawning    int
	Terminating int
	Waiting     int
	Workers     []WorkerStats
}

func (s Stats) String() string {
	ws := make([]string, len(s.Workers))
	for i, w := range s.Workers {
		ws[i] = w.String()
	}
	return fmt.Sprintf("live=%d idle=%d busy=%d spawning=%d terminating=%d waiting=%d [%s]",
		s.Live, s.Idle, s.Busy, s.Spawning, s.Terminating, s.Waiting, strings.Join(ws, " "))
}

// Stats is a snapshot of the pool, workers sorted by id.
func (p *Pool) Stats() Stats {
	p.mx.Lock()
	defer p.mx.Unlock()
	st := Stats{
		Live:        len(p.slots),
		Spawning:    p.live - len(p.slots),
		Terminating: len(p.dying),
		Waiting:     p.waiters.Len(),
	}
	for _, m := range []map[string]*slot{p.slots, p.dying} {
		for id, s := range m {
			switch s.state {
			case StateIdle:
				st.Idle++
			case StateBusy:
				st.Busy++
			}
			st.Workers = append(st.Workers, WorkerStats{ID: id, State: s.state, RequestID: s.requestID})
		}
	}
	slices.SortFunc(st.Workers, func(a, b WorkerStats) int { return strings.Compare(a.ID, b.ID) })
	return st
}

// Close kills all workers, rejects queued and future submits and waits until
// every worker is gone.
func (p *Pool) Close() {
	p.mx.Lock()
	if !p.closed {
		p.closed = true
		for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
			p.waiters.Remove(e).(chan grant) <- grant{closed: true}
		}
		for id, s := range p.slots {
			s.state = StateTerminating
			delete(p.slots, id)
			p.live--
			p.reapLocked(s)
		}
		p.idle = nil
	}
	p.mx.Unlock()
	p.reapers.Wait()
}
